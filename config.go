package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const defaultConfigDir = ".post-writer"

// Embedded configuration files
//
//go:embed config/settings.yaml
var defaultSettings string

//go:embed config/selection-system-prompt.md
var defaultSelectionPrompt string

//go:embed config/drafting-system-prompt.md
var defaultDraftingPrompt string

//go:embed config/extraction-system-prompt.md
var defaultExtractionPrompt string

//go:embed config/compression-system-prompt.md
var defaultCompressionPrompt string

// ConfigOverrides allows overriding the settings file and embedded prompts with file paths
type ConfigOverrides struct {
	SettingsPath        *string
	SelectionPromptPath *string
	DraftingPromptPath  *string
}

// Settings represents the YAML configuration structure
type Settings struct {
	Account struct {
		Handle    string `yaml:"handle"`
		CreatedAt string `yaml:"created_at"`
	} `yaml:"account"`
	Language    string   `yaml:"language"`
	Topics      []string `yaml:"topics"`
	Influencers []string `yaml:"influencers"`
	Collection  struct {
		TopicMaxResults      int           `yaml:"topic_max_results"`
		InfluencerMaxResults int           `yaml:"influencer_max_results"`
		HistoryMaxResults    int           `yaml:"history_max_results"`
		TopK                 int           `yaml:"top_k"`
		InfluencerLookback   time.Duration `yaml:"influencer_lookback"`
		HistoryLookback      time.Duration `yaml:"history_lookback"`
	} `yaml:"collection"`
	Synthesis struct {
		Provider    string  `yaml:"provider"`
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		Framing     string  `yaml:"framing"`
		Prompts     struct {
			Selection   string `yaml:"selection"`
			Drafting    string `yaml:"drafting"`
			Extraction  string `yaml:"extraction"`
			Compression string `yaml:"compression"`
		} `yaml:"prompts"`
	} `yaml:"synthesis"`
	Length struct {
		Limit             int `yaml:"limit"`
		DraftBudget       int `yaml:"draft_budget"`
		MaxAttempts       int `yaml:"max_attempts"`
		CompressMaxTokens int `yaml:"compress_max_tokens"`
	} `yaml:"length"`
	Schedule struct {
		PostsPerDay int   `yaml:"posts_per_day"`
		RunOnStart  *bool `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Publish struct {
		DryRun bool `yaml:"dry_run"`
	} `yaml:"publish"`
	Client ClientSettings `yaml:"client"`
	Lock   struct {
		RedisURL string        `yaml:"redis_url"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"lock"`
	Metrics struct {
		Address string `yaml:"address"`
	} `yaml:"metrics"`
}

// ClientSettings configures the boundary clients
type ClientSettings struct {
	PlatformURL string        `yaml:"platform_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

func (c ClientSettings) retrySettings() RetrySettings {
	return RetrySettings{MaxRetries: c.MaxRetries, BaseDelay: c.BaseDelay, MaxDelay: c.MaxDelay}
}

// Credentials holds secrets read from the environment
type Credentials struct {
	Platform     PlatformCredentials
	OpenAIKey    string
	AnthropicKey string
}

// Normalize applies defaults for unset values
func (s *Settings) Normalize() {
	s.Account.Handle = strings.TrimPrefix(strings.TrimSpace(s.Account.Handle), "@")
	if s.Language == "" {
		s.Language = "en"
	}
	s.Topics = cleanList(s.Topics, false)
	s.Influencers = cleanList(s.Influencers, true)

	c := &s.Collection
	if c.TopicMaxResults <= 0 {
		c.TopicMaxResults = 100
	}
	if c.InfluencerMaxResults <= 0 {
		c.InfluencerMaxResults = 10
	}
	if c.HistoryMaxResults <= 0 {
		c.HistoryMaxResults = 10
	}
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.InfluencerLookback <= 0 {
		c.InfluencerLookback = 24 * time.Hour
	}
	if c.HistoryLookback <= 0 {
		c.HistoryLookback = 7 * 24 * time.Hour
	}

	if s.Synthesis.Provider == "" {
		s.Synthesis.Provider = ProviderOpenAI
	}
	if s.Synthesis.Model == "" {
		s.Synthesis.Model = "gpt-3.5-turbo"
	}
	if s.Synthesis.MaxTokens <= 0 {
		s.Synthesis.MaxTokens = 4000
	}

	if s.Length.Limit <= 0 {
		s.Length.Limit = defaultLengthLimit
	}
	if s.Length.DraftBudget <= 0 || s.Length.DraftBudget > s.Length.Limit {
		s.Length.DraftBudget = s.Length.Limit - 10
	}
	if s.Length.MaxAttempts <= 0 {
		s.Length.MaxAttempts = defaultMaxCompressions
	}
	if s.Length.CompressMaxTokens <= 0 {
		s.Length.CompressMaxTokens = 500
	}

	if s.Schedule.PostsPerDay == 0 {
		s.Schedule.PostsPerDay = 1
	}
	if s.Schedule.RunOnStart == nil {
		runOnStart := true
		s.Schedule.RunOnStart = &runOnStart
	}

	if s.Client.Timeout <= 0 {
		s.Client.Timeout = 30 * time.Second
	}
	if s.Client.MaxRetries < 0 || s.Client.MaxRetries > 3 {
		s.Client.MaxRetries = 3
	}
	if s.Lock.TTL <= 0 {
		s.Lock.TTL = 10 * time.Minute
	}
}

// Validate rejects settings the pipeline cannot run with
func (s *Settings) Validate() error {
	if s.Account.Handle == "" {
		return fmt.Errorf("account.handle is required")
	}
	if len(s.Topics) == 0 && len(s.Influencers) == 0 {
		return fmt.Errorf("at least one topic or influencer is required")
	}
	if s.Schedule.PostsPerDay < 1 {
		return fmt.Errorf("schedule.posts_per_day must be at least 1, got %d", s.Schedule.PostsPerDay)
	}
	if s.Length.Limit < 1 {
		return fmt.Errorf("length.limit must be positive")
	}
	switch s.Synthesis.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("synthesis.provider must be %q or %q, got %q", ProviderOpenAI, ProviderAnthropic, s.Synthesis.Provider)
	}
	if _, err := s.AccountCreatedAt(); err != nil {
		return err
	}
	return nil
}

// AccountCreatedAt returns the configured creation instant of the operating account, if any
func (s *Settings) AccountCreatedAt() (time.Time, error) {
	if s.Account.CreatedAt == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s.Account.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("account.created_at must be RFC3339: %w", err)
	}
	return t, nil
}

// RunOnStart reports whether a run is dispatched immediately at startup
func (s *Settings) RunOnStart() bool {
	return s.Schedule.RunOnStart == nil || *s.Schedule.RunOnStart
}

// LoadSettings reads settings (explicit path, or the default location seeded from the
// embedded file), applies environment overrides, defaults and validation
func LoadSettings(overrides *ConfigOverrides) (*Settings, error) {
	var settings *Settings
	var err error
	if overrides != nil && overrides.SettingsPath != nil {
		settings, err = loadSettingsRequired(*overrides.SettingsPath)
	} else {
		if err := ensureConfigExists(); err != nil {
			return nil, fmt.Errorf("ensuring config files exist: %w", err)
		}
		settings, err = loadSettingsRequired(getConfigPath("settings.yaml"))
	}
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	if err := applyEnvOverrides(settings, newEnv()); err != nil {
		return nil, err
	}
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

func loadSettingsRequired(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file %s: %w", path, err)
	}
	return parseSettings(data)
}

func parseSettings(data []byte) (*Settings, error) {
	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing settings YAML: %w", err)
	}
	return &settings, nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

// applyEnvOverrides maps the bot's environment variables onto settings
func applyEnvOverrides(s *Settings, v *viper.Viper) error {
	if val := v.GetString("MY_TWITTER_NAME"); val != "" {
		s.Account.Handle = val
	}
	if val := v.GetString("SEARCH_TOPICS"); val != "" {
		s.Topics = strings.Split(val, ",")
	}
	if val := v.GetString("KEY_INFLUENCERS"); val != "" {
		s.Influencers = strings.Split(val, ",")
	}
	if val := v.GetString("SCHEDULED_TWEETS_PER_DAY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("SCHEDULED_TWEETS_PER_DAY must be an integer: %w", err)
		}
		s.Schedule.PostsPerDay = n
	}
	if val := v.GetString("TWITTER_ACCOUNT_CONTEXT"); val != "" {
		s.Synthesis.Framing = val
	}
	if val := v.GetString("MODEL"); val != "" {
		s.Synthesis.Model = val
	}
	if val := v.GetString("BASE_URL"); val != "" {
		s.Synthesis.BaseURL = val
	}
	if val := v.GetString("TEMPERATURE"); val != "" {
		t, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("TEMPERATURE must be a number: %w", err)
		}
		s.Synthesis.Temperature = t
	}
	return nil
}

// LoadCredentials reads secrets from the environment
func LoadCredentials() Credentials {
	return credentialsFrom(newEnv())
}

func credentialsFrom(v *viper.Viper) Credentials {
	return Credentials{
		Platform: PlatformCredentials{
			BearerToken:       v.GetString("TWITTER_BEARER_TOKEN"),
			APIKey:            v.GetString("TWITTER_API_KEY"),
			APISecret:         v.GetString("TWITTER_API_SECRET"),
			AccessToken:       v.GetString("TWITTER_ACCESS_TOKEN"),
			AccessTokenSecret: v.GetString("TWITTER_ACCESS_TOKEN_SECRET"),
		},
		OpenAIKey:    v.GetString("OPENAI_API_KEY"),
		AnthropicKey: v.GetString("ANTHROPIC_API_KEY"),
	}
}

// Validate checks the secrets required by the selected provider and publishing mode
func (c Credentials) Validate(s *Settings) error {
	if c.Platform.BearerToken == "" {
		return fmt.Errorf("TWITTER_BEARER_TOKEN is required")
	}
	if !s.Publish.DryRun {
		p := c.Platform
		if p.APIKey == "" || p.APISecret == "" || p.AccessToken == "" || p.AccessTokenSecret == "" {
			return fmt.Errorf("TWITTER_API_KEY, TWITTER_API_SECRET, TWITTER_ACCESS_TOKEN and TWITTER_ACCESS_TOKEN_SECRET are required to publish")
		}
	}
	if s.Synthesis.Provider == ProviderAnthropic && c.AnthropicKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
	}
	if s.Synthesis.Provider == ProviderOpenAI && c.OpenAIKey == "" && s.Synthesis.BaseURL == "" {
		return fmt.Errorf("OPENAI_API_KEY is required unless base_url points at a compatible server")
	}
	return nil
}

// PromptTexts holds the system prompt templates for each model call
type PromptTexts struct {
	Selection   string
	Drafting    string
	Extraction  string
	Compression string
}

// LoadPrompts returns prompt texts, preferring CLI overrides, then settings paths, then embedded defaults
func LoadPrompts(s *Settings, overrides *ConfigOverrides) (PromptTexts, error) {
	selectionPath := s.Synthesis.Prompts.Selection
	draftingPath := s.Synthesis.Prompts.Drafting
	if overrides != nil && overrides.SelectionPromptPath != nil {
		selectionPath = *overrides.SelectionPromptPath
	}
	if overrides != nil && overrides.DraftingPromptPath != nil {
		draftingPath = *overrides.DraftingPromptPath
	}

	var prompts PromptTexts
	var err error
	if prompts.Selection, err = readPrompt(selectionPath, defaultSelectionPrompt); err != nil {
		return prompts, err
	}
	if prompts.Drafting, err = readPrompt(draftingPath, defaultDraftingPrompt); err != nil {
		return prompts, err
	}
	if prompts.Extraction, err = readPrompt(s.Synthesis.Prompts.Extraction, defaultExtractionPrompt); err != nil {
		return prompts, err
	}
	if prompts.Compression, err = readPrompt(s.Synthesis.Prompts.Compression, defaultCompressionPrompt); err != nil {
		return prompts, err
	}
	return prompts, nil
}

// readPrompt reads an explicitly configured prompt file, which must exist
func readPrompt(path, fallback string) (string, error) {
	if path == "" {
		return strings.TrimSpace(fallback), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// getConfigPath returns the path to a config file in the config directory
func getConfigPath(filename string) string {
	return filepath.Join(defaultConfigDir, filename)
}

// ensureConfigExists creates the config directory and writes settings.yaml if needed
func ensureConfigExists() error {
	if err := os.MkdirAll(defaultConfigDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	settingsFile := getConfigPath("settings.yaml")
	if _, err := os.Stat(settingsFile); os.IsNotExist(err) {
		if err := os.WriteFile(settingsFile, []byte(defaultSettings), 0644); err != nil {
			return fmt.Errorf("writing settings.yaml: %w", err)
		}
	}
	return nil
}

// cleanList trims entries and drops blanks and duplicates
func cleanList(items []string, handles bool) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if handles {
			item = strings.TrimPrefix(item, "@")
		}
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
