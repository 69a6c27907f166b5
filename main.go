package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configFile          string
	selectionPromptPath string
	draftingPromptPath  string
	logFormat           string
	debugMode           bool
	dryRun              bool
)

var rootCmd = &cobra.Command{
	Use:   "post-writer",
	Short: "Autonomous post curation and publishing",
	Long: `Collects recent posts about configured topics and accounts, asks a language model
to pick the most important one, writes a new post about it and publishes it on a daily schedule.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		schedule := &Schedule{}
		if err := schedule.Rebuild(app.settings.Schedule.PostsPerDay); err != nil {
			return err
		}
		app.logger.WithField("slots", schedule.Slots()).Info("Post writer is running")

		if app.settings.Metrics.Address != "" {
			ServeMetrics(cmd.Context(), app.settings.Metrics.Address, app.logger)
		}

		runner := NewRunner(app.dispatcher.Dispatch, schedule, app.settings.RunOnStart(), app.logger)
		return runner.Run(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		result := app.dispatcher.Dispatch(cmd.Context())
		if result.Status == StatusAborted || result.Status == StatusPublishFailed {
			return fmt.Errorf("run %s %s: %w", result.RunID, result.Status, result.Error)
		}
		if result.Text != "" {
			fmt.Println(result.Text)
		}
		return nil
	},
}

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Print the daily publishing slots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := LoadSettings(configOverrides())
		if err != nil {
			return err
		}
		slots, err := Slots(settings.Schedule.PostsPerDay)
		if err != nil {
			return err
		}
		for _, slot := range slots {
			fmt.Println(slot)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to settings file (default .post-writer/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&selectionPromptPath, "selection-prompt", "", "Path to custom selection prompt file")
	rootCmd.PersistentFlags().StringVar(&draftingPromptPath, "drafting-prompt", "", "Path to custom drafting prompt file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Generate posts without publishing")

	rootCmd.AddCommand(runCmd, slotsCmd)
}

func configOverrides() *ConfigOverrides {
	overrides := &ConfigOverrides{}
	if configFile != "" {
		overrides.SettingsPath = &configFile
	}
	if selectionPromptPath != "" {
		overrides.SelectionPromptPath = &selectionPromptPath
	}
	if draftingPromptPath != "" {
		overrides.DraftingPromptPath = &draftingPromptPath
	}
	return overrides
}

// app holds the constructed clients for one process
type app struct {
	settings   *Settings
	logger     Logger
	dispatcher *Dispatcher
	closers    []func() error
}

func newApp(ctx context.Context) (*app, error) {
	logger := NewLogger(logFormat, debugMode)
	overrides := configOverrides()

	settings, err := LoadSettings(overrides)
	if err != nil {
		return nil, err
	}
	if dryRun {
		settings.Publish.DryRun = true
	}

	creds := LoadCredentials()
	if err := creds.Validate(settings); err != nil {
		return nil, fmt.Errorf("missing credentials: %w", err)
	}

	texts, err := LoadPrompts(settings, overrides)
	if err != nil {
		return nil, err
	}
	prompts, err := ParsePrompts(texts)
	if err != nil {
		return nil, err
	}

	completer, err := NewCompleter(settings, creds)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	platform := NewXClient(settings.Client.PlatformURL, creds.Platform, settings.Client.Timeout, settings.Client.retrySettings())

	a := &app{settings: settings, logger: logger}
	var lock RunLock
	if settings.Lock.RedisURL != "" {
		redisLock, err := NewRedisLock(ctx, settings.Lock.RedisURL, settings.Lock.TTL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, redisLock.Close)
		lock = redisLock
	}

	a.dispatcher = NewDispatcher(settings, platform, completer, prompts, lock, logger)
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.WithError(err).Warn("Closing resource")
		}
	}
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
