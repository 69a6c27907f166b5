package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
	llmerrors "github.com/aktagon/llmkit/errors"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Provider names accepted in settings
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Message is a single chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is one chat completion call
type CompletionRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// Completer is the language-model capability consumed by the pipeline
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// chat builds the {system, user} message pair every stage sends
func chat(system, user string) []Message {
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// OpenAICompleter calls any OpenAI-compatible chat completions endpoint
type OpenAICompleter struct {
	client *openai.Client
	retry  RetrySettings
}

// NewOpenAICompleter creates a completer; baseURL may point at a compatible server
func NewOpenAICompleter(apiKey, baseURL string, timeout time.Duration, retry RetrySettings) *OpenAICompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAICompleter{client: &client, retry: retry}
}

// Complete sends the messages and returns the first choice
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := withRetry(ctx, c.retry, func() (*openai.ChatCompletion, error) {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &HTTPError{StatusCode: apiErr.StatusCode, URL: "/chat/completions", Body: preview(apiErr.Message, 200)}
		}
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

// AnthropicCompleter calls the Anthropic messages API through llmkit
type AnthropicCompleter struct {
	apiKey  string
	timeout time.Duration
	retry   RetrySettings
	prompt  func(system, user string, settings types.RequestSettings) (*types.AnthropicResponse, error)
}

// NewAnthropicCompleter creates a completer for the given API key.
// Each request is abandoned after timeout.
func NewAnthropicCompleter(apiKey string, timeout time.Duration, retry RetrySettings) (*AnthropicCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	c := &AnthropicCompleter{apiKey: apiKey, timeout: timeout, retry: retry}
	c.prompt = func(system, user string, settings types.RequestSettings) (*types.AnthropicResponse, error) {
		return anthropic.PromptWithSettings(system, user, "", c.apiKey, settings)
	}
	return c, nil
}

// Complete folds system messages into the system prompt and user messages into one prompt
func (c *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var system, user []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
		} else {
			user = append(user, m.Content)
		}
	}

	settings := types.RequestSettings{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	text, err := withRetry(ctx, c.retry, func() (string, error) {
		response, err := c.call(ctx, strings.Join(system, "\n\n"), strings.Join(user, "\n\n"), settings)
		var apiErr *llmerrors.APIError
		if errors.As(err, &apiErr) {
			return "", &HTTPError{StatusCode: apiErr.StatusCode, URL: apiErr.Endpoint, Body: preview(apiErr.Message, 200)}
		}
		if err != nil {
			return "", err
		}
		if len(response.Content) == 0 {
			return "", fmt.Errorf("no content in response")
		}
		return response.Content[0].Text, nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	return text, nil
}

// call bounds one llmkit request by the client timeout and ctx.
// llmkit takes no context, so an abandoned request finishes in the background.
func (c *AnthropicCompleter) call(ctx context.Context, system, user string, settings types.RequestSettings) (*types.AnthropicResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type result struct {
		response *types.AnthropicResponse
		err      error
	}
	done := make(chan result, 1)
	go func() {
		response, err := c.prompt(system, user, settings)
		done <- result{response, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for anthropic response: %w", ctx.Err())
	case r := <-done:
		return r.response, r.err
	}
}

// NewCompleter builds the completer selected by settings
func NewCompleter(s *Settings, creds Credentials) (Completer, error) {
	retry := s.Client.retrySettings()
	switch s.Synthesis.Provider {
	case ProviderOpenAI:
		return NewOpenAICompleter(creds.OpenAIKey, s.Synthesis.BaseURL, s.Client.Timeout, retry), nil
	case ProviderAnthropic:
		return NewAnthropicCompleter(creds.AnthropicKey, s.Client.Timeout, retry)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", s.Synthesis.Provider)
	}
}
