package main

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultLengthLimit     = 280
	defaultMaxCompressions = 5
)

// ErrLengthNotConverged is returned when compression never brings the text under the limit
var ErrLengthNotConverged = errors.New("text did not fit the length limit")

// PostLength counts code points after NFC normalization, the unit the platform limit uses
func PostLength(text string) int {
	return utf8.RuneCountInString(norm.NFC.String(text))
}

// LengthEnforcer compresses text with the model until it fits the limit
type LengthEnforcer struct {
	completer   Completer
	prompts     *Prompts
	model       ModelSettings
	limit       int
	maxAttempts int
	logger      *logrus.Entry
}

// NewLengthEnforcer creates an enforcer allowing at most maxAttempts compressions
func NewLengthEnforcer(completer Completer, prompts *Prompts, model ModelSettings, limit, maxAttempts int, logger *logrus.Entry) *LengthEnforcer {
	if limit <= 0 {
		limit = defaultLengthLimit
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxCompressions
	}
	return &LengthEnforcer{
		completer:   completer,
		prompts:     prompts,
		model:       model,
		limit:       limit,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Enforce returns text within the limit. Text already within it is returned unchanged.
func (e *LengthEnforcer) Enforce(ctx context.Context, text string) (string, error) {
	system, err := render(e.prompts.compression, promptData{Limit: e.limit})
	if err != nil {
		return "", err
	}

	attempts := 0
	for PostLength(text) > e.limit {
		if attempts == e.maxAttempts {
			compressionAttempts.Observe(float64(attempts))
			return "", fmt.Errorf("%w: still %d > %d after %d attempts", ErrLengthNotConverged, PostLength(text), e.limit, attempts)
		}
		attempts++
		e.logger.WithFields(logrus.Fields{"length": PostLength(text), "limit": e.limit, "attempt": attempts}).Info("Post is too long, compressing")

		text, err = completeStage(ctx, e.completer, StageCompression, CompletionRequest{
			Messages:    chat(system, text),
			Model:       e.model.Model,
			MaxTokens:   e.model.MaxTokens,
			Temperature: e.model.Temperature,
		})
		if err != nil {
			stageFailures.WithLabelValues(string(StageCompression)).Inc()
			return "", err
		}
	}

	compressionAttempts.Observe(float64(attempts))
	return text, nil
}
