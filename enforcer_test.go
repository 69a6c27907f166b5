package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnforcer(c Completer) *LengthEnforcer {
	return NewLengthEnforcer(c, testPrompts(), ModelSettings{Model: "test-model", MaxTokens: 500}, defaultLengthLimit, defaultMaxCompressions, testEntry())
}

// halving returns a completer that keeps the first half of the input runes
func halving() *fakeCompleter {
	return &fakeCompleter{
		respond: func(stage Stage, req CompletionRequest) (string, error) {
			text := []rune(req.Messages[len(req.Messages)-1].Content)
			return string(text[:len(text)/2]), nil
		},
	}
}

func TestPostLength(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{"ascii", "hello", 5},
		{"empty", "", 0},
		{"multibyte", "héllo wörld", 11},
		{"decomposed accents are composed", "e\u0301", 1},
		{"emoji", "🚀🚀", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PostLength(tt.text))
		})
	}
}

func TestEnforceWithinLimit(t *testing.T) {
	for _, text := range []string{"short post", strings.Repeat("a", 280), strings.Repeat("e\u0301", 280)} {
		completer := halving()
		out, err := newTestEnforcer(completer).Enforce(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, text, out)
		assert.Empty(t, completer.requests)
	}
}

func TestEnforceCompresses(t *testing.T) {
	completer := halving()
	out, err := newTestEnforcer(completer).Enforce(context.Background(), strings.Repeat("x", 600))
	require.NoError(t, err)
	assert.Equal(t, 150, PostLength(out))
	assert.Equal(t, 2, completer.count(StageCompression))

	req := completer.requests[0]
	assert.Contains(t, req.Messages[0].Content, "280")
	assert.Equal(t, strings.Repeat("x", 600), req.Messages[1].Content)
	assert.Equal(t, 500, req.MaxTokens)
}

func TestEnforceFixedStepCompression(t *testing.T) {
	tests := []struct {
		start         int
		step          int
		expectedCalls int
		expectedLen   int
	}{
		{400, 50, 3, 250},
		{300, 30, 1, 270},
		{281, 1, 1, 280},
		{500, 60, 4, 260},
	}

	for _, tt := range tests {
		completer := &fakeCompleter{
			respond: func(stage Stage, req CompletionRequest) (string, error) {
				text := []rune(req.Messages[len(req.Messages)-1].Content)
				return string(text[:len(text)-tt.step]), nil
			},
		}

		out, err := newTestEnforcer(completer).Enforce(context.Background(), strings.Repeat("w", tt.start))
		require.NoError(t, err)
		assert.Equal(t, tt.expectedLen, PostLength(out))
		assert.LessOrEqual(t, PostLength(out), defaultLengthLimit)
		assert.Len(t, completer.requests, tt.expectedCalls)
		assert.LessOrEqual(t, tt.expectedCalls, defaultMaxCompressions)
	}
}

func TestEnforceNotConverged(t *testing.T) {
	long := strings.Repeat("y", 400)
	completer := &fakeCompleter{
		respond: func(stage Stage, req CompletionRequest) (string, error) {
			return long, nil
		},
	}

	out, err := newTestEnforcer(completer).Enforce(context.Background(), long)
	assert.Empty(t, out)
	assert.ErrorIs(t, err, ErrLengthNotConverged)
	assert.Len(t, completer.requests, defaultMaxCompressions)
}

func TestEnforceCompletionFailure(t *testing.T) {
	completer := &fakeCompleter{
		respond: func(stage Stage, req CompletionRequest) (string, error) {
			return "", errors.New("connection reset")
		},
	}

	_, err := newTestEnforcer(completer).Enforce(context.Background(), strings.Repeat("z", 300))
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageCompression, stageErr.Stage)
	assert.Equal(t, KindCompletion, stageErr.Kind)
	assert.Len(t, completer.requests, 1)
}
