package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrEmptyPost is returned when there is nothing left to publish
var ErrEmptyPost = errors.New("post text is empty")

// quotePairs are the surrounding quote styles stripped before publishing
var quotePairs = [][2]string{
	{`"`, `"`},
	{`'`, `'`},
	{"“", "”"},
}

// StripQuotes removes one layer of matching surrounding quotes.
// Text whose inner part still holds an unescaped quote of the same kind is left alone.
func StripQuotes(text string) string {
	text = strings.TrimSpace(text)
	for _, q := range quotePairs {
		if len(text) < len(q[0])+len(q[1]) || !strings.HasPrefix(text, q[0]) || !strings.HasSuffix(text, q[1]) {
			continue
		}
		inner := text[len(q[0]) : len(text)-len(q[1])]
		if hasUnescaped(inner, q[0]) || hasUnescaped(inner, q[1]) {
			return text
		}
		return strings.TrimSpace(inner)
	}
	return text
}

// hasUnescaped reports whether s contains quote not preceded by a backslash
func hasUnescaped(s, quote string) bool {
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], quote)
		if j < 0 {
			return false
		}
		at := i + j
		if at == 0 || s[at-1] != '\\' {
			return true
		}
		i = at + len(quote)
	}
	return false
}

// Publisher posts final text to the platform
type Publisher struct {
	platform Platform
	limit    int
	dryRun   bool
	logger   *logrus.Entry
}

// NewPublisher creates a publisher; with dryRun set nothing is posted
func NewPublisher(platform Platform, limit int, dryRun bool, logger *logrus.Entry) *Publisher {
	return &Publisher{platform: platform, limit: limit, dryRun: dryRun, logger: logger}
}

// Publish makes a single publish attempt and returns the post id.
// In dry-run mode it returns an empty id and no error.
func (p *Publisher) Publish(ctx context.Context, text string) (string, error) {
	text = StripQuotes(text)
	if text == "" {
		return "", ErrEmptyPost
	}
	if n := PostLength(text); n > p.limit {
		return "", fmt.Errorf("post is %d characters, limit is %d", n, p.limit)
	}

	if p.dryRun {
		p.logger.WithField("text", text).Info("Dry run, not publishing")
		return "", nil
	}

	p.logger.Info("→ Publishing post")
	id, err := p.platform.CreatePost(ctx, text)
	if err != nil {
		return "", fmt.Errorf("publishing post: %w", err)
	}
	p.logger.WithFields(logrus.Fields{"post_id": id, "text": text}).Info("✓ Posted")
	return id, nil
}
