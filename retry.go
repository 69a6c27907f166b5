package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetrySettings bounds retries at the boundary clients
type RetrySettings struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (r RetrySettings) normalize() RetrySettings {
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	if r.MaxRetries > 3 {
		r.MaxRetries = 3
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 500 * time.Millisecond
	}
	if r.MaxDelay < r.BaseDelay {
		r.MaxDelay = r.BaseDelay
	}
	return r
}

// HTTPError represents a non-2xx response from a boundary service
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d for %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// Temporary reports whether the request may succeed when retried
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// isRetryable reports whether err is a transient transport, rate-limit or server error
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// withRetry runs fn under an exponential-backoff retry policy
func withRetry[T any](ctx context.Context, settings RetrySettings, fn func() (T, error)) (T, error) {
	settings = settings.normalize()
	policy := retrypolicy.NewBuilder[T]().
		HandleIf(func(_ T, err error) bool {
			return isRetryable(err)
		}).
		WithBackoff(settings.BaseDelay, settings.MaxDelay).
		WithMaxRetries(settings.MaxRetries).
		WithJitterFactor(0.1).
		Build()

	return failsafe.With[T](policy).WithContext(ctx).Get(fn)
}
