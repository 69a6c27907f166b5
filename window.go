package main

import "time"

// instantLayout is ISO-8601 in UTC with millisecond precision and a literal Z
const instantLayout = "2006-01-02T15:04:05.000Z"

// TimeWindow is a lookback interval ending at End
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// ResolveWindow computes [now-lookback, now], clamping the start to createdAt.
// A zero createdAt disables clamping.
func ResolveWindow(now time.Time, lookback time.Duration, createdAt time.Time) TimeWindow {
	start := now.Add(-lookback)
	if !createdAt.IsZero() && start.Before(createdAt) {
		start = createdAt
	}
	return TimeWindow{Start: start, End: now}
}

// StartString returns the window start in platform query format
func (w TimeWindow) StartString() string {
	return FormatInstant(w.Start)
}

// FormatInstant formats t as e.g. 2025-01-17T00:34:00.000Z
func FormatInstant(t time.Time) string {
	return t.UTC().Format(instantLayout)
}
