package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
)

const minutesPerDay = 24 * 60

// Slot is a daily time of day
type Slot struct {
	Hour   int
	Minute int
}

func (s Slot) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// cron returns the five-field cron expression firing daily at the slot
func (s Slot) cron() string {
	return fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
}

// Slots returns n equally spaced slots starting at midnight, slot i at i*(24/n) hours
func Slots(n int) ([]Slot, error) {
	if n < 1 || n > minutesPerDay {
		return nil, fmt.Errorf("posts per day must be between 1 and %d, got %d", minutesPerDay, n)
	}
	slots := make([]Slot, 0, n)
	for i := 0; i < n; i++ {
		m := i * minutesPerDay / n
		slots = append(slots, Slot{Hour: m / 60, Minute: m % 60})
	}
	return slots, nil
}

type scheduleEntry struct {
	slot Slot
	expr *cronexpr.Expression
}

// Schedule holds the registered daily triggers
type Schedule struct {
	entries []scheduleEntry
}

// Rebuild clears every registered trigger and registers one per slot
func (s *Schedule) Rebuild(postsPerDay int) error {
	slots, err := Slots(postsPerDay)
	if err != nil {
		return err
	}

	s.Clear()
	for _, slot := range slots {
		expr, err := cronexpr.Parse(slot.cron())
		if err != nil {
			return fmt.Errorf("parsing schedule for %s: %w", slot, err)
		}
		s.entries = append(s.entries, scheduleEntry{slot: slot, expr: expr})
	}
	return nil
}

// Clear removes every registered trigger
func (s *Schedule) Clear() {
	s.entries = nil
}

// Slots returns the registered slots in registration order
func (s *Schedule) Slots() []Slot {
	out := make([]Slot, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.slot)
	}
	return out
}

// NextDue returns the earliest trigger strictly after now
func (s *Schedule) NextDue(now time.Time) (time.Time, bool) {
	var next time.Time
	for _, e := range s.entries {
		t := e.expr.Next(now)
		if t.IsZero() {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next, !next.IsZero()
}

// Runner invokes the dispatcher at startup and at every due slot
type Runner struct {
	dispatch   func(ctx context.Context) RunResult
	schedule   *Schedule
	runOnStart bool
	logger     Logger
	now        func() time.Time
	wait       func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner for the given schedule
func NewRunner(dispatch func(ctx context.Context) RunResult, schedule *Schedule, runOnStart bool, logger Logger) *Runner {
	return &Runner{
		dispatch:   dispatch,
		schedule:   schedule,
		runOnStart: runOnStart,
		logger:     logger,
		now:        time.Now,
		wait:       sleepContext,
	}
}

// Run blocks until ctx is cancelled. Dispatches run one at a time on this goroutine.
func (r *Runner) Run(ctx context.Context) error {
	if r.runOnStart {
		r.dispatch(ctx)
	}

	// slots at or before last never fire again, even if the wall clock steps back
	var last time.Time
	for {
		now := r.now()
		from := now
		if last.After(from) {
			from = last
		}
		next, ok := r.schedule.NextDue(from)
		if !ok {
			return fmt.Errorf("no scheduled slots registered")
		}
		r.logger.WithField("next_run", next.Format(time.RFC3339)).Info("Waiting for next scheduled run")

		if err := r.wait(ctx, next.Sub(now)); err != nil {
			r.logger.Info("Scheduler stopped")
			return nil
		}
		last = next
		r.dispatch(ctx)
	}
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
