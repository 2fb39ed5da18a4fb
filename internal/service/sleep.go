package service

import (
	"context"
	"time"

	"baysebatch/internal/core/ports"
)

// ContextSleeper sleeps on the wall clock and wakes early when ctx is cancelled.
type ContextSleeper struct{}

var _ ports.Sleeper = ContextSleeper{}

// Sleep waits for d or until ctx is done.
func (ContextSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
