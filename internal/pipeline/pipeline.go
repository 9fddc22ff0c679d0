// Package pipeline has the cancellation-aware channel helpers shared by the
// bot stages.
package pipeline

import (
	"context"
	"time"
)

// Send delivers v on ch unless ctx is done first.
func Send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- v:
		return true
	}
}

// Sleep waits for d. It returns false if ctx was done before d elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
