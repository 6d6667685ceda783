package retry

import (
	"context"
	"time"
)

// Sleep pauses for the duration or until ctx is closed, returning ctx.Err()
// in the latter case. Nonpositive durations return at once, even when ctx is
// closed.
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
