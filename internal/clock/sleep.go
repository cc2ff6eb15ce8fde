// Package clock provides cancelable time helpers.
package clock

import (
	"context"
	"time"
)

// SleepWithContext blocks for d or until the context ends, whichever comes
// first. A non-positive duration returns immediately with the context error,
// if any.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
