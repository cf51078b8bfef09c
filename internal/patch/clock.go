package patch

import (
	"context"
	"time"
)

// Clock supplies time to the controller. Every wait in a procedure goes
// through Sleep, so a fake clock makes procedures run instantly.
type Clock interface {
	Now() time.Time
	// Sleep pauses for d, returning early with ctx.Err() if ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

// WallClock returns a Clock backed by the time package. Durations measured
// with it use the monotonic clock.
func WallClock() Clock { return wallClock{} }

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
