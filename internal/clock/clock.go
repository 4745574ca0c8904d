package clock

import (
	"context"
	"time"
)

type WaitResult int

const (
	Fired WaitResult = iota
	Cancelled
)

// Sleeper suspends the caller until a wall-clock instant. Tests substitute a
// fake so timer behavior can be driven without real sleeps.
type Sleeper interface {
	WaitUntil(ctx context.Context, at time.Time) WaitResult
}

type WallClock struct{}

func (WallClock) WaitUntil(ctx context.Context, at time.Time) WaitResult {
	d := time.Until(at)
	if d <= 0 {
		// already past the instant; fire immediately
		return Fired
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return Fired
	case <-ctx.Done():
		return Cancelled
	}
}
