package driver

import (
	"context"
	"time"
)

// Clock is the driver's timing source
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

// WallClock returns the real time clock
func WallClock() Clock {
	return wallClock{}
}

func (wallClock) Now() time.Time {
	return time.Now()
}

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TickInterval returns the time between ticks for fps. Zero or less means
// the loop is not throttled.
func TickInterval(fps float32) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(fps))
}
