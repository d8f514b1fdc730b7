package watchdog

import (
	"context"
	"time"
)

// Clock abstracts time so the state machine can be driven by a fake clock.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	// It returns ctx.Err() if the context ended the wait.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock returns a Clock backed by the system clock.
func RealClock() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
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
