// Package task runs independently scheduled periodic jobs.
package task

import (
	"context"
	"time"
)

// Every sleeps for interval and then calls fn, forever. It returns nil when
// ctx is cancelled and fn's error as soon as fn fails, so a job can stop
// itself by returning an error. Cancellation is checked once per iteration;
// a running fn is never interrupted.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if err := fn(ctx); err != nil {
			return err
		}
		timer.Reset(interval)
	}
}
