package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when an operation exceeds its timeout
var ErrTimeout = errors.New("operation timed out")

// WithTimeout runs fn under a deadline and returns ErrTimeout as soon as the
// deadline passes, even if fn ignores its context. A non-positive timeout
// runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && timeoutCtx.Err() != nil && ctx.Err() == nil {
			return ErrTimeout
		}
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return timeoutCtx.Err()
	}
}
