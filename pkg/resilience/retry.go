package resilience

import "context"

// Retry calls fn up to attempts times, retrying only while retryIf accepts
// the last error and ctx is still live. onRetry, if set, runs before each retry.
func Retry(ctx context.Context, attempts int, retryIf func(error) bool, onRetry func(attempt int, err error), fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || attempt == attempts || !retryIf(err) || ctx.Err() != nil {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return err
}
