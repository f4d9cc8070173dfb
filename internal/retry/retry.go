// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"time"
)

const defaultDelay = 100 * time.Millisecond

// Do calls fn until it succeeds or maxRetries retries have been spent.
// The delay doubles after every failed attempt.
func Do(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	return DoIf(ctx, maxRetries, baseDelay, nil, fn)
}

// DoIf is Do, but stops at the first error for which retryable returns false.
// A nil retryable retries every error.
func DoIf(ctx context.Context, maxRetries int, baseDelay time.Duration, retryable func(error) bool, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = defaultDelay
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || (retryable != nil && !retryable(err)) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
