package backoff

import (
	"context"
	"time"
)

// Classifier reports whether an error is worth retrying. It must be pure:
// no side effects beyond inspecting the error.
type Classifier func(err error) bool

// Sleeper blocks for the given duration, respecting context cancellation.
// Tests inject a recording implementation; production code uses SleepWithContext.
type Sleeper func(ctx context.Context, d time.Duration) error

// Retry executes fn up to policy.Attempts times, sleeping policy.Delay(i)
// between attempts. Errors rejected by the classifier bubble immediately.
// The last error is returned once attempts are exhausted.
func Retry[T any](ctx context.Context, policy Policy, retryable Classifier, fn func(ctx context.Context) (T, error)) (T, error) {
	return RetryWithSleeper(ctx, policy, retryable, SleepWithContext, fn)
}

// RetryWithSleeper is Retry with an injectable sleeper for deterministic tests.
func RetryWithSleeper[T any](ctx context.Context, policy Policy, retryable Classifier, sleep Sleeper, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, policy.Delay(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// SleepWithContext sleeps for the specified duration, respecting context
// cancellation. Returns ctx.Err() if the context was cancelled first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
