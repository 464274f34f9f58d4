package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Result holds the outcome of a retry loop.
type Result[T any] struct {
	Value T
	// Attempts is the number of attempts made.
	Attempts int
	// LastError is the last error returned by the operation, if any.
	LastError error
}

// Retry runs fn until it succeeds, returns an error that retryable rejects,
// or maxAttempts is reached. A nil retryable retries every error.
//
// On exhaustion the returned error is ErrMaxAttemptsExhausted and the final
// operation error is in Result.LastError. A non-retryable error is returned
// as is. Context cancellation is checked before each attempt and while
// sleeping.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	retryable func(error) bool,
	fn func(attempt int) (T, error),
) (Result[T], error) {
	var result Result[T]

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		if err := ctx.Err(); err != nil {
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			result.LastError = nil
			return result, nil
		}
		result.LastError = err

		if retryable != nil && !retryable(err) {
			return result, err
		}
		if attempt < maxAttempts {
			if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
				return result, err
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
