package storage

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds Retry. Attempts counts the first call; the wait before
// attempt n+1 is n × Backoff.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy returns three attempts with a 100ms linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}
}

// Retryable reports whether err is worth another attempt. Input errors and
// quota exhaustion fail the same way every time.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch CodeOf(err) {
	case CodeValidation, CodeNotFound, CodeQuotaExceeded:
		return false
	}
	return true
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or the
// policy's attempts are used up. The last error is returned.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(p.Attempts, 1)

	var (
		v   T
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err = fn(ctx)
		if err == nil || !Retryable(err) || attempt == attempts {
			return v, err
		}

		wait := time.Duration(attempt) * p.Backoff
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return v, err
}
