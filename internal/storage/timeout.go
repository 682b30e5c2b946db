package storage

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds every contract call unless configured otherwise.
const DefaultTimeout = 15 * time.Second

// WithTimeout runs fn and waits at most d for its result. When the wait
// expires the caller gets a Timeout error immediately; fn observes the
// cancelled context but may keep running if it never checks it. A d of zero
// or less disables the bound.
func WithTimeout[T any](ctx context.Context, op string, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && !IsTimeout(r.err) {
			return r.v, &Error{Code: CodeTimeout, Op: op, Message: "deadline exceeded", Err: r.err}
		}
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, NewTimeoutError(op, d)
		}
		return zero, ctx.Err()
	}
}
