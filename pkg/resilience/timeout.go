// Package resilience holds helpers that bound how long work may run.
package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when an operation exceeds its timeout
var ErrTimeout = errors.New("operation timed out")

// WithTimeout runs fn with a context bounded by timeout. It returns ErrTimeout
// when the deadline passes first and the parent's error when the parent is
// cancelled. fn keeps running in its goroutine until it observes ctx.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	_, err := Call(ctx, timeout, func(runCtx context.Context) (struct{}, error) {
		return struct{}{}, fn(runCtx)
	})
	return err
}

// Call is WithTimeout for functions that produce a value. A timeout of zero
// or less disables the deadline.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	runCtx, cancel := context.WithCancel(ctx)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(runCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-runCtx.Done():
		var zero T
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, ErrTimeout
		}
		return zero, runCtx.Err()
	}
}
