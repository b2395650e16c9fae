// Package resilience holds the failure-containment helpers used around job
// handlers and queue backends.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is wrapped by WithTimeout when fn outlives its bound.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout runs fn with a context bounded by timeout and returns
// ErrTimeout if fn has not returned by then. fn keeps running in its
// goroutine after a timeout and is expected to honour its context. A
// timeout of zero or less runs fn inline without a bound.
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
		return err
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return timeoutCtx.Err()
	}
}
