package service

import (
	"context"
	"fmt"
	"time"

	"paypipe/internal/errors"
)

// bounded runs fn under a deadline derived from ctx with the caller's
// cancellation stripped, so a run is only interrupted between stages.
// A panic inside fn comes back as an internal error. A non-positive timeout
// disables the deadline.
func bounded(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	var cancel context.CancelFunc
	ctx = context.WithoutCancel(ctx)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Internal(fmt.Sprintf("%s panicked: %v", op, r))
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return timedOut(op, timeout, err)
		}
		return err
	case <-ctx.Done():
		return timedOut(op, timeout, ctx.Err())
	}
}

func timedOut(op string, timeout time.Duration, cause error) error {
	return errors.Wrap(cause, errors.ErrorTypeTimeout, fmt.Sprintf("operation %s timed out", op)).
		WithContext("timeout", timeout.String())
}
