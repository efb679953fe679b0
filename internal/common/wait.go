package common

import (
	"context"
	"fmt"
	"time"
)

// WaitFor polls predicate every interval until it returns true or deadline
// elapses. It is meant for observers and tests waiting on asynchronous
// convergence (e.g. node registration becoming visible in cluster state);
// simulator components must stay non-blocking and never call it.
func WaitFor(predicate func() bool, interval, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	return WaitForCtx(ctx, predicate, interval)
}

// WaitForCtx is WaitFor with caller-controlled cancellation.
func WaitForCtx(ctx context.Context, predicate func() bool, interval time.Duration) error {
	if predicate() {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if predicate() {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrWaitTimeout, ctx.Err())
		}
	}
}
