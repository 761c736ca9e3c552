// File: internal/poll/poll.go
// Package poll holds the one waiting primitive every automation step uses:
// evaluate a predicate at a fixed pace until it holds or a deadline passes.
package poll

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrTimeout is returned when the condition never held within the timeout.
// Callers that treat a timeout as a soft signal check for it with errors.Is.
var ErrTimeout = errors.New("poll: condition not met before timeout")

// Condition reports whether the awaited state has been reached. A non-nil
// error stops polling immediately.
type Condition func(ctx context.Context) (bool, error)

// Until evaluates cond immediately and then at most once per interval until it
// returns true, returns an error, the parent context ends, or timeout elapses.
//
// The parent context's error is returned as is; an elapsed timeout becomes
// ErrTimeout. The final attempt may come up to one interval before the
// deadline, since a wait that cannot finish in time is not started.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		// Consume the initial token so the first evaluation runs at once and
		// every following one is paced.
		limiter.Allow()

		ok, err := cond(pollCtx)
		if err != nil {
			if ctx.Err() == nil && pollCtx.Err() != nil {
				return ErrTimeout
			}
			return err
		}
		if ok {
			return nil
		}

		if err := limiter.Wait(pollCtx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return ErrTimeout
		}
	}
}

// Pause blocks for d or until ctx ends. It stands in for the fixed settle
// delays the vendor UIs need between steps.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
