package executor

import (
	"context"
	"time"
)

// retryState is the explicit submission retry machine: attempt counter and
// the next backoff, advanced only for safely-retryable failures. The backoff
// waits are its suspension points and honor context cancellation.
type retryState struct {
	attempt     int
	maxAttempts int
	next        time.Duration
	max         time.Duration
}

func newRetryState(maxAttempts int, base, max time.Duration) retryState {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}

	return retryState{maxAttempts: maxAttempts, next: base, max: max}
}

// exhausted reports whether no attempts remain.
func (r *retryState) exhausted() bool {
	return r.attempt >= r.maxAttempts
}

// wait sleeps for the current backoff and doubles it, capped. Returns the
// context error when cancelled mid-wait.
func (r *retryState) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.next):
	}

	r.next *= 2
	if r.next > r.max {
		r.next = r.max
	}

	return nil
}
