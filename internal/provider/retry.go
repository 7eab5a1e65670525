package provider

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dohr-michael/dayflow/internal/fault"
)

// Retrier reruns provider calls that failed from rate limiting or transient
// upstream trouble, with exponential backoff and jitter. Everything else
// surfaces immediately.
type Retrier struct {
	Attempts int           // total attempt count, minimum 1
	Base     time.Duration // first delay, doubled per attempt; 0 skips sleeping
}

// DefaultRetrier is the bounded budget provider calls get.
func DefaultRetrier() Retrier {
	return Retrier{Attempts: 3, Base: time.Second}
}

// Do runs fn until it succeeds, fails permanently, or the budget runs out.
// The returned error is always classified.
func (r Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := r.Base
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return fault.Wrap(fault.Transient, "retry cancelled", ctx.Err())
			case <-time.After(jitter(delay)):
			}
			delay *= 2
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = fault.Classify(err)
		if !fault.Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// jitter spreads a delay over [d/2, 3d/2) so concurrent retries against the
// same backend do not synchronize.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d)
}
