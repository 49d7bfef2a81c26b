package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"payment-sync-service/errs"
)

// RetryPolicy bounds the retry executor. Attempt 1 runs immediately; attempt
// n waits min(MaxDelay, BaseDelay * Factor^(n-1)), randomized ±25% when
// Jitter is set.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      bool
}

// DefaultRetryPolicy matches what the gateway client ships with.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Factor:      2,
		Jitter:      true,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		// ±25% to avoid thundering herd on shared dependencies. Sub-2ns
		// delays have no room to jitter in; rand.Int63n(0) would panic.
		if half := int64(d) / 2; half > 0 {
			d = d*3/4 + time.Duration(rand.Int63n(half))
		}
	}
	return d
}

// Retry runs op until it succeeds, a terminal error surfaces, the attempt
// budget is exhausted, or ctx is cancelled. Terminal errors abort immediately
// regardless of remaining attempts; a cancellation mid-backoff returns a
// cancelled error that is itself terminal. Exhaustion wraps the last error
// with the attempt count and total elapsed time.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Factor <= 0 {
		policy.Factor = 2
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 100 * time.Millisecond
	}

	start := time.Now()
	var last error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(policy.delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errs.Cancelled(ctx.Err())
			case <-timer.C:
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err
		if !errs.IsRetryable(err) {
			return err
		}
	}

	return &errs.ExhaustedError{Attempts: policy.MaxAttempts, Elapsed: time.Since(start), Err: last}
}
