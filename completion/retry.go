package completion

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/finmesh/logging"
)

// RetryPolicy bounds the retry behavior applied to a completion call site.
// Transient failures (timeout, server error) are retried with exponential
// backoff; rate limits wait a fixed cooldown instead. Client errors are
// never retried. Retrying happens only at the call site that issued the
// request; callers higher up the stack must not retry again.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// InitialBackoff is the wait after the first transient failure; each
	// subsequent transient failure doubles it.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential wait.
	MaxBackoff time.Duration
	// RateLimitWait is the fixed cooldown applied after a rate limit
	// rejection, independent of the exponential schedule.
	RateLimitWait time.Duration
}

// DefaultRetryPolicy returns the baseline policy: 3 attempts, 1s initial
// backoff doubling up to 8s, 5s rate limit cooldown.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
		RateLimitWait:  5 * time.Second,
	}
}

func (p RetryPolicy) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialBackoff
	bo.MaxInterval = p.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0 // deterministic 1s, 2s, 4s, ...
	bo.Reset()
	return bo
}

// Do executes fn with bounded retries per the policy. The returned error is
// the last classified failure when all attempts are exhausted.
func Do(ctx context.Context, logger logging.Logger, policy RetryPolicy, op string, fn func(ctx context.Context) (string, error)) (string, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	bo := policy.newBackoff()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		text, err := fn(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err

		kind := KindOf(err)
		if !kind.Retryable() || attempt == policy.MaxAttempts {
			break
		}

		var wait time.Duration
		if kind == KindRateLimited {
			wait = policy.RateLimitWait
		} else {
			wait = bo.NextBackOff()
		}

		logger.Warn("completion.retry",
			"op", op,
			"attempt", attempt,
			"kind", kind.String(),
			"wait", wait,
		)

		if err := sleep(ctx, wait); err != nil {
			return "", err
		}
	}

	return "", lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
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
