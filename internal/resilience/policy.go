package resilience

import (
	"context"
	"time"
)

// Policy pairs a breaker with a retry budget. Retries run inside the
// breaker, so one exhausted call counts as one failure.
type Policy struct {
	Breaker *Breaker
	Retry   RetryConfig
}

// NewPolicy builds a Policy from config values. Non-positive values take
// the breaker defaults; attempts below 1 mean a single try.
func NewPolicy(name string, attempts, threshold, resetSecs int) *Policy {
	return &Policy{
		Breaker: NewBreaker(name, BreakerConfig{
			Threshold:    threshold,
			ResetTimeout: time.Duration(resetSecs) * time.Second,
		}),
		Retry: RetryConfig{
			Attempts:       attempts,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     time.Second,
			Jitter:         0.2,
			OnRetry:        LogRetry(name),
		},
	}
}

// Do runs fn under p.
func Do[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	return Call(ctx, p.Breaker, func(ctx context.Context) (T, error) {
		return Retry(ctx, p.Retry, fn)
	})
}
