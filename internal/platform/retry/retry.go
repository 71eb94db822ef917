package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds an exponential backoff. Zero values fall back to defaults.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
}

var DefaultPolicy = Policy{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	MaxAttempts:     5,
}

// Do runs op until it succeeds, returns an error that retryable rejects,
// the attempts are exhausted, or ctx ends. A nil retryable retries every error.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = orDefault(p.InitialInterval, DefaultPolicy.InitialInterval)
	b.MaxInterval = orDefault(p.MaxInterval, DefaultPolicy.MaxInterval)
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = DefaultPolicy.MaxAttempts
	}

	// WithMaxRetries counts retries, not attempts.
	policy := backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx)

	return backoff.Retry(func() error {
		err := op(ctx)
		if err != nil && retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
