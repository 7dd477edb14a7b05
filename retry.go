package nekodb

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how a failed pooled execution is retried. Only
// deadlocks, lock wait timeouts and read-only rejections are retried; the
// zero value runs the operation once.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	BaseBackoff time.Duration `yaml:"base_backoff,omitempty"`
	MaxBackoff  time.Duration `yaml:"max_backoff,omitempty"`
	MaxElapsed  time.Duration `yaml:"max_elapsed,omitempty"`
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 10 * time.Millisecond
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	eb := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.BaseBackoff),
		backoff.WithMaxInterval(p.MaxBackoff),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
	)
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// retryWithPolicy runs op until it succeeds, fails with a non-retryable
// error, or the policy is spent. The last error is returned.
func retryWithPolicy(ctx context.Context, pol RetryPolicy, op func() error) error {
	if pol.MaxAttempts <= 1 {
		return op()
	}
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, pol.backOff(ctx))
	return err
}
