package extractor

import (
	"context"
	"fmt"
	"time"

	"github.com/smartexam/paperingest/internal/domain"
)

// RetryPolicy retries an operation with exponential backoff. Only errors the
// Retryable classifier accepts are retried; everything else fails fast. The
// classifier is injected so callers decide what counts as transient without
// any process-wide state.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Retryable   func(error) bool
}

// DefaultRetryPolicy returns the policy used for the extraction hop:
// 3 attempts, 1s base delay, 1.5x multiplier, transient errors only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  1.5,
		Retryable:   domain.IsTransient,
	}
}

// Do runs op, retrying retryable failures up to MaxAttempts. A nil Retryable
// falls back to the transient classifier so a policy built from config knobs
// alone still retries. The last error is returned wrapped with the attempt
// count; context cancellation aborts the backoff wait immediately.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsTransient
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}

// delay computes the backoff before the next attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}
