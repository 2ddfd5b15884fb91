// ABOUTME: Generic retry policy with exponential backoff
// ABOUTME: Wraps sethvargo/go-retry so callers choose which errors are transient
package sync

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy retries an operation up to MaxAttempts times, sleeping
// BaseDelay, 2*BaseDelay, 4*BaseDelay, ... between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is three attempts starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}
}

// Do runs fn until it succeeds, returns an error retryable rejects, or the
// attempts run out. It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func(context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}

	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(base))

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := fn(ctx); err != nil {
			if retryable != nil && retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})

	return attempts, err
}
