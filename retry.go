package fpk

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry runs fn with bounded exponential backoff, retrying only while
// retryable returns true, for at most attempts tries. The last error is
// returned once attempts are exhausted; failures escalate, they are never
// silently dropped.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func() error, retryable func(error) bool) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxElapsedTime = 0
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
}
