package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig controls retry behavior for transient failures.
type RetryConfig struct {
	MaxRetries int
	Wait       time.Duration // fixed pause between attempts
}

// DefaultRetryConfig matches the production extractor policy.
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 2,
	Wait:       10 * time.Second,
}

// RetryDo retries fn up to MaxRetries times with a fixed wait.
// Retries only transient failures; returns immediately on anything else or context cancellation.
func RetryDo[T any](ctx context.Context, rc RetryConfig, fn func() (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	op := func() (T, error) {
		v, err := fn()
		if err != nil && !isRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(rc.Wait)),
		backoff.WithMaxTries(uint(rc.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.Retries.Add(1)
			slog.Debug("retrying", slog.Duration("wait", wait), slog.Any("error", err))
		}),
	)
}

// isRetryable returns true for transient errors worth retrying.
func isRetryable(err error) bool {
	return Classify(err) == KindTransient
}
