package fews

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// defaultMaxAttempts is the number of tries before a page fetch gives up.
	defaultMaxAttempts = 3

	// baseDelay is the starting backoff interval (before jitter).
	baseDelay = 2 * time.Second

	// maxDelay caps the backoff interval.
	maxDelay = 30 * time.Second
)

// retryPolicy holds the backoff parameters for one client.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	log         *slog.Logger
}

// retry executes fn up to p.maxAttempts times with exponential backoff and
// jitter. fn marks errors that must not be retried with [backoff.Permanent];
// those are returned as-is. Exhausting all attempts returns a wrapped error
// containing the last failure.
func retry[T any](ctx context.Context, p retryPolicy, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.baseDelay
	b.MaxInterval = p.maxDelay

	attempts := p.maxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		return fn()
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.log.Warn("request failed, retrying",
				"attempt", attempt,
				"max_attempts", attempts,
				"retry_in", next,
				"error", err,
			)
		}),
	)
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return res, fmt.Errorf("retry cancelled: %w", ctx.Err())
	case attempt >= attempts && IsRetryable(err):
		return res, fmt.Errorf("all %d attempts failed: %w", attempts, err)
	default:
		return res, err
	}
}
