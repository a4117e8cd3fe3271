// Package retry wraps fallible operations with bounded retries.
//
// It is a thin layer over sethvargo/go-retry so that call sites share one
// policy shape instead of re-implementing "try again once" inline.
package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Config controls how an operation is retried.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts uint64

	// InitialBackoff is the delay before the first retry; subsequent
	// delays grow exponentially.
	InitialBackoff time.Duration
}

// DefaultConfig retries once after a short pause, matching the
// "retry once on auth expiry" shape used by the source fetch layer.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    2,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// Do runs op, retrying errors wrapped with Retryable until the attempt
// budget is spent or the context is done. Non-retryable errors return
// immediately.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	b := retry.NewExponential(backoff)
	b = retry.WithMaxRetries(attempts-1, b)

	return retry.Do(ctx, b, op)
}

// Retryable marks err as eligible for another attempt.
func Retryable(err error) error {
	return retry.RetryableError(err)
}
