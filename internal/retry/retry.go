// Package retry provides exponential backoff retry for outbound
// forwarding.
//
// The forwarder retries transport-level failures only; an HTTP
// response with any status ends the retry loop. Backoff doubles from a
// one second base, optionally jittered, and every attempt observes the
// caller's context so client disconnects cancel waiting immediately.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Default retry configuration.
const (
	// DefaultInitialBackoff is the base delay before the first retry;
	// each subsequent retry doubles it.
	DefaultInitialBackoff = 1 * time.Second

	// DefaultMaxBackoff caps the delay between attempts.
	DefaultMaxBackoff = 30 * time.Second
)

// Config contains retry configuration parameters.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero means a single attempt.
	MaxRetries int

	// InitialBackoff is the base backoff duration. Default 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Default 30s.
	MaxBackoff time.Duration

	// JitterFactor (0.0 to 1.0) randomizes backoff to avoid
	// synchronized retries. Zero keeps attempt spacing exact.
	JitterFactor float64
}

// GetInitialBackoff returns the effective initial backoff.
func (c *Config) GetInitialBackoff() time.Duration {
	if c == nil || c.InitialBackoff <= 0 {
		return DefaultInitialBackoff
	}
	return c.InitialBackoff
}

// GetMaxBackoff returns the effective max backoff.
func (c *Config) GetMaxBackoff() time.Duration {
	if c == nil || c.MaxBackoff <= 0 {
		return DefaultMaxBackoff
	}
	return c.MaxBackoff
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// ShouldRetryFunc reports whether an error should trigger a retry.
type ShouldRetryFunc func(error) bool

// OnRetryFunc is called before each retry attempt sleeps.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Options contains optional retry behavior configuration.
type Options struct {
	// ShouldRetry decides if an error is retryable. Nil retries all
	// errors.
	ShouldRetry ShouldRetryFunc

	// OnRetry is called before each retry attempt.
	OnRetry OnRetryFunc
}

// Do executes fn, retrying failures per cfg. It returns the first
// success, the first non-retryable error, the last error after
// exhausting retries, or the context error if ctx ends first.
func Do(ctx context.Context, cfg *Config, fn RetryableFunc, opts *Options) error {
	if cfg == nil {
		cfg = &Config{}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if opts != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr) {
			return lastErr
		}

		// No sleep after the last attempt.
		if attempt < maxRetries {
			backoff := Backoff(attempt, cfg.GetInitialBackoff(), cfg.GetMaxBackoff(), cfg.JitterFactor)

			if opts != nil && opts.OnRetry != nil {
				opts.OnRetry(attempt+1, lastErr, backoff)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return lastErr
}

// Backoff calculates the delay before the retry following attempt
// (zero-based): initial * 2^attempt plus jitter, capped at max.
func Backoff(attempt int, initial, maxBackoff time.Duration, jitterFactor float64) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt))

	if jitterFactor > 0 {
		// Timing jitter, not security-sensitive.
		//nolint:gosec // G404
		backoff += backoff * jitterFactor * rand.Float64()
	}

	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	return time.Duration(backoff)
}
