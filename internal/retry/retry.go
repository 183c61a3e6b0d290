// Package retry implements bounded retries with linear backoff for the
// model-loading path. Attempts stay few and short: the session is
// interactive and a source that keeps failing should be abandoned quickly in
// favor of the next one.
package retry

import (
	"context"
	"time"
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxAttempts is the total number of tries, first attempt included.
	MaxAttempts int

	// BaseDelay is the delay after the first failure. Subsequent delays grow
	// linearly: BaseDelay, 2*BaseDelay, 3*BaseDelay, ...
	BaseDelay time.Duration

	// MaxDelay caps the per-attempt delay.
	MaxDelay time.Duration

	// AttemptTimeout bounds each individual attempt. Zero means the attempt
	// inherits the caller's context deadline only.
	AttemptTimeout time.Duration
}

// DefaultConfig returns a sensible default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		AttemptTimeout: 3 * time.Second,
	}
}

func (c Config) applyDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	return c
}

// delay computes the linear backoff after the given zero-based attempt.
func (c Config) delay(attempt int) time.Duration {
	d := c.BaseDelay * time.Duration(attempt+1)
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// OnAttempt observes the outcome of each attempt, successful or not.
type OnAttempt func(attempt int, elapsed time.Duration, err error)

// Do runs fn until it succeeds or the attempt budget is exhausted. Each
// attempt gets its own timeout-bounded context. The last error is returned
// when all attempts fail; context cancellation aborts the loop immediately.
func Do[T any](ctx context.Context, cfg Config, observe OnAttempt, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.applyDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(cfg.delay(attempt - 1)):
			}
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}

		start := time.Now()
		result, err := fn(attemptCtx)
		cancel()
		if observe != nil {
			observe(attempt, time.Since(start), err)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
