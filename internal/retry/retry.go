// Package retry provides exponential backoff retry logic for LLM calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	perrors "github.com/p-blackswan/artifact-agent/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     float64
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultConfig returns sensible retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Backoff:     2.0,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Delay returns the backoff delay before the n-th retry (0-based),
// capped at MaxDelay, before jitter is applied.
func (c Config) Delay(attempt int) time.Duration {
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 2.0
	}
	d := time.Duration(float64(c.BaseDelay) * math.Pow(backoff, float64(attempt)))
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// Do executes fn with exponential backoff. Only retries if the error is retryable.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !perrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := cfg.Delay(attempt)
		if cfg.Jitter {
			// Additive jitter: the nominal delay is the floor, so the
			// cumulative lower bound on retry timing holds.
			delay += time.Duration(rand.Float64() * float64(delay) / 2)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
