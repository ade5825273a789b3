// Package resilience provides fault-tolerance primitives: a circuit breaker
// and exponential-backoff retry.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls attempt count and backoff growth.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction of the delay randomised, 0..1
}

// DefaultRetryConfig returns a config suitable for transient store errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Retry runs fn up to MaxAttempts times, sleeping with exponential backoff
// between attempts. It returns the last error when all attempts fail and
// stops early when ctx is cancelled.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s aborted: %w", op, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		slog.Warn("operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"delay", delay,
			"error", lastErr,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s aborted: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, cfg.MaxAttempts, lastErr)
}

// backoffDelay computes the sleep before the next attempt: exponential
// growth capped at MaxDelay, with proportional jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	backoff := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if backoff > float64(cfg.MaxDelay) {
		backoff = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		spread := backoff * cfg.Jitter
		backoff = backoff - spread/2 + rand.Float64()*spread
	}
	if backoff < 0 {
		backoff = float64(cfg.InitialDelay)
	}
	return time.Duration(backoff)
}
