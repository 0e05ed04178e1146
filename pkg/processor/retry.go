package processor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jakke/taskqueue/pkg/core"
)

// RetryConfig holds configuration for conflict retry with backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: DefaultConflictRetries + 1
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	// Default: 10ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 1s
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier applied to backoff after each attempt.
	// Default: 2.0
	BackoffMultiplier float64

	// JitterFraction is the fraction of backoff to randomize (0.0 to 1.0).
	// Default: 0.2
	JitterFraction float64
}

// DefaultRetryConfig returns the default conflict retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       DefaultConflictRetries + 1,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
	}
}

// retryConflicts executes the operation, retrying with exponential backoff
// while it fails with core.ErrConflict. Any other error propagates
// immediately; conflicts are expected under contention and are the only
// failures worth retrying at the transaction boundary. Respects context
// cancellation and returns the last conflict if all attempts fail.
func retryConflicts(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, core.ErrConflict) {
			return lastErr
		}
		if attempt >= config.MaxAttempts {
			break
		}

		// Backoff with jitter
		jitter := time.Duration(float64(backoff) * config.JitterFraction * (rand.Float64()*2 - 1))
		sleepDuration := backoff + jitter
		if sleepDuration < 0 {
			sleepDuration = backoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepDuration):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return lastErr
}
