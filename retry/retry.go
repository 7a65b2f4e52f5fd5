// Package retry provides backoff loops for transient RPC failures and for
// polling until a result appears. Both respect context cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrDeadline is returned by Poll when its own time budget runs out before a result is found.
var ErrDeadline = errors.New("retry: poll deadline exceeded")

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial attempt)
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultConfig is used for idempotent RPC reads.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// PollConfig bounds a polling loop.
type PollConfig struct {
	Interval    time.Duration // First wait between polls
	MaxInterval time.Duration // Cap for the backoff
	Multiplier  float64       // Interval growth per poll
	Timeout     time.Duration // Total budget; zero means the context alone bounds the loop
}

// DefaultPollConfig suits operation receipt polling.
var DefaultPollConfig = PollConfig{
	Interval:    time.Second,
	MaxInterval: 5 * time.Second,
	Multiplier:  1.5,
	Timeout:     60 * time.Second,
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

func nextDelay(delay, max time.Duration, multiplier float64) time.Duration {
	if multiplier <= 1 {
		return delay
	}
	delay = time.Duration(float64(delay) * multiplier)
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

// WithRetry executes fn with exponential backoff until it succeeds, returns a
// non-retryable error, or the attempts are used up.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		if attempt < config.MaxAttempts-1 {
			select {
			case <-time.After(delay):
				delay = nextDelay(delay, config.MaxDelay, config.Multiplier)
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Poll calls fn until it reports found, the poll budget is spent, or ctx ends.
// Errors from fn are treated as transient and logged; polling continues.
// On budget exhaustion Poll returns ErrDeadline; on cancellation it returns ctx.Err().
func Poll[T any](
	ctx context.Context,
	config PollConfig,
	logger *slog.Logger,
	fn func(context.Context) (T, bool, error),
) (T, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}

	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, config.Timeout, ErrDeadline)
		defer cancel()
	}

	interval := config.Interval
	if interval <= 0 {
		interval = DefaultPollConfig.Interval
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), ErrDeadline) {
				return zero, ErrDeadline
			}
			return zero, ctx.Err()
		case <-timer.C:
		}

		result, found, err := fn(ctx)
		if err != nil {
			logger.Debug("poll attempt failed", "attempt", attempt, "error", err)
		}
		if found {
			return result, nil
		}

		timer.Reset(interval)
		interval = nextDelay(interval, config.MaxInterval, config.Multiplier)
	}
}
