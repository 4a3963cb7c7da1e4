// Package retry provides exponential backoff loops.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 30 * time.Second
)

// ErrStop wraps an error that must not be retried.
var ErrStop = errors.New("stop retrying")

// Config represents retry configuration.
type Config struct {
	MaxAttempts    int           // 0 retries until ctx is done
	InitialBackoff time.Duration // default 1s
	MaxBackoff     time.Duration // default 30s
}

// Do calls fn until it succeeds, ctx is done or MaxAttempts is reached.
// onRetry, when set, is called before each wait with the failed attempt
// number (starting at 1), the upcoming delay and the error.
// An error wrapping ErrStop ends the loop immediately.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialDelay
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxDelay
	}

	var lastErr error
	for attempt := 0; cfg.MaxAttempts <= 0 || attempt < cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrStop) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := Backoff(attempt, cfg.InitialBackoff, cfg.MaxBackoff)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// Backoff returns 2^attempt * initial, capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	backoff := time.Duration(1<<uint(attempt)) * initial
	if backoff > max || backoff <= 0 {
		return max
	}
	return backoff
}
