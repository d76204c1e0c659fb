// Package retry runs startup operations against backing stores with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const maxBackoff = 16 * time.Second

// Do calls fn up to attempts times, sleeping between failures.
// The last error is returned wrapped with the target name.
func Do(ctx context.Context, target string, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = fn(ctx); lastErr == nil {
			slog.Info("connected", "target", target, "attempts", attempt)
			return nil
		}
		if attempt == attempts {
			break
		}

		backoff := Backoff(attempt)
		slog.Warn("connection attempt failed, retrying",
			"target", target,
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff,
			"error", lastErr,
		)
		if !sleep(ctx, backoff) {
			return fmt.Errorf("connect to %s cancelled: %w", target, ctx.Err())
		}
	}

	return fmt.Errorf("connect to %s after %d attempts: %w", target, attempts, lastErr)
}

// Backoff returns the delay after the given 1-based attempt, doubling from one second.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		return maxBackoff
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
