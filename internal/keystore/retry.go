package keystore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fantasim/hdvault/internal/config"
)

// withRetry runs fn, retrying transient storage failures with exponential
// backoff. Non-transient errors return immediately.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= config.StorageRetryAttempts; attempt++ {
		if err = fn(); err == nil || !config.IsTransient(err) {
			return err
		}
		if attempt == config.StorageRetryAttempts {
			break
		}

		delay := config.GetRetryAfter(err)
		if delay == 0 {
			delay = config.StorageRetryBackoff * time.Duration(1<<uint(attempt-1))
		}
		slog.Warn("transient storage failure, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, config.StorageRetryAttempts, err)
}
