// Package retry provides the shared bounded-backoff helper used for calls to
// downstream services (candidate directory, notification gateway, policy store).
// This is part of the platform layer and contains no business logic.
package retry

import (
	"context"
	"fmt"
	"time"

	"tradedispatch_backend/platform/logger"
)

// Do runs fn up to attempts times, doubling the delay between attempts
// starting from baseDelay. It stops early on success or context cancellation.
func Do(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	delay := baseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if log != nil {
				log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
			}
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s: %w", name, lastErr)
}
