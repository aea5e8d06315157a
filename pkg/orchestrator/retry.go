package orchestrator

import (
	"context"
	"time"
)

const (
	maxRetryAttempts = 3
	retryBaseDelay   = 200 * time.Millisecond
	retryMaxDelay    = 2 * time.Second
)

// withRetry calls fn up to maxRetryAttempts times, retrying only on
// ProviderErrors tagged Retryable (timeouts and upstream-unavailable), with
// exponential backoff capped at retryMaxDelay. Any other error, or a
// context cancellation, returns immediately.
func withRetry(ctx context.Context, logger Logger, op string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	var lastErr error
	delay := retryBaseDelay

	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		perr, ok := err.(*ProviderError)
		if !ok || !perr.Retryable() || attempt == maxRetryAttempts {
			return err
		}

		logger.Warn("retrying provider call", "op", op, "attempt", attempt, "kind", perr.Kind)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return lastErr
}
