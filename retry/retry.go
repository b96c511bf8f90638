// Package retry implements a bounded fixed-backoff retry policy for calls
// to external backends. The sleep function is injectable so unit tests do
// not depend on wall-clock time.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy configures bounded retrying.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(error) bool

	// Sleep waits for the backoff period. Defaults to a context-aware
	// time.After wait; tests inject a no-op.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *zap.Logger
}

// DefaultPolicy matches the backend contract for the graph database client:
// up to 5 attempts with a fixed 2-second backoff.
func DefaultPolicy(logger *zap.Logger) *Policy {
	return &Policy{
		MaxAttempts: 5,
		Backoff:     2 * time.Second,
		Logger:      logger,
	}
}

// Do runs fn, retrying on retryable errors until attempts are exhausted.
// Exhaustion returns the last error wrapped with the attempt count; it is a
// hard failure for the request, never a silent empty result.
func (p *Policy) Do(ctx context.Context, fn func() error) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = waitFor
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.Warn("retrying after failure",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Duration("backoff", p.Backoff),
				zap.Error(lastErr))
			if err := sleep(ctx, p.Backoff); err != nil {
				return fmt.Errorf("retry canceled: %w", err)
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func waitFor(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
