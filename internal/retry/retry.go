// Package retry provides the bounded exponential backoff policy used for
// transient failures of the external services. Timeouts are never retried
// here; they are expected outcomes handled by the caller.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrMaxAttemptsExceeded is returned when a retryable operation keeps
// failing past the attempt budget.
var ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

// Policy defines retry behavior for transient errors.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64

	// Jitter adds a deterministic offset to avoid thundering herd, 0.0 to 1.0.
	Jitter float64
}

// DefaultPolicy returns the policy used for external service calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       4,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Delay calculates the backoff before the given retry attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		jitterAmount := delay * p.Jitter
		jitterOffset := float64(attempt%7) / 7.0 * jitterAmount
		delay = delay - jitterAmount/2 + jitterOffset
	}

	return time.Duration(delay)
}

// Do runs fn until it succeeds, the error is not retryable, or the attempt
// budget is exhausted. retryable decides which errors are transient.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, retryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !retryable(lastErr) {
			return lastErr
		}

		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}

	return errors.Join(ErrMaxAttemptsExceeded, lastErr)
}
