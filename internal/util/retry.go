// ABOUTME: Retry with exponential backoff for opening storage at process start
// ABOUTME: Stores never retry internally; entry points wrap Open calls with Retry
package util

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

const maxBackoff = 5 * time.Second

// CalculateBackoff returns exponential backoff with jitter.
// Base delay is doubled each attempt, capped at 5s, with random jitter up to 25%.
func CalculateBackoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	backoff := baseDelay * time.Duration(1<<uint(attempt-1))
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	if backoff < 4 {
		return backoff
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2)) - backoff/4
	return backoff + jitter
}

// Retry calls fn up to 1+retries times, sleeping with backoff between attempts,
// while retryable(err) holds. A nil retryable retries every error.
func Retry(ctx context.Context, retries int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(CalculateBackoff(baseDelay, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted after %d attempts: %w", attempt, lastErr)
			case <-timer.C:
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", retries+1, lastErr)
}
