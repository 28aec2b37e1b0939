package errors

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"slices"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts   int           // Total attempts including the first (default: 3)
	BackoffFactor time.Duration // Base of the exponential backoff (default: 1s)
	MaxDelay      time.Duration // Upper bound for a single wait, 0 disables the cap

	// RetryableStatuses lists the upstream statuses worth another attempt.
	// Nil means DefaultRetryableStatuses.
	RetryableStatuses []int
}

// DefaultRetryableStatuses are rate limiting and gateway/availability failures.
func DefaultRetryableStatuses() []int {
	return []int{
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffFactor:     1 * time.Second,
		RetryableStatuses: DefaultRetryableStatuses(),
	}
}

// Normalize fills zero values with defaults.
func (c RetryConfig) Normalize() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BackoffFactor < 0 {
		c.BackoffFactor = 0
	}
	if c.MaxDelay < 0 {
		c.MaxDelay = 0
	}
	if c.RetryableStatuses == nil {
		c.RetryableStatuses = DefaultRetryableStatuses()
	}
	return c
}

// Backoff returns the wait after a failed attempt (0-based):
// BackoffFactor * 2^attempt, without jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(c.BackoffFactor) * math.Pow(2, float64(attempt))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// SleepFunc suspends the caller for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d with context cancellation support.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
	}
}

// Retryable reports whether status is in the configured retryable set.
func (c RetryConfig) Retryable(status int) bool {
	statuses := c.RetryableStatuses
	if statuses == nil {
		statuses = DefaultRetryableStatuses()
	}
	return slices.Contains(statuses, status)
}

// IsRetryableStatus reports whether status is in the default retryable set.
func IsRetryableStatus(status int) bool {
	return slices.Contains(DefaultRetryableStatuses(), status)
}
