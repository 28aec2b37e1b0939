package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, BackoffFactor: 500 * time.Millisecond}

	assert.Equal(t, 500*time.Millisecond, cfg.Backoff(0))
	assert.Equal(t, 1*time.Second, cfg.Backoff(1))
	assert.Equal(t, 2*time.Second, cfg.Backoff(2))
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff(-3))
}

func TestBackoffHonorsCap(t *testing.T) {
	cfg := RetryConfig{BackoffFactor: time.Second, MaxDelay: 3 * time.Second}

	assert.Equal(t, 2*time.Second, cfg.Backoff(1))
	assert.Equal(t, 3*time.Second, cfg.Backoff(2))
	assert.Equal(t, 3*time.Second, cfg.Backoff(10))
}

func TestNormalizeClampsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 0, BackoffFactor: -1}.Normalize()
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, time.Duration(0), cfg.BackoffFactor)
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryableStatuses(t *testing.T) {
	for _, status := range []int{429, 502, 503, 504} {
		assert.True(t, IsRetryableStatus(status), "status %d", status)
	}
	for _, status := range []int{200, 400, 401, 404, 500} {
		assert.False(t, IsRetryableStatus(status), "status %d", status)
	}
}

func TestConfiguredRetryableStatuses(t *testing.T) {
	cfg := RetryConfig{RetryableStatuses: []int{http.StatusInternalServerError}}.Normalize()
	assert.True(t, cfg.Retryable(http.StatusInternalServerError))
	assert.False(t, cfg.Retryable(http.StatusTooManyRequests))

	defaults := RetryConfig{}.Normalize()
	assert.Equal(t, DefaultRetryableStatuses(), defaults.RetryableStatuses)
	assert.True(t, defaults.Retryable(http.StatusServiceUnavailable))

	none := RetryConfig{RetryableStatuses: []int{}}.Normalize()
	assert.False(t, none.Retryable(http.StatusServiceUnavailable))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	timeout := fmt.Errorf("review: %w", NewUpstreamTimeout(3, nil))
	service := fmt.Errorf("review: %w", NewUpstreamStatus(http.StatusBadRequest, "bad"))
	extraction := fmt.Errorf("review: %w", NewExtraction("no choices"))

	assert.True(t, IsUpstreamTimeout(timeout))
	assert.False(t, IsUpstreamService(timeout))
	assert.True(t, IsUpstreamService(service))
	assert.True(t, IsExtraction(extraction))

	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(timeout))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(service))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(extraction))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(fmt.Errorf("boom")))
}

func TestServiceErrorCarriesStatusAndBody(t *testing.T) {
	err := NewUpstreamStatus(http.StatusServiceUnavailable, "overloaded")

	var svc *UpstreamServiceError
	require.ErrorAs(t, err, &svc)
	assert.Equal(t, http.StatusServiceUnavailable, svc.StatusCode)
	assert.Equal(t, "overloaded", svc.Body)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, "LLM service error: status 503", Detail(err))
}
