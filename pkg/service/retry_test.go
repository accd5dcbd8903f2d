package service_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/service"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want service.ErrorClass
	}{
		{"connection refused", errors.New("dial tcp: connection refused"), service.NetworkError},
		{"connection reset", errors.New("read: connection reset by peer"), service.NetworkError},
		{"no such host", errors.New("lookup api.example: no such host"), service.NetworkError},
		{"timed out", errors.New("request timed out"), service.TimeoutError},
		{"deadline exceeded", errors.New("context deadline exceeded"), service.TimeoutError},
		{"http 429", errors.New("HTTP 429 Too Many Requests"), service.RateLimitError},
		{"rate limit", errors.New("rate limit exceeded, retry later"), service.RateLimitError},
		{"temporarily unavailable", errors.New("service temporarily unavailable"), service.TemporaryFailure},
		{"http 503", errors.New("upstream returned 503"), service.TemporaryFailure},
		{"unrelated", errors.New("invalid wallet address"), service.Unclassified},
		{"nil", nil, service.Unclassified},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, service.ClassifyError(c.err))
		})
	}
}

func TestClassifiedErrorWinsOverKeywords(t *testing.T) {
	// The message would keyword-match as a timeout, but the explicit
	// class takes precedence, even through wrapping.
	err := service.NewClassifiedError(service.RateLimitError, errors.New("operation timed out"))
	assert.Equal(t, service.RateLimitError, service.ClassifyError(err))

	wrapped := errors.Wrap(err, "fetch price")
	assert.Equal(t, service.RateLimitError, service.ClassifyError(wrapped))
}

func TestRetryDelaysAreDeterministic(t *testing.T) {
	cfg := models.TaskRetryConfig{
		MaxRetries:        10,
		InitialDelay:      time.Second,
		MaxDelay:          8 * time.Second,
		BackoffMultiplier: 2,
		RetryConditions:   []string{string(service.NetworkError)},
	}
	err := errors.New("connection refused")
	var policy service.RetryPolicy

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second, // capped
	}
	for attempt, wantDelay := range want {
		dec := policy.Decide(cfg, err, attempt)
		assert.True(t, dec.Retry, "attempt %d", attempt)
		assert.Equal(t, wantDelay, dec.Delay, "attempt %d", attempt)
		assert.Equal(t, service.NetworkError, dec.Class)
	}
}

func TestUnclassifiedErrorsAreNeverRetried(t *testing.T) {
	cfg := service.DefaultRetryConfig()
	dec := service.RetryPolicy{}.Decide(cfg, errors.New("invalid configuration"), 0)
	assert.False(t, dec.Retry)
	assert.Equal(t, service.Unclassified, dec.Class)
}

func TestRetryConditionsAreRespected(t *testing.T) {
	cfg := models.TaskRetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		RetryConditions:   []string{string(service.TimeoutError)},
	}
	// A network error is retryable in general but not enabled here.
	dec := service.RetryPolicy{}.Decide(cfg, errors.New("connection refused"), 0)
	assert.False(t, dec.Retry)
	assert.Equal(t, service.NetworkError, dec.Class)

	dec = service.RetryPolicy{}.Decide(cfg, errors.New("request timed out"), 0)
	assert.True(t, dec.Retry)
}

func TestRetriesStopAtMaxAttempts(t *testing.T) {
	cfg := service.DefaultRetryConfig() // MaxRetries: 3
	err := errors.New("request timed out")
	var policy service.RetryPolicy

	assert.True(t, policy.Decide(cfg, err, 0).Retry)
	assert.True(t, policy.Decide(cfg, err, 2).Retry)
	assert.False(t, policy.Decide(cfg, err, 3).Retry)
	assert.False(t, policy.Decide(cfg, err, 7).Retry)
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := service.DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, float64(2), cfg.BackoffMultiplier)
	assert.Len(t, cfg.RetryConditions, 4)
}
