package service

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
)

// DefaultRetryConfig applies when a task carries no retry config of its
// own: three attempts, 1s initial delay doubling up to 30s, all four
// retryable classes enabled.
func DefaultRetryConfig() models.TaskRetryConfig {
	return models.TaskRetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		RetryConditions: []string{
			string(NetworkError), string(TimeoutError),
			string(RateLimitError), string(TemporaryFailure),
		},
	}
}

// RetryDecision is the outcome of classifying a failure against a task's
// retry config.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
	Class ErrorClass
}

// RetryPolicy is a pure decision function: given a failed attempt it
// answers whether to retry and after how long.
type RetryPolicy struct{}

// Decide classifies err and, when the class is enabled for the task and
// attempts remain, computes the backoff delay for the given zero-based
// attempt index: min(maxDelay, initialDelay * multiplier^attempt).
func (RetryPolicy) Decide(cfg models.TaskRetryConfig, err error, attempt int) RetryDecision {
	class := ClassifyError(err)
	d := RetryDecision{Class: class}
	if class == Unclassified {
		return d
	}
	if attempt >= cfg.MaxRetries {
		return d
	}
	enabled := false
	for _, c := range cfg.RetryConditions {
		if ErrorClass(c) == class {
			enabled = true
			break
		}
	}
	if !enabled {
		return d
	}
	d.Retry = true
	d.Delay = backoffDelay(cfg, attempt)
	return d
}

// backoffDelay walks a jitter-free exponential policy to the requested
// attempt. RandomizationFactor stays zero so delays are deterministic.
func backoffDelay(cfg models.TaskRetryConfig, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.Multiplier = cfg.BackoffMultiplier
	b.MaxInterval = cfg.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
