package service

import (
	"strings"

	"github.com/pkg/errors"
)

// Logger defines the logging interface the engine depends on.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Sentinel errors for the public operations. NotFound and InvalidState
// are rejected immediately and never retried.
var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskNotActive = errors.New("task is not active")
)

// ErrorClass buckets a runtime error for retry decisions. Only the four
// named classes are retryable, and only when the task's retry config
// lists them.
type ErrorClass string

const (
	NetworkError     ErrorClass = "network_error"
	TimeoutError     ErrorClass = "timeout"
	RateLimitError   ErrorClass = "rate_limit"
	TemporaryFailure ErrorClass = "temporary_failure"
	Unclassified     ErrorClass = "unclassified"
)

// ClassifiedError lets a runner return a pre-bucketed error. Errors
// without an explicit class fall back to keyword classification.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewClassifiedError wraps err with an explicit error class.
func NewClassifiedError(class ErrorClass, err error) error {
	return &ClassifiedError{Class: class, Err: err}
}

// Keyword sets used by ClassifyError. Matching is case-insensitive over
// the full error string.
var classKeywords = []struct {
	class    ErrorClass
	keywords []string
}{
	{TimeoutError, []string{"timeout", "timed out", "deadline exceeded"}},
	{RateLimitError, []string{"rate limit", "too many requests", "429"}},
	{NetworkError, []string{"connection refused", "connection reset", "network", "no such host", "dns", "broken pipe", "econnrefused"}},
	{TemporaryFailure, []string{"temporar", "unavailable", "try again", "503", "circuit"}},
}

// ClassifyError buckets err into one of the retryable classes or
// Unclassified. A ClassifiedError anywhere in the chain wins.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return Unclassified
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	msg := strings.ToLower(err.Error())
	for _, ck := range classKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(msg, kw) {
				return ck.class
			}
		}
	}
	return Unclassified
}
