package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
)

// Result is the map a runner strategy returns. Every strategy must
// expose a boolean-ish "alert" field; the rest of the payload is
// type-specific. Trading strategies additionally label themselves as
// simulations ("simulated": true) and never place real orders.
type Result map[string]interface{}

// Alert reports whether the result signals an alert condition.
func (r Result) Alert() bool {
	switch v := r["alert"].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}

// HasError reports whether the result carries an error payload.
func (r Result) HasError() bool {
	v, ok := r["error"]
	if !ok {
		return false
	}
	s, isStr := v.(string)
	return !isStr || s != ""
}

// Runner is the pluggable execution strategy for one task type.
// Strategies must be idempotent enough to be safely retried and own
// their internal timeouts; the orchestrator imposes none.
type Runner interface {
	Execute(ctx context.Context, t models.Task) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, t models.Task) (Result, error)

func (f RunnerFunc) Execute(ctx context.Context, t models.Task) (Result, error) {
	return f(ctx, t)
}

// Registry maps task types to runners and dispatches executions through
// a per-type circuit breaker so a misbehaving downstream service cannot
// be hammered by every task of that kind.
type Registry struct {
	mu       sync.RWMutex
	runners  map[models.TaskType]Runner
	breakers map[models.TaskType]*gobreaker.CircuitBreaker
	logger   Logger
}

func NewRegistry(logger Logger) *Registry {
	return &Registry{
		runners:  make(map[models.TaskType]Runner),
		breakers: make(map[models.TaskType]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Register installs (or replaces) the runner for a task type.
func (r *Registry) Register(typ models.TaskType, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[typ] = runner
}

// Registered reports whether a runner exists for the type.
func (r *Registry) Registered(typ models.TaskType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.runners[typ]
	return ok
}

func (r *Registry) breaker(typ models.TaskType) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[typ]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(typ),
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warnf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// User cancellation is not a downstream failure.
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	r.breakers[typ] = cb
	return cb
}

// Dispatch runs the task through its type's strategy. An open breaker
// surfaces as a classified temporary_failure so the retry policy can
// handle it like any other transient outage.
func (r *Registry) Dispatch(ctx context.Context, t models.Task) (Result, error) {
	r.mu.RLock()
	runner, ok := r.runners[t.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no runner registered for task type %q", t.Type)
	}

	out, err := r.breaker(t.Type).Execute(func() (interface{}, error) {
		return runner.Execute(ctx, t)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, NewClassifiedError(TemporaryFailure, err)
		}
		return nil, err
	}
	res, _ := out.(Result)
	return res, nil
}
