package service

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/storage"
)

// CustomConditionFunc evaluates a "custom" dependency condition against
// the prerequisite's latest execution (nil when none exists).
type CustomConditionFunc func(rule string, latest *models.TaskExecution) bool

// GateResult is the outcome of evaluating a task's dependencies.
// When Satisfied, Wait is the maximum declared delay the caller must
// observe before dispatching. Otherwise Reason explains the block.
type GateResult struct {
	Satisfied bool
	Wait      time.Duration
	Reason    string
}

// DependencyGate decides whether a task's declared prerequisites are
// currently satisfied. A blocked task is not an error: the caller leaves
// it untouched and re-evaluates on the next scheduling pass.
type DependencyGate struct {
	store  storage.Store
	custom CustomConditionFunc
}

func NewDependencyGate(store storage.Store) *DependencyGate {
	return &DependencyGate{store: store}
}

// SetCustomCondition installs the evaluator for "custom" conditions.
// Without one, custom conditions pass by default.
func (g *DependencyGate) SetCustomCondition(fn CustomConditionFunc) {
	g.custom = fn
}

// Evaluate checks every declared dependency against the referenced
// task's most recent execution. Any unsatisfied dependency
// short-circuits.
func (g *DependencyGate) Evaluate(t models.Task) (GateResult, error) {
	var wait time.Duration
	for _, dep := range t.Dependencies {
		latest, err := g.store.GetLatestExecution(dep.TaskID)
		if errors.Is(err, storage.ErrNotFound) {
			if dep.Condition == models.CustomCondition {
				if g.custom == nil || g.custom(dep.CustomCondition, nil) {
					continue
				}
			}
			return GateResult{Reason: fmt.Sprintf("dependency %s has no execution yet", dep.TaskID)}, nil
		}
		if err != nil {
			return GateResult{}, errors.Wrapf(err, "fetch latest execution of %s", dep.TaskID)
		}

		ok := false
		switch dep.Condition {
		case models.SuccessCondition:
			ok = latest.Success
		case models.FailureCondition:
			ok = !latest.Success
		case models.CompletionCondition:
			ok = true
		case models.CustomCondition:
			ok = g.custom == nil || g.custom(dep.CustomCondition, &latest)
		default:
			return GateResult{}, errors.Errorf("unknown dependency condition %q", dep.Condition)
		}
		if !ok {
			return GateResult{Reason: fmt.Sprintf("dependency %s not satisfied: latest execution does not meet %q", dep.TaskID, dep.Condition)}, nil
		}
		if dep.Delay > wait {
			wait = dep.Delay
		}
	}
	return GateResult{Satisfied: true, Wait: wait}, nil
}

// SatisfiedBy reports whether one concrete execution outcome satisfies a
// dependency declaration. Used when fanning out to dependents after an
// execution settles.
func (g *DependencyGate) SatisfiedBy(dep models.TaskDependency, exec models.TaskExecution) bool {
	switch dep.Condition {
	case models.SuccessCondition:
		return exec.Success
	case models.FailureCondition:
		return !exec.Success
	case models.CompletionCondition:
		return true
	case models.CustomCondition:
		return g.custom == nil || g.custom(dep.CustomCondition, &exec)
	}
	return false
}
