package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/service"
	"github.com/ElizaSystems/lyn-sub001/pkg/storage"
)

func saveExecution(t *testing.T, store storage.Store, taskID string, success bool) models.TaskExecution {
	t.Helper()
	exec := models.TaskExecution{
		ID:        taskID + "-exec",
		TaskID:    taskID,
		StartTime: time.Now(),
		Success:   success,
	}
	require.NoError(t, store.SaveExecution(exec))
	return exec
}

func dependentTask(deps ...models.TaskDependency) models.Task {
	return models.Task{
		ID:           "dependent",
		UserID:       "u",
		Status:       models.ScheduledTaskStatus,
		Type:         models.SecurityScanTask,
		Dependencies: models.DependencyList(deps),
	}
}

func TestGateBlocksWithoutAnyExecution(t *testing.T) {
	store := storage.NewMockStore()
	gate := service.NewDependencyGate(store)

	res, err := gate.Evaluate(dependentTask(
		models.TaskDependency{TaskID: "parent", Condition: models.SuccessCondition},
	))
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
	assert.Contains(t, res.Reason, "no execution")
}

func TestGateSuccessCondition(t *testing.T) {
	store := storage.NewMockStore()
	gate := service.NewDependencyGate(store)
	task := dependentTask(models.TaskDependency{TaskID: "parent", Condition: models.SuccessCondition})

	saveExecution(t, store, "parent", false)
	res, err := gate.Evaluate(task)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)

	exec := models.TaskExecution{ID: "parent-2", TaskID: "parent", StartTime: time.Now(), Success: true}
	require.NoError(t, store.SaveExecution(exec))
	res, err = gate.Evaluate(task)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
}

func TestGateFailureCondition(t *testing.T) {
	store := storage.NewMockStore()
	gate := service.NewDependencyGate(store)
	task := dependentTask(models.TaskDependency{TaskID: "parent", Condition: models.FailureCondition})

	saveExecution(t, store, "parent", true)
	res, err := gate.Evaluate(task)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)

	exec := models.TaskExecution{ID: "parent-2", TaskID: "parent", StartTime: time.Now(), Success: false}
	require.NoError(t, store.SaveExecution(exec))
	res, err = gate.Evaluate(task)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
}

func TestGateCompletionCondition(t *testing.T) {
	store := storage.NewMockStore()
	gate := service.NewDependencyGate(store)
	task := dependentTask(models.TaskDependency{TaskID: "parent", Condition: models.CompletionCondition})

	// Either outcome satisfies completion; absence does not.
	res, err := gate.Evaluate(task)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)

	saveExecution(t, store, "parent", false)
	res, err = gate.Evaluate(task)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
}

func TestGateCustomCondition(t *testing.T) {
	store := storage.NewMockStore()
	gate := service.NewDependencyGate(store)
	task := dependentTask(models.TaskDependency{
		TaskID:          "parent",
		Condition:       models.CustomCondition,
		CustomCondition: "result.findings > 0",
	})
	saveExecution(t, store, "parent", true)

	// Without an evaluator installed, custom conditions pass.
	res, err := gate.Evaluate(task)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)

	var seenRule string
	gate.SetCustomCondition(func(rule string, latest *models.TaskExecution) bool {
		seenRule = rule
		return false
	})
	res, err = gate.Evaluate(task)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
	assert.Equal(t, "result.findings > 0", seenRule)
}

func TestGateWaitIsMaxDeclaredDelay(t *testing.T) {
	store := storage.NewMockStore()
	gate := service.NewDependencyGate(store)
	task := dependentTask(
		models.TaskDependency{TaskID: "p1", Condition: models.CompletionCondition, Delay: 2 * time.Second},
		models.TaskDependency{TaskID: "p2", Condition: models.CompletionCondition, Delay: 5 * time.Second},
	)
	saveExecution(t, store, "p1", true)
	saveExecution(t, store, "p2", true)

	res, err := gate.Evaluate(task)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
	assert.Equal(t, 5*time.Second, res.Wait)
}

func TestGateUnsatisfiedShortCircuits(t *testing.T) {
	store := storage.NewMockStore()
	gate := service.NewDependencyGate(store)
	task := dependentTask(
		models.TaskDependency{TaskID: "p1", Condition: models.SuccessCondition},
		models.TaskDependency{TaskID: "p2", Condition: models.SuccessCondition},
	)
	saveExecution(t, store, "p1", false)
	// p2 has no execution at all; the p1 failure reports first.

	res, err := gate.Evaluate(task)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
	assert.Contains(t, res.Reason, "p1")
}

func TestSatisfiedBy(t *testing.T) {
	gate := service.NewDependencyGate(storage.NewMockStore())
	success := models.TaskExecution{Success: true}
	failure := models.TaskExecution{Success: false}

	assert.True(t, gate.SatisfiedBy(models.TaskDependency{Condition: models.SuccessCondition}, success))
	assert.False(t, gate.SatisfiedBy(models.TaskDependency{Condition: models.SuccessCondition}, failure))
	assert.True(t, gate.SatisfiedBy(models.TaskDependency{Condition: models.FailureCondition}, failure))
	assert.True(t, gate.SatisfiedBy(models.TaskDependency{Condition: models.CompletionCondition}, failure))
}
