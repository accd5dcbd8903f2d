package storage_test

import (
	"testing"
	"time"

	internal_storage "github.com/ElizaSystems/lyn-sub001/internal/storage"
	"github.com/ElizaSystems/lyn-sub001/internal/testutil"
	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	// Helper to create a transactional store
	newTxStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		assert.NoError(t, err)
		txStore, err := store.Begin()
		assert.NoError(t, err)
		t.Cleanup(func() { txStore.Rollback() })
		return txStore.(*internal_storage.PostgresStore)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)

	newTask := func(id string) models.Task {
		return models.Task{
			ID:        id,
			UserID:    "user-1",
			Name:      "BTC price watch",
			Status:    models.ActiveTaskStatus,
			Type:      models.PriceAlertTask,
			Frequency: "hourly",
			Config:    models.JSONMap{"token_symbol": "BTC", "threshold_price": 50000.0, "direction": "above"},
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	t.Run("SaveAndGetTask", func(t *testing.T) {
		store := newTxStore(t)
		task := newTask("t-save")
		task.Dependencies = models.DependencyList{{TaskID: "t-parent", Condition: models.SuccessCondition}}
		task.RetryConfig = models.TaskRetryConfig{MaxRetries: 2, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffMultiplier: 2}
		assert.NoError(t, store.SaveTask(task))

		saved, err := store.GetTask("t-save")
		assert.NoError(t, err)
		assert.Equal(t, task.Name, saved.Name)
		assert.Equal(t, models.PriceAlertTask, saved.Type)
		assert.Len(t, saved.Dependencies, 1)
		assert.Equal(t, "t-parent", saved.Dependencies[0].TaskID)
		assert.Equal(t, 2, saved.RetryConfig.MaxRetries)
		assert.Equal(t, float64(50000), saved.Config["threshold_price"])
	})

	t.Run("GetNonExistingTask", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.GetTask("missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListTasksByFilter", func(t *testing.T) {
		store := newTxStore(t)
		a := newTask("t-list-a")
		b := newTask("t-list-b")
		b.Status = models.PausedTaskStatus
		c := newTask("t-list-c")
		c.UserID = "user-2"
		c.Dependencies = models.DependencyList{{TaskID: "t-list-a", Condition: models.CompletionCondition}}
		for _, task := range []models.Task{a, b, c} {
			assert.NoError(t, store.SaveTask(task))
		}

		active, err := store.ListTasks(storage.TaskFilter{
			UserID:   "user-1",
			Statuses: []models.TaskStatus{models.ActiveTaskStatus},
		})
		assert.NoError(t, err)
		assert.Len(t, active, 1)
		assert.Equal(t, "t-list-a", active[0].ID)

		dependents, err := store.ListTasks(storage.TaskFilter{DependsOn: "t-list-a"})
		assert.NoError(t, err)
		assert.Len(t, dependents, 1)
		assert.Equal(t, "t-list-c", dependents[0].ID)
	})

	t.Run("UpdateTask", func(t *testing.T) {
		store := newTxStore(t)
		task := newTask("t-update")
		assert.NoError(t, store.SaveTask(task))

		task.ExecutionCount = 4
		task.SuccessCount = 3
		task.FailureCount = 1
		task.RecomputeSuccessRate()
		task.LastError = "rate limit exceeded"
		assert.NoError(t, store.UpdateTask(task))

		saved, err := store.GetTask("t-update")
		assert.NoError(t, err)
		assert.Equal(t, 4, saved.ExecutionCount)
		assert.Equal(t, float64(75), saved.SuccessRate)
		assert.Equal(t, "rate limit exceeded", saved.LastError)

		missing := newTask("t-never-saved")
		assert.ErrorIs(t, store.UpdateTask(missing), storage.ErrNotFound)
	})

	t.Run("UpdateTaskStatus", func(t *testing.T) {
		store := newTxStore(t)
		task := newTask("t-status")
		assert.NoError(t, store.SaveTask(task))
		assert.NoError(t, store.UpdateTaskStatus("t-status", models.PausedTaskStatus))

		saved, err := store.GetTask("t-status")
		assert.NoError(t, err)
		assert.Equal(t, models.PausedTaskStatus, saved.Status)
	})

	t.Run("DeleteTasksRequiresFilter", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.DeleteTasks(storage.TaskFilter{})
		assert.Error(t, err)
	})

	t.Run("Executions", func(t *testing.T) {
		store := newTxStore(t)
		task := newTask("t-exec")
		assert.NoError(t, store.SaveTask(task))

		first := models.TaskExecution{
			ID:          "e-1",
			TaskID:      "t-exec",
			StartTime:   now.Add(-2 * time.Minute),
			TriggeredBy: models.CronTrigger,
		}
		assert.NoError(t, store.SaveExecution(first))

		end := now.Add(-2*time.Minute + 3*time.Second)
		first.EndTime = &end
		first.Success = true
		first.Result = models.JSONMap{"price": 51000.0}
		first.Duration = 3000
		assert.NoError(t, store.FinalizeExecution(first))

		second := models.TaskExecution{
			ID:          "e-2",
			TaskID:      "t-exec",
			StartTime:   now,
			TriggeredBy: models.ManualTrigger,
		}
		assert.NoError(t, store.SaveExecution(second))

		latest, err := store.GetLatestExecution("t-exec")
		assert.NoError(t, err)
		assert.Equal(t, "e-2", latest.ID)

		all, err := store.ListExecutions(storage.ExecutionFilter{TaskID: "t-exec"})
		assert.NoError(t, err)
		assert.Len(t, all, 2)
		assert.Equal(t, "e-2", all[0].ID)
		assert.True(t, all[1].Success)
		assert.Equal(t, int64(3000), all[1].Duration)

		limited, err := store.ListExecutions(storage.ExecutionFilter{TaskID: "t-exec", Limit: 1})
		assert.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("CacheLifecycle", func(t *testing.T) {
		store := newTxStore(t)
		entry := models.TaskCache{
			TaskID:       "t-cache",
			CacheKey:     "price_alert:00000000deadbeef",
			Result:       models.JSONMap{"price": 51000.0},
			CreatedAt:    now,
			ExpiresAt:    now.Add(time.Minute),
			LastAccessed: now,
		}
		assert.NoError(t, store.UpsertCacheEntry(entry))

		got, err := store.GetCacheEntry(entry.CacheKey)
		assert.NoError(t, err)
		assert.Equal(t, "t-cache", got.TaskID)
		assert.Equal(t, 0, got.HitCount)

		assert.NoError(t, store.TouchCacheEntry(entry.CacheKey, now.Add(time.Second)))
		assert.NoError(t, store.TouchCacheEntry(entry.CacheKey, now.Add(2*time.Second)))
		got, err = store.GetCacheEntry(entry.CacheKey)
		assert.NoError(t, err)
		assert.Equal(t, 2, got.HitCount)

		// Refreshing the same signature replaces the row.
		entry.Result = models.JSONMap{"price": 52000.0}
		entry.ExpiresAt = now.Add(2 * time.Minute)
		assert.NoError(t, store.UpsertCacheEntry(entry))
		got, err = store.GetCacheEntry(entry.CacheKey)
		assert.NoError(t, err)
		assert.Equal(t, float64(52000), got.Result["price"])
		assert.Equal(t, 0, got.HitCount)

		pruned, err := store.PruneCacheEntries(now.Add(time.Hour))
		assert.NoError(t, err)
		assert.Equal(t, int64(1), pruned)

		_, err = store.GetCacheEntry(entry.CacheKey)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Batches", func(t *testing.T) {
		store := newTxStore(t)
		batch := models.TaskBatch{
			ID:                 "b-1",
			TaskIDs:            models.StringList{"t-1", "t-2", "t-3"},
			Status:             models.RunningBatchStatus,
			TotalTasks:         3,
			ParallelExecutions: 2,
			StartTime:          now,
		}
		assert.NoError(t, store.SaveBatch(batch))

		end := now.Add(5 * time.Second)
		batch.Status = models.PartialBatchStatus
		batch.SuccessfulTasks = 2
		batch.FailedTasks = 1
		batch.EndTime = &end
		assert.NoError(t, store.UpdateBatch(batch))

		got, err := store.GetBatch("b-1")
		assert.NoError(t, err)
		assert.Equal(t, models.PartialBatchStatus, got.Status)
		assert.Equal(t, 2, got.SuccessfulTasks)
		assert.Len(t, got.TaskIDs, 3)
	})

	t.Run("AnalyticsUpsert", func(t *testing.T) {
		store := newTxStore(t)
		day := now

		assert.NoError(t, store.ApplyAnalytics(models.AnalyticsDelta{
			UserID: "user-1", TaskID: "t-an", Date: day,
			Success: true, Duration: 1000,
		}))
		assert.NoError(t, store.ApplyAnalytics(models.AnalyticsDelta{
			UserID: "user-1", TaskID: "t-an", Date: day,
			Success: false, Duration: 3000, Retries: 2, Error: "connection refused",
		}))
		assert.NoError(t, store.ApplyAnalytics(models.AnalyticsDelta{
			UserID: "user-1", TaskID: "t-an", Date: day,
			Success: false, Duration: 2000, Error: "connection refused",
		}))

		rows, err := store.QueryAnalytics(storage.AnalyticsFilter{UserID: "user-1", TaskID: "t-an"})
		assert.NoError(t, err)
		assert.Len(t, rows, 1)

		bucket := rows[0]
		assert.Equal(t, 3, bucket.Executions)
		assert.Equal(t, 1, bucket.Successes)
		assert.Equal(t, 2, bucket.Failures)
		assert.Equal(t, 2, bucket.Retries)
		assert.Equal(t, int64(6000), bucket.TotalExecutionTime)
		assert.InDelta(t, 2000, bucket.AverageExecutionTime, 0.01)
		assert.Equal(t, 3, bucket.CacheMisses)
		// Identical errors collapse to a single entry per day.
		assert.Equal(t, models.StringList{"connection refused"}, bucket.Errors)
	})

	t.Run("Templates", func(t *testing.T) {
		store := newTxStore(t)
		tmpl := models.TaskTemplate{
			ID:             "tmpl-gas",
			Name:           "Gas price watch",
			Type:           models.GasMonitorTask,
			Frequency:      "every 5 minutes",
			Defaults:       models.JSONMap{"chain": "ethereum", "max_gas_price": 40.0},
			RequiredFields: models.StringList{"chain"},
			OptionalFields: models.StringList{"max_gas_price"},
			CreatedAt:      now,
		}
		assert.NoError(t, store.SaveTemplate(tmpl))

		got, err := store.GetTemplate("tmpl-gas")
		assert.NoError(t, err)
		assert.Equal(t, models.GasMonitorTask, got.Type)
		assert.Equal(t, models.StringList{"chain"}, got.RequiredFields)

		all, err := store.ListTemplates()
		assert.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = store.GetTemplate("missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
