package storage

import (
	"time"

	"github.com/pkg/errors"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TaskFilter narrows ListTasks / DeleteTasks. Zero fields are ignored.
type TaskFilter struct {
	UserID    string
	Type      models.TaskType
	Statuses  []models.TaskStatus
	DependsOn string // tasks declaring a dependency on this task id
}

// ExecutionFilter narrows ListExecutions. Zero fields are ignored.
type ExecutionFilter struct {
	TaskID  string
	BatchID string
	Limit   int
}

// AnalyticsFilter selects daily buckets for a user over a date range.
type AnalyticsFilter struct {
	UserID string
	TaskID string
	From   time.Time
	To     time.Time
}

// Store defines the persistence operations for the task engine.
// Implementations must provide atomic upsert/replace semantics for
// counters, cache entries and analytics buckets under concurrent writers.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Task operations
	SaveTask(t models.Task) error
	GetTask(id string) (models.Task, error)
	ListTasks(f TaskFilter) ([]models.Task, error)
	UpdateTask(t models.Task) error
	UpdateTaskStatus(id string, status models.TaskStatus) error
	DeleteTasks(f TaskFilter) (int64, error)

	// Execution operations; rows are append-only, finalized exactly once.
	SaveExecution(e models.TaskExecution) error
	FinalizeExecution(e models.TaskExecution) error
	GetLatestExecution(taskID string) (models.TaskExecution, error)
	ListExecutions(f ExecutionFilter) ([]models.TaskExecution, error)

	// Result cache operations (store-backed tier)
	GetCacheEntry(key string) (models.TaskCache, error)
	UpsertCacheEntry(c models.TaskCache) error
	TouchCacheEntry(key string, accessed time.Time) error
	PruneCacheEntries(expiredBefore time.Time) (int64, error)

	// Batch operations
	SaveBatch(b models.TaskBatch) error
	UpdateBatch(b models.TaskBatch) error
	GetBatch(id string) (models.TaskBatch, error)

	// Analytics operations
	ApplyAnalytics(d models.AnalyticsDelta) error
	QueryAnalytics(f AnalyticsFilter) ([]models.TaskAnalytics, error)

	// Template operations
	SaveTemplate(t models.TaskTemplate) error
	GetTemplate(id string) (models.TaskTemplate, error)
	ListTemplates() ([]models.TaskTemplate, error)
}
