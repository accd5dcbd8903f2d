package models

import "time"

type BatchStatus string

const (
	PendingBatchStatus   BatchStatus = "pending"
	RunningBatchStatus   BatchStatus = "running"
	CompletedBatchStatus BatchStatus = "completed"
	FailedBatchStatus    BatchStatus = "failed"
	PartialBatchStatus   BatchStatus = "partial"
)

// TaskBatch tracks one bounded-parallel group of task executions.
// A batch references its member tasks but does not own them.
type TaskBatch struct {
	ID                 string      `json:"id" db:"id"`
	TaskIDs            StringList  `json:"task_ids" db:"task_ids"`
	Status             BatchStatus `json:"status" db:"status"`
	TotalTasks         int         `json:"total_tasks" db:"total_tasks"`
	SuccessfulTasks    int         `json:"successful_tasks" db:"successful_tasks"`
	FailedTasks        int         `json:"failed_tasks" db:"failed_tasks"`
	ParallelExecutions int         `json:"parallel_executions" db:"parallel_executions"`
	StartTime          time.Time   `json:"start_time" db:"start_time"`
	EndTime            *time.Time  `json:"end_time,omitempty" db:"end_time"`
}
