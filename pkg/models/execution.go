package models

import "time"

// TriggerSource identifies what caused an execution.
type TriggerSource string

const (
	CronTrigger       TriggerSource = "cron"
	ManualTrigger     TriggerSource = "manual"
	DependencyTrigger TriggerSource = "dependency"
	APITrigger        TriggerSource = "api"
)

// TaskExecution is one attempt record. Rows are append-only: created at
// execution start, finalized once at completion, never rewritten after.
type TaskExecution struct {
	ID        string     `json:"id" db:"id"`
	TaskID    string     `json:"task_id" db:"task_id"`
	StartTime time.Time  `json:"start_time" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`
	Success   bool       `json:"success" db:"success"`
	Result    JSONMap    `json:"result,omitempty" db:"result"`
	Error     string     `json:"error,omitempty" db:"error"`
	Duration  int64      `json:"duration,omitempty" db:"duration"` // milliseconds
	RetryCount int       `json:"retry_count,omitempty" db:"retry_count"`
	IsCached  bool       `json:"is_cached" db:"is_cached"`

	TriggeredBy       TriggerSource `json:"triggered_by" db:"triggered_by"`
	ParentExecutionID string        `json:"parent_execution_id,omitempty" db:"parent_execution_id"`
	BatchID           string        `json:"batch_id,omitempty" db:"batch_id"`
}
