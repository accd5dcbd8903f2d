package models

import "time"

// TaskAnalytics is the daily roll-up for one (user, task, calendar day).
// It is upserted incrementally after every execution.
type TaskAnalytics struct {
	UserID string    `json:"user_id" db:"user_id"`
	TaskID string    `json:"task_id" db:"task_id"`
	Date   time.Time `json:"date" db:"date"` // truncated to the day, UTC

	Executions int `json:"executions" db:"executions"`
	Successes  int `json:"successes" db:"successes"`
	Failures   int `json:"failures" db:"failures"`
	Retries    int `json:"retries" db:"retries"`

	TotalExecutionTime   int64   `json:"total_execution_time" db:"total_execution_time"` // milliseconds
	AverageExecutionTime float64 `json:"average_execution_time" db:"average_execution_time"`

	CacheHits   int `json:"cache_hits" db:"cache_hits"`
	CacheMisses int `json:"cache_misses" db:"cache_misses"`

	Errors StringList `json:"errors,omitempty" db:"errors"` // distinct error strings seen that day
}

// AnalyticsDelta is the increment applied to a daily bucket after one
// execution settles.
type AnalyticsDelta struct {
	UserID   string
	TaskID   string
	Date     time.Time
	Success  bool
	Duration int64 // milliseconds
	Retries  int
	Cached   bool
	Error    string // empty when the execution succeeded
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
