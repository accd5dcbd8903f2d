package models

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
)

type TaskStatus string

const (
	ActiveTaskStatus    TaskStatus = "active"
	PausedTaskStatus    TaskStatus = "paused"
	CompletedTaskStatus TaskStatus = "completed"
	FailedTaskStatus    TaskStatus = "failed"
	ScheduledTaskStatus TaskStatus = "scheduled"
	RunningTaskStatus   TaskStatus = "running"
	RetryingTaskStatus  TaskStatus = "retrying"
)

type TaskType string

const (
	SecurityScanTask      TaskType = "security_scan"
	WalletMonitorTask     TaskType = "wallet_monitor"
	PriceAlertTask        TaskType = "price_alert"
	TradingStrategyTask   TaskType = "trading_strategy"
	ThreatHuntTask        TaskType = "threat_hunt"
	PortfolioTrackerTask  TaskType = "portfolio_tracker"
	NFTMonitorTask        TaskType = "nft_monitor"
	DeFiMonitorTask       TaskType = "defi_monitor"
	GovernanceMonitorTask TaskType = "governance_monitor"
	GasMonitorTask        TaskType = "gas_monitor"
)

// TaskTypes lists every supported task type.
var TaskTypes = []TaskType{
	SecurityScanTask, WalletMonitorTask, PriceAlertTask, TradingStrategyTask,
	ThreatHuntTask, PortfolioTrackerTask, NFTMonitorTask, DeFiMonitorTask,
	GovernanceMonitorTask, GasMonitorTask,
}

type DependencyCondition string

const (
	SuccessCondition    DependencyCondition = "success"
	FailureCondition    DependencyCondition = "failure"
	CompletionCondition DependencyCondition = "completion"
	CustomCondition     DependencyCondition = "custom"
)

// TaskDependency declares that a task may run only once the referenced
// task's latest execution satisfies Condition, after waiting Delay.
type TaskDependency struct {
	TaskID          string              `json:"task_id"`
	Condition       DependencyCondition `json:"condition"`
	CustomCondition string              `json:"custom_condition,omitempty"`
	Delay           time.Duration       `json:"delay,omitempty"` // milliseconds on the wire
}

// TaskRetryConfig controls retry-with-backoff behavior on execution failure.
type TaskRetryConfig struct {
	MaxRetries        int           `json:"max_retries"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	RetryConditions   []string      `json:"retry_conditions"` // subset of the retryable error classes
}

func (c TaskRetryConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Configured reports whether the task carries its own retry config
// rather than relying on engine defaults.
func (c TaskRetryConfig) Configured() bool {
	return c.MaxRetries > 0
}

func (c *TaskRetryConfig) Scan(src interface{}) error {
	if src == nil {
		*c = TaskRetryConfig{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return errors.Errorf("cannot scan %T into TaskRetryConfig", src)
	}
	return json.Unmarshal(b, c)
}

// Task is a persistent automation unit: a recurring monitor, scan or
// simulated strategy owned by a user.
type Task struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Name           string          `json:"name" db:"name"`
	Description    string          `json:"description,omitempty" db:"description"`
	Status         TaskStatus      `json:"status" db:"status"`
	Type           TaskType        `json:"type" db:"type"`
	Frequency      string          `json:"frequency,omitempty" db:"frequency"`
	CronExpression string          `json:"cron_expression,omitempty" db:"cron_expression"`
	Priority       int             `json:"priority" db:"priority"`
	Dependencies   DependencyList  `json:"dependencies,omitempty" db:"dependencies"`
	RetryConfig    TaskRetryConfig `json:"retry_config,omitempty" db:"retry_config"`
	TemplateID     string          `json:"template_id,omitempty" db:"template_id"`

	ExecutionCount int     `json:"execution_count" db:"execution_count"`
	SuccessCount   int     `json:"success_count" db:"success_count"`
	FailureCount   int     `json:"failure_count" db:"failure_count"`
	RetryCount     int     `json:"retry_count" db:"retry_count"`
	SuccessRate    float64 `json:"success_rate" db:"success_rate"`

	LastRun    *time.Time `json:"last_run,omitempty" db:"last_run"`
	NextRun    *time.Time `json:"next_run,omitempty" db:"next_run"`
	LastResult JSONMap    `json:"last_result,omitempty" db:"last_result"`
	LastError  string     `json:"last_error,omitempty" db:"last_error"`

	Config JSONMap `json:"config,omitempty" db:"config"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RecomputeSuccessRate derives SuccessRate from the counters.
// By convention a task that has never executed reports 100.
func (t *Task) RecomputeSuccessRate() {
	if t.ExecutionCount == 0 {
		t.SuccessRate = 100
		return
	}
	t.SuccessRate = math.Round(float64(t.SuccessCount) / float64(t.ExecutionCount) * 100)
}

// Recurring reports whether the task has any periodic schedule left:
// a recognized frequency phrase or a native cron expression.
func (t *Task) Recurring() bool {
	return t.Frequency != "" || t.CronExpression != ""
}
