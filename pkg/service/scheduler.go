package service

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/storage"
)

// realTimeStaleness is the minimum gap between runs of real-time and
// continuous tasks.
const realTimeStaleness = 60 * time.Second

// frequencyLiterals maps the enumerated frequency phrases to their
// next-run deltas. Checked before the generic "every N unit" pattern.
var frequencyLiterals = map[string]time.Duration{
	"real-time":        time.Minute,
	"continuous":       time.Minute,
	"every 5 minutes":  5 * time.Minute,
	"every 30 minutes": 30 * time.Minute,
	"every hour":       time.Hour,
	"hourly":           time.Hour,
	"every 6 hours":    6 * time.Hour,
	"every 12 hours":   12 * time.Hour,
	"every 24 hours":   24 * time.Hour,
	"daily":            24 * time.Hour,
	"weekly":           7 * 24 * time.Hour,
}

var freqPattern = regexp.MustCompile(`^every\s+(\d+)\s+(minute|hour|day)s?$`)

// ParseFrequency resolves a human frequency phrase to a next-run delta.
// Ordered match: exact literal table first, then "every N unit", else
// false (the task is cron-only or manual).
func ParseFrequency(phrase string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(phrase))
	if s == "" {
		return 0, false
	}
	if d, ok := frequencyLiterals[s]; ok {
		return d, true
	}
	m := freqPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch m[2] {
	case "minute":
		return time.Duration(n) * time.Minute, true
	case "hour":
		return time.Duration(n) * time.Hour, true
	case "day":
		return time.Duration(n) * 24 * time.Hour, true
	}
	return 0, false
}

// NextRun computes the task's next scheduled run from its frequency
// phrase, or nil when the phrase yields no periodic schedule.
func NextRun(frequency string, now time.Time) *time.Time {
	d, ok := ParseFrequency(frequency)
	if !ok {
		return nil
	}
	next := now.Add(d)
	return &next
}

func isRealTime(frequency string) bool {
	s := strings.ToLower(strings.TrimSpace(frequency))
	return s == "real-time" || s == "continuous"
}

// IsDue reports whether an active task should run at the given instant:
// its next run has arrived, it has never run, or it is a real-time task
// stale by at least a minute.
func IsDue(t models.Task, now time.Time) bool {
	if t.Status != models.ActiveTaskStatus {
		return false
	}
	if t.NextRun != nil && !t.NextRun.After(now) {
		return true
	}
	if t.NextRun == nil && t.LastRun == nil {
		return true
	}
	if isRealTime(t.Frequency) && t.LastRun != nil && !t.LastRun.After(now.Add(-realTimeStaleness)) {
		return true
	}
	return false
}

// Scheduler selects due tasks for the poll loop. The cron sub-scheduler
// is a separate trigger (see CronScheduler); both funnel into the same
// ExecuteTask entry point.
type Scheduler struct {
	store  storage.Store
	logger Logger
}

func NewScheduler(store storage.Store, logger Logger) *Scheduler {
	return &Scheduler{store: store, logger: logger}
}

// DueTasks returns every active task due at the given instant.
func (s *Scheduler) DueTasks(now time.Time) ([]models.Task, error) {
	active, err := s.store.ListTasks(storage.TaskFilter{
		Statuses: []models.TaskStatus{models.ActiveTaskStatus},
	})
	if err != nil {
		return nil, err
	}
	var due []models.Task
	for _, t := range active {
		if IsDue(t, now) {
			due = append(due, t)
		}
	}
	return due, nil
}
