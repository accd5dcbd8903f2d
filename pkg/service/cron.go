package service

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
)

// CronScheduler registers tasks carrying a native cron expression with a
// robfig/cron timer, keyed by task id. Registration is idempotent:
// re-registering replaces the prior entry.
type CronScheduler struct {
	mu      sync.Mutex
	c       *cron.Cron
	parser  cron.Parser
	entries map[string]cron.EntryID
	run     func(ctx context.Context, taskID string)
	logger  Logger
}

// NewCronScheduler starts an empty cron runner. run is invoked for each
// fire with a background context; it is expected to be the orchestrator's
// cron-triggered ExecuteTask path.
func NewCronScheduler(logger Logger, run func(ctx context.Context, taskID string)) *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	c.Start()
	return &CronScheduler{
		c:       c,
		parser:  parser,
		entries: make(map[string]cron.EntryID),
		run:     run,
		logger:  logger,
	}
}

// Schedule registers the task's cron expression. Tasks that are not
// active, or carry no expression, are unscheduled instead.
func (cs *CronScheduler) Schedule(t models.Task) error {
	if t.CronExpression == "" || t.Status != models.ActiveTaskStatus {
		cs.Unschedule(t.ID)
		return nil
	}
	if _, err := cs.parser.Parse(t.CronExpression); err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if prev, ok := cs.entries[t.ID]; ok {
		cs.c.Remove(prev)
	}
	taskID := t.ID
	id, err := cs.c.AddFunc(t.CronExpression, func() {
		cs.run(context.Background(), taskID)
	})
	if err != nil {
		return err
	}
	cs.entries[t.ID] = id
	cs.logger.Infof("Registered cron %q for task %s", t.CronExpression, t.ID)
	return nil
}

// Unschedule removes the task's cron entry if present.
func (cs *CronScheduler) Unschedule(taskID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if id, ok := cs.entries[taskID]; ok {
		cs.c.Remove(id)
		delete(cs.entries, taskID)
		cs.logger.Infof("Unregistered cron for task %s", taskID)
	}
}

// Len returns the number of registered cron entries.
func (cs *CronScheduler) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.entries)
}

// Stop drains the cron runner and clears the registry.
func (cs *CronScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	ctx := cs.c.Stop()
	<-ctx.Done()
	cs.entries = make(map[string]cron.EntryID)
}
