package service

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/storage"
)

// ErrDependencyBlocked reports that a task's prerequisites are not yet
// satisfied. It is a silent no-op, not a failure: nothing is recorded
// and the task is re-evaluated on the next scheduling pass.
var ErrDependencyBlocked = errors.New("task blocked by unsatisfied dependency")

// TriggerContext tags an execution with what caused it.
type TriggerContext struct {
	TriggeredBy       models.TriggerSource
	ParentExecutionID string
	BatchID           string
}

// Orchestrator composes the store, dispatcher, cache, dependency gate,
// retry policy, schedulers, batch coordinator and analytics into the
// engine's public operations. All shared mutable state (running-task
// ledger, in-process cache, cron registry) lives on this one instance:
// created on service start, drained on Shutdown.
type Orchestrator struct {
	store     storage.Store
	logger    Logger
	registry  *Registry
	cache     *ResultCache
	gate      *DependencyGate
	policy    RetryPolicy
	analytics *AnalyticsAggregator
	scheduler *Scheduler
	cron      *CronScheduler
	batches   *BatchCoordinator
	notifier  NotificationSink

	flight    singleflight.Group
	inFlight  int32
	startedAt time.Time

	pollMu   sync.Mutex
	pollStop chan struct{}
	pollDone chan struct{}
}

func NewOrchestrator(store storage.Store, registry *Registry, notifier NotificationSink, logger Logger) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		logger:    logger,
		registry:  registry,
		cache:     NewResultCache(store, logger),
		gate:      NewDependencyGate(store),
		analytics: NewAnalyticsAggregator(store, logger),
		scheduler: NewScheduler(store, logger),
		notifier:  notifier,
		startedAt: time.Now(),
	}
	o.cron = NewCronScheduler(logger, o.runCronTask)
	o.batches = NewBatchCoordinator(store, o.ExecuteTask, logger)
	return o
}

// Cache exposes the result cache for retention maintenance.
func (o *Orchestrator) Cache() *ResultCache { return o.cache }

// Gate exposes the dependency gate so callers can install a custom
// condition evaluator.
func (o *Orchestrator) Gate() *DependencyGate { return o.gate }

// ExecuteTask runs one task through the full execution state machine.
// Concurrent triggers for the same task id are single-flighted: the
// second caller awaits the in-flight execution's result instead of
// starting a duplicate.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID string, trig TriggerContext) (models.TaskExecution, error) {
	v, err, _ := o.flight.Do(taskID, func() (interface{}, error) {
		return o.executeTask(ctx, taskID, trig)
	})
	if err != nil {
		return models.TaskExecution{}, err
	}
	return v.(models.TaskExecution), nil
}

func (o *Orchestrator) executeTask(ctx context.Context, taskID string, trig TriggerContext) (models.TaskExecution, error) {
	atomic.AddInt32(&o.inFlight, 1)
	defer atomic.AddInt32(&o.inFlight, -1)

	t, err := o.store.GetTask(taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.TaskExecution{}, errors.Wrapf(ErrTaskNotFound, "task %s", taskID)
	}
	if err != nil {
		return models.TaskExecution{}, errors.Wrapf(err, "load task %s", taskID)
	}
	if t.Status != models.ActiveTaskStatus && t.Status != models.ScheduledTaskStatus {
		return models.TaskExecution{}, errors.Wrapf(ErrTaskNotActive, "task %s has status %q", taskID, t.Status)
	}

	gateRes, err := o.gate.Evaluate(t)
	if err != nil {
		return models.TaskExecution{}, errors.Wrapf(err, "evaluate dependencies of task %s", taskID)
	}
	if !gateRes.Satisfied {
		o.logger.Infof("Task %s blocked: %s", taskID, gateRes.Reason)
		return models.TaskExecution{}, ErrDependencyBlocked
	}
	if gateRes.Wait > 0 {
		select {
		case <-time.After(gateRes.Wait):
		case <-ctx.Done():
			return models.TaskExecution{}, ctx.Err()
		}
	}

	now := time.Now()
	exec := models.TaskExecution{
		ID:                uuid.NewString(),
		TaskID:            t.ID,
		StartTime:         now,
		TriggeredBy:       trig.TriggeredBy,
		ParentExecutionID: trig.ParentExecutionID,
		BatchID:           trig.BatchID,
	}
	if exec.TriggeredBy == "" {
		exec.TriggeredBy = models.ManualTrigger
	}
	if err := o.store.SaveExecution(exec); err != nil {
		return models.TaskExecution{}, errors.Wrapf(err, "open execution for task %s", taskID)
	}
	if err := o.store.UpdateTaskStatus(t.ID, models.RunningTaskStatus); err != nil {
		o.logger.Warnf("Failed to mark task %s running: %v", t.ID, err)
	}

	if res, hit := o.cache.Lookup(t); hit {
		o.logger.Infof("Task %s served from cache", t.ID)
		exec.IsCached = true
		return o.settle(t, exec, res, nil), nil
	}

	res, runErr := o.dispatchWithRetry(ctx, &t, &exec)
	return o.settle(t, exec, res, runErr), nil
}

// dispatchWithRetry invokes the strategy, applying the retry policy on
// classified failures. Retries happen inside the same call so the
// single-flight ledger covers the whole retry loop.
func (o *Orchestrator) dispatchWithRetry(ctx context.Context, t *models.Task, exec *models.TaskExecution) (Result, error) {
	cfg := DefaultRetryConfig()
	if t.RetryConfig.Configured() {
		cfg = t.RetryConfig
	}

	for attempt := 0; ; attempt++ {
		res, err := o.registry.Dispatch(ctx, *t)
		if err == nil {
			return res, nil
		}
		dec := o.policy.Decide(cfg, err, attempt)
		if !dec.Retry {
			return nil, err
		}

		t.RetryCount++
		exec.RetryCount++
		if uerr := o.store.UpdateTaskStatus(t.ID, models.RetryingTaskStatus); uerr != nil {
			o.logger.Warnf("Failed to mark task %s retrying: %v", t.ID, uerr)
		}
		o.logger.Infof("Task %s attempt %d failed (%s), retrying in %s: %v",
			t.ID, attempt+1, dec.Class, dec.Delay, err)

		select {
		case <-time.After(dec.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// settle closes the execution record, updates the task's rolling
// counters and schedule, writes through the cache, records analytics
// and fans out to dependents and notifications.
func (o *Orchestrator) settle(t models.Task, exec models.TaskExecution, res Result, runErr error) models.TaskExecution {
	end := time.Now()
	exec.EndTime = &end
	exec.Duration = end.Sub(exec.StartTime).Milliseconds()
	if runErr == nil {
		exec.Success = true
		exec.Result = models.JSONMap(res)
	} else {
		exec.Error = runErr.Error()
	}
	if err := o.store.FinalizeExecution(exec); err != nil {
		o.logger.Errorf("Failed to finalize execution %s: %v", exec.ID, err)
	}

	t.ExecutionCount++
	if exec.Success {
		t.SuccessCount++
		t.LastResult = exec.Result
		t.LastError = ""
	} else {
		t.FailureCount++
		t.LastError = exec.Error
	}
	t.RecomputeSuccessRate()
	start := exec.StartTime
	t.LastRun = &start
	t.NextRun = NextRun(t.Frequency, end)
	t.UpdatedAt = end

	switch {
	case exec.Success && t.Recurring():
		t.Status = models.ActiveTaskStatus
	case exec.Success:
		t.Status = models.CompletedTaskStatus
	case t.Recurring():
		// Recurring tasks simply try again on the next natural schedule.
		t.Status = models.ActiveTaskStatus
	default:
		t.Status = models.FailedTaskStatus
	}
	if err := o.store.UpdateTask(t); err != nil {
		o.logger.Errorf("Failed to update task %s after execution: %v", t.ID, err)
	}

	if exec.Success && !exec.IsCached {
		o.cache.Store(t, res)
	}
	o.analytics.Record(t, exec)

	if exec.Success && res.Alert() {
		go o.notify(t, res)
	}
	go o.triggerDependents(t, exec)

	return exec
}

// notify is best-effort: a delivery failure is logged, never surfaced.
func (o *Orchestrator) notify(t models.Task, res Result) {
	vars := map[string]interface{}{
		"task_id":   t.ID,
		"task_name": t.Name,
		"task_type": string(t.Type),
		"result":    map[string]interface{}(res),
	}
	opts := NotificationOptions{Priority: "high"}
	if cfg, err := models.DecodeConfig(t.Type, t.Config); err == nil {
		ns := cfg.Notification()
		opts.Channels = ns.NotifyChannels
		if ns.NotifyPriority != "" {
			opts.Priority = ns.NotifyPriority
		}
	}
	if err := o.notifier.SendNotification(t.UserID, "task_alert", vars, opts); err != nil {
		o.logger.Errorf("Failed to notify user %s for task %s: %v", t.UserID, t.ID, err)
	}
}

// triggerDependents fans out to tasks declaring a dependency on the
// just-settled task. Fire-and-forget: failures are logged only and
// never fail the triggering execution.
func (o *Orchestrator) triggerDependents(parent models.Task, exec models.TaskExecution) {
	dependents, err := o.store.ListTasks(storage.TaskFilter{
		DependsOn: parent.ID,
		Statuses:  []models.TaskStatus{models.ActiveTaskStatus, models.ScheduledTaskStatus},
	})
	if err != nil {
		o.logger.Errorf("Failed to list dependents of task %s: %v", parent.ID, err)
		return
	}
	for _, dep := range dependents {
		for _, decl := range dep.Dependencies {
			if decl.TaskID != parent.ID || !o.gate.SatisfiedBy(decl, exec) {
				continue
			}
			depID, delay := dep.ID, decl.Delay
			go func() {
				if delay > 0 {
					time.Sleep(delay)
				}
				_, err := o.ExecuteTask(context.Background(), depID, TriggerContext{
					TriggeredBy:       models.DependencyTrigger,
					ParentExecutionID: exec.ID,
				})
				if err != nil && !errors.Is(err, ErrDependencyBlocked) {
					o.logger.Errorf("Dependent task %s failed after %s settled: %v", depID, parent.ID, err)
				}
			}()
			break
		}
	}
}

// ExecuteAllDueTasks runs every due task once, sequentially. Blocked
// tasks are skipped silently; other failures are counted and logged.
func (o *Orchestrator) ExecuteAllDueTasks(ctx context.Context) (executed, failed int, err error) {
	due, err := o.scheduler.DueTasks(time.Now())
	if err != nil {
		return 0, 0, errors.Wrap(err, "select due tasks")
	}
	for _, t := range due {
		exec, err := o.ExecuteTask(ctx, t.ID, TriggerContext{TriggeredBy: models.CronTrigger})
		if errors.Is(err, ErrDependencyBlocked) {
			continue
		}
		if err != nil {
			failed++
			o.logger.Errorf("Due task %s failed: %v", t.ID, err)
			continue
		}
		executed++
		if !exec.Success {
			failed++
		}
	}
	return executed, failed, nil
}

// ExecuteBatch runs the given tasks in bounded-parallel chunks.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, taskIDs []string, maxParallel int) (models.TaskBatch, error) {
	return o.batches.Execute(ctx, taskIDs, maxParallel)
}

// ScheduleCron registers the task's native cron expression with the
// cron sub-scheduler.
func (o *Orchestrator) ScheduleCron(t models.Task) error {
	return o.cron.Schedule(t)
}

// UnscheduleCron removes the task's cron registration.
func (o *Orchestrator) UnscheduleCron(taskID string) {
	o.cron.Unschedule(taskID)
}

func (o *Orchestrator) runCronTask(ctx context.Context, taskID string) {
	_, err := o.ExecuteTask(ctx, taskID, TriggerContext{TriggeredBy: models.CronTrigger})
	if err != nil && !errors.Is(err, ErrDependencyBlocked) {
		o.logger.Errorf("Cron-triggered task %s failed: %v", taskID, err)
	}
}

// GetTaskAnalytics aggregates the user's daily buckets over a range.
func (o *Orchestrator) GetTaskAnalytics(userID string, f storage.AnalyticsFilter) (AnalyticsReport, error) {
	f.UserID = userID
	return o.analytics.Query(f)
}

// CreateTaskFromTemplate instantiates a task from a template, merging
// overrides over the template defaults and validating the typed config
// before anything is persisted.
func (o *Orchestrator) CreateTaskFromTemplate(templateID, userID string, overrides map[string]interface{}) (models.Task, error) {
	tpl, err := o.store.GetTemplate(templateID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Task{}, errors.Wrapf(storage.ErrNotFound, "template %s", templateID)
	}
	if err != nil {
		return models.Task{}, errors.Wrapf(err, "load template %s", templateID)
	}

	cfg := make(models.JSONMap, len(tpl.Defaults)+len(overrides))
	for k, v := range tpl.Defaults {
		cfg[k] = v
	}
	for k, v := range overrides {
		cfg[k] = v
	}
	for _, field := range tpl.RequiredFields {
		if v, ok := cfg[field]; !ok || v == nil || v == "" {
			return models.Task{}, errors.Errorf("template %s: required field %q missing", templateID, field)
		}
	}
	if _, err := models.DecodeConfig(tpl.Type, cfg); err != nil {
		return models.Task{}, errors.Wrapf(err, "template %s config", templateID)
	}

	now := time.Now()
	t := models.Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        tpl.Name,
		Description: tpl.Description,
		Status:      models.ActiveTaskStatus,
		Type:        tpl.Type,
		Frequency:   tpl.Frequency,
		Priority:    tpl.Priority,
		TemplateID:  tpl.ID,
		Config:      cfg,
		NextRun:     NextRun(tpl.Frequency, now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.RecomputeSuccessRate()
	if err := o.store.SaveTask(t); err != nil {
		return models.Task{}, errors.Wrap(err, "save task")
	}
	o.logger.Infof("Created task %s (%s) for user %s from template %s", t.ID, t.Type, userID, templateID)
	return t, nil
}

// StartPolling launches the poll loop that selects and executes due
// tasks at the given interval.
func (o *Orchestrator) StartPolling(ctx context.Context, interval time.Duration) {
	o.pollMu.Lock()
	defer o.pollMu.Unlock()
	if o.pollStop != nil {
		return
	}
	o.pollStop = make(chan struct{})
	o.pollDone = make(chan struct{})
	stop, done := o.pollStop, o.pollDone

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				executed, failed, err := o.ExecuteAllDueTasks(ctx)
				if err != nil {
					o.logger.Errorf("Poll pass failed: %v", err)
					continue
				}
				if executed > 0 || failed > 0 {
					o.logger.Infof("Poll pass: %d executed, %d failed", executed, failed)
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	o.logger.Infof("Scheduler polling every %s", interval)
}

// Shutdown stops the poll loop and the cron runner and clears the
// in-process cache tier.
func (o *Orchestrator) Shutdown() {
	o.pollMu.Lock()
	if o.pollStop != nil {
		close(o.pollStop)
		<-o.pollDone
		o.pollStop = nil
		o.pollDone = nil
	}
	o.pollMu.Unlock()
	o.cron.Stop()
	o.cache.Clear()
	o.logger.Infof("Orchestrator stopped")
}

// SystemHealth is the operational snapshot returned by the health
// endpoint.
type SystemHealth struct {
	ActiveCronJobs int     `json:"active_cron_jobs"`
	InFlightTasks  int     `json:"in_flight_tasks"`
	CacheSize      int     `json:"cache_size"`
	PendingTasks   int     `json:"pending_tasks"`
	MemoryAllocMB  float64 `json:"memory_alloc_mb"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// SystemHealth reports cron registrations, in-flight executions, cache
// size, pending due tasks, process memory and uptime.
func (o *Orchestrator) SystemHealth() SystemHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	pending := 0
	if due, err := o.scheduler.DueTasks(time.Now()); err == nil {
		pending = len(due)
	} else {
		o.logger.Warnf("Failed to count pending tasks: %v", err)
	}

	return SystemHealth{
		ActiveCronJobs: o.cron.Len(),
		InFlightTasks:  int(atomic.LoadInt32(&o.inFlight)),
		CacheSize:      o.cache.Size(),
		PendingTasks:   pending,
		MemoryAllocMB:  float64(mem.Alloc) / (1024 * 1024),
		UptimeSeconds:  time.Since(o.startedAt).Seconds(),
	}
}
