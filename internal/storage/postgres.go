package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore implements storage.Store over sqlx. Begin returns a new
// PostgresStore wrapping the transaction, so services run the same code
// inside and outside transactions.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveTask inserts a new task row.
func (s *PostgresStore) SaveTask(t models.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, user_id, name, description, status, type, frequency, cron_expression,
			priority, dependencies, retry_config, template_id,
			execution_count, success_count, failure_count, retry_count, success_rate,
			last_run, next_run, last_result, last_error, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		t.ID, t.UserID, t.Name, t.Description, t.Status, t.Type, t.Frequency, t.CronExpression,
		t.Priority, t.Dependencies, t.RetryConfig, t.TemplateID,
		t.ExecutionCount, t.SuccessCount, t.FailureCount, t.RetryCount, t.SuccessRate,
		t.LastRun, t.NextRun, t.LastResult, t.LastError, t.Config, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetTask(id string) (models.Task, error) {
	var t models.Task
	err := s.db.Get(&t, "SELECT * FROM tasks WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func taskFilterClause(f storage.TaskFilter, args *[]interface{}) string {
	var where []string
	add := func(cond string, v interface{}) {
		*args = append(*args, v)
		where = append(where, fmt.Sprintf(cond, len(*args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ss[i] = string(st)
		}
		add("status = ANY($%d)", pq.Array(ss))
	}
	if f.DependsOn != "" {
		match, _ := json.Marshal([]map[string]string{{"task_id": f.DependsOn}})
		add("dependencies @> $%d::jsonb", string(match))
	}
	if len(where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(where, " AND ")
}

func (s *PostgresStore) ListTasks(f storage.TaskFilter) ([]models.Task, error) {
	var args []interface{}
	query := "SELECT * FROM tasks" + taskFilterClause(f, &args) + " ORDER BY created_at"
	tasks := []models.Task{}
	if err := s.db.Select(&tasks, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStore) UpdateTask(t models.Task) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET
			name = $2, description = $3, status = $4, frequency = $5, cron_expression = $6,
			priority = $7, dependencies = $8, retry_config = $9,
			execution_count = $10, success_count = $11, failure_count = $12, retry_count = $13,
			success_rate = $14, last_run = $15, next_run = $16, last_result = $17, last_error = $18,
			config = $19, updated_at = $20
		WHERE id = $1`,
		t.ID, t.Name, t.Description, t.Status, t.Frequency, t.CronExpression,
		t.Priority, t.Dependencies, t.RetryConfig,
		t.ExecutionCount, t.SuccessCount, t.FailureCount, t.RetryCount,
		t.SuccessRate, t.LastRun, t.NextRun, t.LastResult, t.LastError,
		t.Config, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateTaskStatus(id string, status models.TaskStatus) error {
	res, err := s.db.Exec("UPDATE tasks SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("update task %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTasks(f storage.TaskFilter) (int64, error) {
	var args []interface{}
	clause := taskFilterClause(f, &args)
	if clause == "" {
		return 0, fmt.Errorf("refusing to delete tasks without a filter")
	}
	res, err := s.db.Exec("DELETE FROM tasks"+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) SaveExecution(e models.TaskExecution) error {
	_, err := s.db.Exec(`
		INSERT INTO task_executions (id, task_id, start_time, end_time, success, result, error,
			duration, retry_count, is_cached, triggered_by, parent_execution_id, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.TaskID, e.StartTime, e.EndTime, e.Success, e.Result, e.Error,
		e.Duration, e.RetryCount, e.IsCached, e.TriggeredBy, e.ParentExecutionID, e.BatchID)
	if err != nil {
		return fmt.Errorf("save execution %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) FinalizeExecution(e models.TaskExecution) error {
	res, err := s.db.Exec(`
		UPDATE task_executions SET end_time = $2, success = $3, result = $4, error = $5,
			duration = $6, retry_count = $7, is_cached = $8
		WHERE id = $1`,
		e.ID, e.EndTime, e.Success, e.Result, e.Error, e.Duration, e.RetryCount, e.IsCached)
	if err != nil {
		return fmt.Errorf("finalize execution %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetLatestExecution(taskID string) (models.TaskExecution, error) {
	var e models.TaskExecution
	err := s.db.Get(&e, "SELECT * FROM task_executions WHERE task_id = $1 ORDER BY start_time DESC LIMIT 1", taskID)
	if err == sql.ErrNoRows {
		return models.TaskExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskExecution{}, fmt.Errorf("latest execution of %s: %w", taskID, err)
	}
	return e, nil
}

func (s *PostgresStore) ListExecutions(f storage.ExecutionFilter) ([]models.TaskExecution, error) {
	var args []interface{}
	var where []string
	if f.TaskID != "" {
		args = append(args, f.TaskID)
		where = append(where, fmt.Sprintf("task_id = $%d", len(args)))
	}
	if f.BatchID != "" {
		args = append(args, f.BatchID)
		where = append(where, fmt.Sprintf("batch_id = $%d", len(args)))
	}
	query := "SELECT * FROM task_executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	execs := []models.TaskExecution{}
	if err := s.db.Select(&execs, query, args...); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}

func (s *PostgresStore) GetCacheEntry(key string) (models.TaskCache, error) {
	var c models.TaskCache
	err := s.db.Get(&c, "SELECT * FROM task_cache WHERE cache_key = $1", key)
	if err == sql.ErrNoRows {
		return models.TaskCache{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskCache{}, fmt.Errorf("get cache entry %s: %w", key, err)
	}
	return c, nil
}

// UpsertCacheEntry replaces the row for the signature; refreshes never
// duplicate entries.
func (s *PostgresStore) UpsertCacheEntry(c models.TaskCache) error {
	_, err := s.db.Exec(`
		INSERT INTO task_cache (cache_key, task_id, result, created_at, expires_at, hit_count, last_accessed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cache_key) DO UPDATE SET
			task_id = EXCLUDED.task_id,
			result = EXCLUDED.result,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			hit_count = 0,
			last_accessed = EXCLUDED.last_accessed`,
		c.CacheKey, c.TaskID, c.Result, c.CreatedAt, c.ExpiresAt, c.HitCount, c.LastAccessed)
	if err != nil {
		return fmt.Errorf("upsert cache entry %s: %w", c.CacheKey, err)
	}
	return nil
}

func (s *PostgresStore) TouchCacheEntry(key string, accessed time.Time) error {
	res, err := s.db.Exec("UPDATE task_cache SET hit_count = hit_count + 1, last_accessed = $2 WHERE cache_key = $1", key, accessed)
	if err != nil {
		return fmt.Errorf("touch cache entry %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PruneCacheEntries(expiredBefore time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM task_cache WHERE expires_at < $1", expiredBefore)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) SaveBatch(b models.TaskBatch) error {
	_, err := s.db.Exec(`
		INSERT INTO task_batches (id, task_ids, status, total_tasks, successful_tasks, failed_tasks,
			parallel_executions, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.TaskIDs, b.Status, b.TotalTasks, b.SuccessfulTasks, b.FailedTasks,
		b.ParallelExecutions, b.StartTime, b.EndTime)
	if err != nil {
		return fmt.Errorf("save batch %s: %w", b.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateBatch(b models.TaskBatch) error {
	res, err := s.db.Exec(`
		UPDATE task_batches SET status = $2, successful_tasks = $3, failed_tasks = $4, end_time = $5
		WHERE id = $1`,
		b.ID, b.Status, b.SuccessfulTasks, b.FailedTasks, b.EndTime)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", b.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetBatch(id string) (models.TaskBatch, error) {
	var b models.TaskBatch
	err := s.db.Get(&b, "SELECT * FROM task_batches WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.TaskBatch{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskBatch{}, fmt.Errorf("get batch %s: %w", id, err)
	}
	return b, nil
}

// ApplyAnalytics upserts the daily bucket with atomic SQL arithmetic so
// concurrent executions never lose increments.
func (s *PostgresStore) ApplyAnalytics(d models.AnalyticsDelta) error {
	day := models.Day(d.Date)
	succ, fail, hit, miss := 0, 0, 0, 0
	if d.Success {
		succ = 1
	} else {
		fail = 1
	}
	if d.Cached {
		hit = 1
	} else {
		miss = 1
	}
	errs := models.StringList{}
	if d.Error != "" {
		errs = models.StringList{d.Error}
	}
	_, err := s.db.Exec(`
		INSERT INTO task_analytics (user_id, task_id, date, executions, successes, failures, retries,
			total_execution_time, average_execution_time, cache_hits, cache_misses, errors)
		VALUES ($1, $2, $3, 1, $4, $5, $6, $7, $7, $8, $9, $10)
		ON CONFLICT (user_id, task_id, date) DO UPDATE SET
			executions = task_analytics.executions + 1,
			successes = task_analytics.successes + EXCLUDED.successes,
			failures = task_analytics.failures + EXCLUDED.failures,
			retries = task_analytics.retries + EXCLUDED.retries,
			total_execution_time = task_analytics.total_execution_time + EXCLUDED.total_execution_time,
			average_execution_time = (task_analytics.total_execution_time + EXCLUDED.total_execution_time)::double precision
				/ (task_analytics.executions + 1),
			cache_hits = task_analytics.cache_hits + EXCLUDED.cache_hits,
			cache_misses = task_analytics.cache_misses + EXCLUDED.cache_misses,
			errors = CASE
				WHEN EXCLUDED.errors = '[]'::jsonb OR task_analytics.errors @> EXCLUDED.errors
					THEN task_analytics.errors
				ELSE task_analytics.errors || EXCLUDED.errors
			END`,
		d.UserID, d.TaskID, day, succ, fail, d.Retries, d.Duration, hit, miss, errs)
	if err != nil {
		return fmt.Errorf("apply analytics for task %s: %w", d.TaskID, err)
	}
	return nil
}

func (s *PostgresStore) QueryAnalytics(f storage.AnalyticsFilter) ([]models.TaskAnalytics, error) {
	var args []interface{}
	var where []string
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.TaskID != "" {
		add("task_id = $%d", f.TaskID)
	}
	if !f.From.IsZero() {
		add("date >= $%d", models.Day(f.From))
	}
	if !f.To.IsZero() {
		add("date <= $%d", models.Day(f.To))
	}
	query := "SELECT * FROM task_analytics"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date"
	out := []models.TaskAnalytics{}
	if err := s.db.Select(&out, query, args...); err != nil {
		return nil, fmt.Errorf("query analytics: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveTemplate(t models.TaskTemplate) error {
	_, err := s.db.Exec(`
		INSERT INTO task_templates (id, name, description, type, frequency, priority, defaults,
			required_fields, optional_fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Name, t.Description, t.Type, t.Frequency, t.Priority, t.Defaults,
		t.RequiredFields, t.OptionalFields, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save template %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(id string) (models.TaskTemplate, error) {
	var t models.TaskTemplate
	err := s.db.Get(&t, "SELECT * FROM task_templates WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.TaskTemplate{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskTemplate{}, fmt.Errorf("get template %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTemplates() ([]models.TaskTemplate, error) {
	out := []models.TaskTemplate{}
	if err := s.db.Select(&out, "SELECT * FROM task_templates ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}
