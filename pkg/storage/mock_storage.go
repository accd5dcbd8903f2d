package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
)

// mockStore implements Store with in-memory maps. It is safe for
// concurrent use so engine tests can exercise parallel executions.
type mockStore struct {
	mu         sync.RWMutex
	tasks      map[string]models.Task
	executions []models.TaskExecution
	cache      map[string]models.TaskCache
	batches    map[string]models.TaskBatch
	analytics  map[string]models.TaskAnalytics
	templates  map[string]models.TaskTemplate
}

// NewMockStore returns an empty in-memory Store.
func NewMockStore() Store {
	return &mockStore{
		tasks:     make(map[string]models.Task),
		cache:     make(map[string]models.TaskCache),
		batches:   make(map[string]models.TaskBatch),
		analytics: make(map[string]models.TaskAnalytics),
		templates: make(map[string]models.TaskTemplate),
	}
}

// Begin returns the store itself: the in-memory fake applies writes
// immediately, so transactions are no-ops.
func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveTask(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) GetTask(id string) (models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return t, nil
}

func matchesTask(t models.Task, f TaskFilter) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DependsOn != "" {
		found := false
		for _, d := range t.Dependencies {
			if d.TaskID == f.DependsOn {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *mockStore) ListTasks(f TaskFilter) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Task
	for _, t := range m.tasks {
		if matchesTask(t, f) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) UpdateTask(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) UpdateTaskStatus(id string, status models.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	m.tasks[id] = t
	return nil
}

func (m *mockStore) DeleteTasks(f TaskFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tasks {
		if matchesTask(t, f) {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

func (m *mockStore) SaveExecution(e models.TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, e)
	return nil
}

func (m *mockStore) FinalizeExecution(e models.TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.executions {
		if m.executions[i].ID == e.ID {
			m.executions[i] = e
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) GetLatestExecution(taskID string) (models.TaskExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.executions) - 1; i >= 0; i-- {
		if m.executions[i].TaskID == taskID {
			return m.executions[i], nil
		}
	}
	return models.TaskExecution{}, ErrNotFound
}

func (m *mockStore) ListExecutions(f ExecutionFilter) ([]models.TaskExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TaskExecution
	for i := len(m.executions) - 1; i >= 0; i-- {
		e := m.executions[i]
		if f.TaskID != "" && e.TaskID != f.TaskID {
			continue
		}
		if f.BatchID != "" && e.BatchID != f.BatchID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) GetCacheEntry(key string) (models.TaskCache, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cache[key]
	if !ok {
		return models.TaskCache{}, ErrNotFound
	}
	return c, nil
}

func (m *mockStore) UpsertCacheEntry(c models.TaskCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[c.CacheKey] = c
	return nil
}

func (m *mockStore) TouchCacheEntry(key string, accessed time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cache[key]
	if !ok {
		return ErrNotFound
	}
	c.HitCount++
	c.LastAccessed = accessed
	m.cache[key] = c
	return nil
}

func (m *mockStore) PruneCacheEntries(expiredBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, c := range m.cache {
		if c.ExpiresAt.Before(expiredBefore) {
			delete(m.cache, k)
			n++
		}
	}
	return n, nil
}

func (m *mockStore) SaveBatch(b models.TaskBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ID] = b
	return nil
}

func (m *mockStore) UpdateBatch(b models.TaskBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; !ok {
		return ErrNotFound
	}
	m.batches[b.ID] = b
	return nil
}

func (m *mockStore) GetBatch(id string) (models.TaskBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return models.TaskBatch{}, ErrNotFound
	}
	return b, nil
}

func analyticsKey(userID, taskID string, day time.Time) string {
	return userID + "|" + taskID + "|" + day.Format("2006-01-02")
}

func (m *mockStore) ApplyAnalytics(d models.AnalyticsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := models.Day(d.Date)
	key := analyticsKey(d.UserID, d.TaskID, day)
	a, ok := m.analytics[key]
	if !ok {
		a = models.TaskAnalytics{UserID: d.UserID, TaskID: d.TaskID, Date: day}
	}
	a.Executions++
	if d.Success {
		a.Successes++
	} else {
		a.Failures++
	}
	a.Retries += d.Retries
	a.TotalExecutionTime += d.Duration
	a.AverageExecutionTime = float64(a.TotalExecutionTime) / float64(a.Executions)
	if d.Cached {
		a.CacheHits++
	} else {
		a.CacheMisses++
	}
	if d.Error != "" {
		seen := false
		for _, e := range a.Errors {
			if e == d.Error {
				seen = true
				break
			}
		}
		if !seen {
			a.Errors = append(a.Errors, d.Error)
		}
	}
	m.analytics[key] = a
	return nil
}

func (m *mockStore) QueryAnalytics(f AnalyticsFilter) ([]models.TaskAnalytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TaskAnalytics
	for _, a := range m.analytics {
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.TaskID != "" && a.TaskID != f.TaskID {
			continue
		}
		if !f.From.IsZero() && a.Date.Before(models.Day(f.From)) {
			continue
		}
		if !f.To.IsZero() && a.Date.After(models.Day(f.To)) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *mockStore) SaveTemplate(t models.TaskTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
	return nil
}

func (m *mockStore) GetTemplate(id string) (models.TaskTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return models.TaskTemplate{}, ErrNotFound
	}
	return t, nil
}

func (m *mockStore) ListTemplates() ([]models.TaskTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TaskTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
