package service

import (
	"sort"
	"time"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/storage"
)

// AnalyticsAggregator upserts the per-(user, task, day) roll-up after
// every execution and answers date-range queries.
type AnalyticsAggregator struct {
	store  storage.Store
	logger Logger
}

func NewAnalyticsAggregator(store storage.Store, logger Logger) *AnalyticsAggregator {
	return &AnalyticsAggregator{store: store, logger: logger}
}

// Record folds one settled execution into its daily bucket.
// Best-effort: a failed analytics write never fails the execution.
func (a *AnalyticsAggregator) Record(t models.Task, e models.TaskExecution) {
	delta := models.AnalyticsDelta{
		UserID:   t.UserID,
		TaskID:   t.ID,
		Date:     e.StartTime,
		Success:  e.Success,
		Duration: e.Duration,
		Retries:  e.RetryCount,
		Cached:   e.IsCached,
		Error:    e.Error,
	}
	if err := a.store.ApplyAnalytics(delta); err != nil {
		a.logger.Errorf("Failed to record analytics for task %s: %v", t.ID, err)
	}
}

// ErrorFrequency is one row of the top-N error table.
type ErrorFrequency struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// DayPerformance is one point of the per-day trend series.
type DayPerformance struct {
	Date                 time.Time `json:"date"`
	Executions           int       `json:"executions"`
	SuccessRate          float64   `json:"success_rate"`
	AverageExecutionTime float64   `json:"average_execution_time"`
}

// AnalyticsReport aggregates daily buckets across a date range.
type AnalyticsReport struct {
	TotalExecutions      int              `json:"total_executions"`
	SuccessRate          float64          `json:"success_rate"`
	AverageExecutionTime float64          `json:"average_execution_time"`
	TotalRetries         int              `json:"total_retries"`
	CacheHitRate         float64          `json:"cache_hit_rate"`
	TopErrors            []ErrorFrequency `json:"top_errors"`
	Trend                []DayPerformance `json:"trend"`
}

const topErrorsLimit = 10

// Query builds the summary report for a user over a date range.
func (a *AnalyticsAggregator) Query(f storage.AnalyticsFilter) (AnalyticsReport, error) {
	buckets, err := a.store.QueryAnalytics(f)
	if err != nil {
		return AnalyticsReport{}, err
	}

	var report AnalyticsReport
	var successes, retries, hits, misses int
	var totalTime int64
	errCounts := make(map[string]int)

	// Buckets arrive sorted by date; fold trend points per day across tasks.
	trendIdx := make(map[time.Time]int)
	type dayAgg struct{ execs, succ int; total int64 }
	dayAggs := make(map[time.Time]*dayAgg)

	for _, b := range buckets {
		report.TotalExecutions += b.Executions
		successes += b.Successes
		retries += b.Retries
		hits += b.CacheHits
		misses += b.CacheMisses
		totalTime += b.TotalExecutionTime
		for _, e := range b.Errors {
			errCounts[e]++
		}
		agg, ok := dayAggs[b.Date]
		if !ok {
			agg = &dayAgg{}
			dayAggs[b.Date] = agg
			trendIdx[b.Date] = len(report.Trend)
			report.Trend = append(report.Trend, DayPerformance{Date: b.Date})
		}
		agg.execs += b.Executions
		agg.succ += b.Successes
		agg.total += b.TotalExecutionTime
	}

	for date, agg := range dayAggs {
		p := &report.Trend[trendIdx[date]]
		p.Executions = agg.execs
		if agg.execs > 0 {
			p.SuccessRate = float64(agg.succ) / float64(agg.execs) * 100
			p.AverageExecutionTime = float64(agg.total) / float64(agg.execs)
		}
	}
	sort.Slice(report.Trend, func(i, j int) bool { return report.Trend[i].Date.Before(report.Trend[j].Date) })

	if report.TotalExecutions > 0 {
		report.SuccessRate = float64(successes) / float64(report.TotalExecutions) * 100
		report.AverageExecutionTime = float64(totalTime) / float64(report.TotalExecutions)
	}
	report.TotalRetries = retries
	if hits+misses > 0 {
		report.CacheHitRate = float64(hits) / float64(hits+misses) * 100
	}

	for e, n := range errCounts {
		report.TopErrors = append(report.TopErrors, ErrorFrequency{Error: e, Count: n})
	}
	sort.Slice(report.TopErrors, func(i, j int) bool {
		if report.TopErrors[i].Count != report.TopErrors[j].Count {
			return report.TopErrors[i].Count > report.TopErrors[j].Count
		}
		return report.TopErrors[i].Error < report.TopErrors[j].Error
	})
	if len(report.TopErrors) > topErrorsLimit {
		report.TopErrors = report.TopErrors[:topErrorsLimit]
	}
	return report, nil
}
