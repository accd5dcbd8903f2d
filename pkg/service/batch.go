package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/storage"
)

const (
	defaultMaxParallel = 3
	// chunkPacing spaces chunk starts to protect downstream services
	// from burst load.
	chunkPacing = 100 * time.Millisecond
)

// ExecuteFunc is the entry point the coordinator drives; in production
// it is the orchestrator's ExecuteTask.
type ExecuteFunc func(ctx context.Context, taskID string, trig TriggerContext) (models.TaskExecution, error)

// BatchCoordinator partitions task ids into bounded-parallel chunks and
// aggregates one TaskBatch outcome. Chunks run sequentially with pacing
// between them; tasks within a chunk run concurrently. A member failure
// never aborts its siblings.
type BatchCoordinator struct {
	store   storage.Store
	exec    ExecuteFunc
	logger  Logger
	limiter *rate.Limiter
}

func NewBatchCoordinator(store storage.Store, exec ExecuteFunc, logger Logger) *BatchCoordinator {
	return &BatchCoordinator{
		store:   store,
		exec:    exec,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(chunkPacing), 1),
	}
}

// Execute runs the batch and returns the finalized TaskBatch record.
func (bc *BatchCoordinator) Execute(ctx context.Context, taskIDs []string, maxParallel int) (models.TaskBatch, error) {
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}

	batch := models.TaskBatch{
		ID:                 uuid.NewString(),
		TaskIDs:            models.StringList(taskIDs),
		Status:             models.RunningBatchStatus,
		TotalTasks:         len(taskIDs),
		ParallelExecutions: maxParallel,
		StartTime:          time.Now(),
	}
	if err := bc.store.SaveBatch(batch); err != nil {
		return models.TaskBatch{}, errors.Wrap(err, "save batch")
	}

	var mu sync.Mutex
	succeeded, failed := 0, 0

	for start := 0; start < len(taskIDs); start += maxParallel {
		end := start + maxParallel
		if end > len(taskIDs) {
			end = len(taskIDs)
		}
		if err := bc.limiter.Wait(ctx); err != nil {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range taskIDs[start:end] {
			taskID := id
			g.Go(func() error {
				exec, err := bc.exec(gctx, taskID, TriggerContext{
					TriggeredBy: models.APITrigger,
					BatchID:     batch.ID,
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					failed++
					bc.logger.Warnf("Batch %s: task %s failed: %v", batch.ID, taskID, err)
				case exec.Success:
					succeeded++
				default:
					failed++
				}
				// Outcomes are aggregated, never propagated: one
				// failure must not cancel the sibling executions.
				return nil
			})
		}
		_ = g.Wait()
	}

	now := time.Now()
	batch.EndTime = &now
	batch.SuccessfulTasks = succeeded
	batch.FailedTasks = failed
	switch {
	case failed == 0:
		batch.Status = models.CompletedBatchStatus
	case succeeded == 0:
		batch.Status = models.FailedBatchStatus
	default:
		batch.Status = models.PartialBatchStatus
	}
	if err := bc.store.UpdateBatch(batch); err != nil {
		return models.TaskBatch{}, errors.Wrap(err, "finalize batch")
	}
	bc.logger.Infof("Batch %s finished: %d/%d succeeded (%s)", batch.ID, succeeded, batch.TotalTasks, batch.Status)
	return batch, nil
}
