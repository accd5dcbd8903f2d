package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/service"
)

func newCronScheduler(t *testing.T) *service.CronScheduler {
	t.Helper()
	cs := service.NewCronScheduler(testLogger{}, func(ctx context.Context, taskID string) {})
	t.Cleanup(cs.Stop)
	return cs
}

func cronTask(id, expr string) models.Task {
	return models.Task{
		ID:             id,
		UserID:         "u",
		Status:         models.ActiveTaskStatus,
		Type:           models.GasMonitorTask,
		CronExpression: expr,
	}
}

func TestCronScheduleAndUnschedule(t *testing.T) {
	cs := newCronScheduler(t)

	require.NoError(t, cs.Schedule(cronTask("a", "*/5 * * * *")))
	require.NoError(t, cs.Schedule(cronTask("b", "0 9 * * MON")))
	assert.Equal(t, 2, cs.Len())

	cs.Unschedule("a")
	assert.Equal(t, 1, cs.Len())
	cs.Unschedule("a") // absent is a no-op
	assert.Equal(t, 1, cs.Len())
}

func TestCronScheduleIsIdempotent(t *testing.T) {
	cs := newCronScheduler(t)

	require.NoError(t, cs.Schedule(cronTask("a", "*/5 * * * *")))
	require.NoError(t, cs.Schedule(cronTask("a", "0 * * * *")))
	assert.Equal(t, 1, cs.Len())
}

func TestCronRejectsInvalidExpression(t *testing.T) {
	cs := newCronScheduler(t)
	assert.Error(t, cs.Schedule(cronTask("a", "not a cron")))
	assert.Equal(t, 0, cs.Len())
}

func TestCronDescriptorsAreAccepted(t *testing.T) {
	cs := newCronScheduler(t)
	require.NoError(t, cs.Schedule(cronTask("a", "@hourly")))
	assert.Equal(t, 1, cs.Len())
}

func TestCronUnschedulesInactiveTasks(t *testing.T) {
	cs := newCronScheduler(t)
	require.NoError(t, cs.Schedule(cronTask("a", "*/5 * * * *")))

	paused := cronTask("a", "*/5 * * * *")
	paused.Status = models.PausedTaskStatus
	require.NoError(t, cs.Schedule(paused))
	assert.Equal(t, 0, cs.Len())

	noExpr := cronTask("b", "")
	require.NoError(t, cs.Schedule(noExpr))
	assert.Equal(t, 0, cs.Len())
}
