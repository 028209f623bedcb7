package recalc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/telemetry-core/internal/appmetrics"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

func TestWorkerDrainOnceClaimsUntilEmpty(t *testing.T) {
	store := NewFakeStore()
	for i := 0; i < 3; i++ {
		_, err := store.Enqueue(context.Background(), model.Job{Kind: model.JobRefreshAllViews, Trigger: model.TriggerManual, Priority: 5})
		require.NoError(t, err)
	}
	exec := &FakeExecutor{}
	w := NewWorker(store, exec, time.Second, time.Minute, appmetrics.New("test"), zerolog.Nop())

	w.drainOnce(context.Background())

	assert.Len(t, exec.Executed, 3)
	for _, j := range store.Snapshot() {
		assert.Equal(t, model.JobDone, j.Status)
	}
}

func TestWorkerMarksJobFailedOnExecutorError(t *testing.T) {
	store := NewFakeStore()
	id, err := store.Enqueue(context.Background(), model.Job{Kind: model.JobRecomputeViolations, Trigger: model.TriggerManual, Priority: 1})
	require.NoError(t, err)

	exec := &FakeExecutor{FailWith: errors.New("boom")}
	w := NewWorker(store, exec, time.Second, time.Minute, appmetrics.New("test"), zerolog.Nop())

	w.drainOnce(context.Background())

	jobs := store.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
	assert.Equal(t, model.JobFailed, jobs[0].Status)
	assert.Equal(t, "boom", jobs[0].Reason)
}

func TestWorkerClaimsReclaimableExpiredLease(t *testing.T) {
	store := NewFakeStore()
	_, err := store.Enqueue(context.Background(), model.Job{Kind: model.JobRefreshAllViews, Trigger: model.TriggerManual})
	require.NoError(t, err)

	job, ok, err := store.ClaimNext(context.Background(), -time.Second) // already-expired lease
	require.NoError(t, err)
	require.True(t, ok)

	reclaimed, ok, err := store.ClaimNext(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, reclaimed.ID)
}

func TestEnqueueSetsPendingStatus(t *testing.T) {
	store := NewFakeStore()
	id, err := Enqueue(context.Background(), store, model.JobRecomputeViolations, model.TriggerFormulaVersionChange, model.JobScope{Identity: "356938035643809"}, "formula_version_change:speeding", 1)
	require.NoError(t, err)

	jobs := store.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
	assert.Equal(t, model.JobPending, jobs[0].Status)
	assert.Equal(t, "356938035643809", jobs[0].Scope.Identity)
}
