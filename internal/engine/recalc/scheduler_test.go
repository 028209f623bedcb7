package recalc

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerEnqueuesAfterInitialDelay(t *testing.T) {
	store := NewFakeStore()
	s := NewScheduler(store, time.Hour, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return len(store.Snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	jobs := store.Snapshot()
	assert.Equal(t, "scheduled", jobs[0].Reason)
}

func TestSchedulerDoesNotFireBeforeCanceled(t *testing.T) {
	store := NewFakeStore()
	s := NewScheduler(store, time.Hour, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Empty(t, store.Snapshot())
}
