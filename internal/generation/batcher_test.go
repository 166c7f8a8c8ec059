package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarios(n int) []models.Scenario {
	out := make([]models.Scenario, n)
	for i := range out {
		out[i] = models.Scenario{ID: fmt.Sprintf("s%02d", i), TaskTitle: fmt.Sprintf("task %d", i)}
	}
	return out
}

func TestBatcherFlushesAtSize(t *testing.T) {
	store := newMemStore()
	var flushes []int
	b := NewBatcher(store, "run-1", 3, fastPolicy(1), func(n int) { flushes = append(flushes, n) }, nil, nil)

	ctx := context.Background()
	for _, s := range scenarios(7) {
		require.NoError(t, b.Add(ctx, s))
	}
	assert.Equal(t, []int{3, 6}, flushes)
	assert.Equal(t, 1, b.Pending())

	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, []int{3, 6, 7}, flushes)
	assert.Zero(t, b.Pending())
	assert.Equal(t, 7, store.count())
	assert.Equal(t, 3, store.calls)

	for _, row := range store.rows {
		assert.Equal(t, "run-1", row.RunID)
	}
}

func TestBatcherFlushEmptyIsNoop(t *testing.T) {
	store := newMemStore()
	b := NewBatcher(store, "run-1", 3, fastPolicy(1), nil, nil, nil)
	require.NoError(t, b.Flush(context.Background()))
	assert.Zero(t, store.calls)
}

func TestBatcherIdempotentAcrossRuns(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	collector := metrics.NewCollector()

	first := NewBatcher(store, "run-1", 10, fastPolicy(1), nil, nil, collector)
	for _, s := range scenarios(4) {
		require.NoError(t, first.Add(ctx, s))
	}
	require.NoError(t, first.Flush(ctx))

	second := NewBatcher(store, "run-2", 10, fastPolicy(1), nil, nil, collector)
	for _, s := range scenarios(4) {
		require.NoError(t, second.Add(ctx, s))
	}
	require.NoError(t, second.Flush(ctx))

	assert.Equal(t, 4, store.count())
	assert.Equal(t, 4, first.Inserted())
	assert.Zero(t, second.Inserted())
	assert.Equal(t, 4, second.Flushed())
	assert.Equal(t, int64(4), collector.Snapshot().Counters[metrics.CounterScenariosStored])
}

func TestBatcherRetriesFailedFlush(t *testing.T) {
	store := newMemStore()
	store.failOn = func(call int) error {
		if call == 1 {
			return errors.New("connection reset")
		}
		return nil
	}

	b := NewBatcher(store, "run-1", 10, fastPolicy(3), nil, nil, nil)
	ctx := context.Background()
	for _, s := range scenarios(2) {
		require.NoError(t, b.Add(ctx, s))
	}
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 2, store.count())
}

func TestBatcherKeepsBatchOnFailure(t *testing.T) {
	storeErr := errors.New("disk full")
	store := newMemStore()
	store.failOn = func(int) error { return storeErr }

	b := NewBatcher(store, "run-1", 10, fastPolicy(2), nil, nil, nil)
	ctx := context.Background()
	for _, s := range scenarios(3) {
		require.NoError(t, b.Add(ctx, s))
	}

	err := b.Flush(ctx)
	require.ErrorIs(t, err, storeErr)
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 3, b.Pending())
	assert.Zero(t, b.Flushed())
}
