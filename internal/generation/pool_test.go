package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poolUnits(n int) []models.WorkUnit {
	units := make([]models.WorkUnit, n)
	for i := range units {
		units[i] = models.WorkUnit{ScenarioID: fmt.Sprintf("u%02d", i), Repetition: i + 1}
	}
	return units
}

func TestPoolBoundsConcurrency(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		units int
	}{
		{name: "limit below unit count", limit: 3, units: 20},
		{name: "limit equals unit count", limit: 4, units: 4},
		{name: "limit above unit count", limit: 10, units: 2},
		{name: "zero limit means one", limit: 0, units: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(tt.limit)
			var inFlight, peak atomic.Int32

			dispatched, err := pool.Run(context.Background(), poolUnits(tt.units), func(context.Context, models.WorkUnit) error {
				n := inFlight.Add(1)
				for {
					cur := peak.Load()
					if n <= cur || peak.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})

			require.NoError(t, err)
			assert.Equal(t, tt.units, dispatched)
			assert.LessOrEqual(t, int(peak.Load()), pool.Limit())
		})
	}
}

func TestPoolRunsEachUnitOnce(t *testing.T) {
	units := poolUnits(50)
	var (
		mu   sync.Mutex
		seen = make(map[string]int)
	)

	dispatched, err := NewPool(7).Run(context.Background(), units, func(_ context.Context, u models.WorkUnit) error {
		mu.Lock()
		seen[u.ScenarioID]++
		mu.Unlock()
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, len(units), dispatched)
	require.Len(t, seen, len(units))
	for id, n := range seen {
		assert.Equal(t, 1, n, "unit %s", id)
	}
}

func TestPoolDispatchesInListOrder(t *testing.T) {
	units := poolUnits(10)
	var order []string

	_, err := NewPool(1).Run(context.Background(), units, func(_ context.Context, u models.WorkUnit) error {
		order = append(order, u.ScenarioID)
		return nil
	})
	require.NoError(t, err)

	want := make([]string, len(units))
	for i, u := range units {
		want[i] = u.ScenarioID
	}
	assert.Equal(t, want, order)
}

func TestPoolStopsDispatchOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran atomic.Int32
	dispatched, err := NewPool(1).Run(ctx, poolUnits(10), func(context.Context, models.WorkUnit) error {
		if ran.Add(1) == 1 {
			cancel()
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, int32(1), ran.Load())
}

func TestPoolCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dispatched, err := NewPool(3).Run(ctx, poolUnits(5), func(context.Context, models.WorkUnit) error {
		t.Error("no unit may run after cancellation")
		return nil
	})
	assert.NoError(t, err)
	assert.Zero(t, dispatched)
}

func TestPoolFirstErrorStopsDispatch(t *testing.T) {
	errFatal := errors.New("fatal")
	secondRunning := make(chan struct{})
	var (
		ran       atomic.Int32
		cancelled atomic.Int32
	)

	dispatched, err := NewPool(2).Run(context.Background(), poolUnits(10), func(ctx context.Context, u models.WorkUnit) error {
		ran.Add(1)
		switch u.Repetition {
		case 1:
			<-secondRunning
			return errFatal
		case 2:
			close(secondRunning)
			select {
			case <-ctx.Done():
				cancelled.Add(1)
			case <-time.After(time.Second):
			}
		}
		return nil
	})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 2, dispatched, "no unit is dispatched after an error")
	assert.Equal(t, int32(2), ran.Load())
	assert.Equal(t, int32(1), cancelled.Load(), "the in-flight unit sees the cancellation")
}
