package generation

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateGateSpacing(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		workers  int
		each     int
	}{
		{name: "few workers", interval: 25 * time.Millisecond, workers: 3, each: 2},
		{name: "many workers short interval", interval: 7 * time.Millisecond, workers: 8, each: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewRateGate(tt.interval, nil)
			var grants []time.Time
			// Called under the gate's lock.
			gate.granted = func(at time.Time) { grants = append(grants, at) }

			var wg sync.WaitGroup
			for i := 0; i < tt.workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < tt.each; j++ {
						assert.NoError(t, gate.Acquire(context.Background()))
					}
				}()
			}
			wg.Wait()

			n := tt.workers * tt.each
			require.Len(t, grants, n)
			require.True(t, slices.IsSortedFunc(grants, func(a, b time.Time) int { return a.Compare(b) }))
			for i := 1; i < n; i++ {
				assert.GreaterOrEqual(t, grants[i].Sub(grants[i-1]), tt.interval, "grant %d too close to previous", i)
			}
			assert.GreaterOrEqual(t, grants[n-1].Sub(grants[0]), time.Duration(n-1)*tt.interval)
		})
	}
}

func TestRateGateCancelledWait(t *testing.T) {
	gate := NewRateGate(time.Hour, nil)
	require.NoError(t, gate.Acquire(context.Background()), "first acquisition is immediate")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := gate.Acquire(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Less(t, time.Since(start), time.Second, "stop must be observed promptly")
}

func TestRateGateZeroInterval(t *testing.T) {
	gate := NewRateGate(0, nil)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, gate.Acquire(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
