// Package generation implements the scenario generation engine: the rate
// gate, retrying workers, the bounded pool, the progress reporter, the
// persistence batcher and the coordinator that ties them together.
package generation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"golang.org/x/time/rate"
)

// RateGate enforces a minimum interval between granted acquisitions,
// shared by every worker of a run. Waiters are served in arrival order.
//
// The limiter schedules grants at fixed slots, so a late timer can land the
// next grant closer than interval to the previous one. Acquire therefore
// also measures from the last actual grant and sleeps off the remainder.
type RateGate struct {
	limiter  *rate.Limiter
	interval time.Duration
	metrics  *metrics.Collector

	mu        sync.Mutex
	lastGrant time.Time
	// granted, if set, observes every grant time under mu.
	granted func(time.Time)
}

// NewRateGate creates a gate granting at most one acquisition per interval.
// An interval <= 0 disables spacing.
func NewRateGate(interval time.Duration, collector *metrics.Collector) *RateGate {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateGate{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		metrics:  collector,
	}
}

// Interval returns the configured minimum spacing.
func (g *RateGate) Interval() time.Duration {
	return g.interval
}

// Acquire blocks until the caller may issue a call or ctx is done.
// An abandoned limiter wait gives its slot back to the gate.
func (g *RateGate) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("rate gate: %w", err)
	}
	if g.interval > 0 {
		if err := g.space(ctx); err != nil {
			return err
		}
	}
	g.metrics.RecordTiming(metrics.OpRateWait, time.Since(start))
	return nil
}

// space holds mu until interval has passed since the previous grant, then
// records the new one. A cancelled wait records nothing.
func (g *RateGate) space(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastGrant.IsZero() {
		if wait := g.interval - time.Since(g.lastGrant); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	g.lastGrant = time.Now()
	if g.granted != nil {
		g.granted(g.lastGrant)
	}
	return nil
}
