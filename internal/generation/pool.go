package generation

import (
	"context"

	"github.com/raphaelgruber/scenariogen/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool runs work units with at most Limit in flight.
type Pool struct {
	limit int
}

// NewPool creates a pool. A limit below 1 is treated as 1.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{limit: limit}
}

// Limit returns the concurrency bound.
func (p *Pool) Limit() int {
	return p.limit
}

// Run dispatches units to fn in list order, waiting for a free slot before
// each dispatch. The first error returned by fn cancels the context passed
// to the other calls and ends dispatch, as does ctx being done; units
// already dispatched run to completion. Run returns after every dispatched
// fn has returned, with the number of units dispatched and the first error.
func (p *Pool) Run(ctx context.Context, units []models.WorkUnit, fn func(context.Context, models.WorkUnit) error) (int, error) {
	sem := semaphore.NewWeighted(int64(p.limit))
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var g errgroup.Group

	dispatched := 0
	for _, unit := range units {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		// Acquire may win the race against a cancellation that happened
		// while it was waiting.
		if gctx.Err() != nil {
			sem.Release(1)
			break
		}

		dispatched++
		g.Go(func() error {
			defer sem.Release(1)
			// Cancel before the slot is released so the freed slot never
			// dispatches another unit.
			if err := fn(gctx, unit); err != nil {
				cancel()
				return err
			}
			return nil
		})
	}

	return dispatched, g.Wait()
}
