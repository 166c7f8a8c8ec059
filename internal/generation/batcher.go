package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"github.com/raphaelgruber/scenariogen/internal/models"
)

// Store is the durable scenario store. InsertScenarios must treat an
// already stored scenario ID as a no-op and return how many rows were new.
type Store interface {
	InsertScenarios(ctx context.Context, runID string, scenarios []models.Scenario) (int, error)
}

// Pinger is implemented by stores that can check reachability before a run.
type Pinger interface {
	Ping(ctx context.Context) error
}

const defaultBatchSize = 50

// Batcher accumulates scenarios and writes them in batches. It is owned by a
// single goroutine and is not safe for concurrent use.
type Batcher struct {
	store   Store
	runID   string
	size    int
	policy  RetryPolicy
	onFlush func(flushed int)
	logger  *slog.Logger
	metrics *metrics.Collector

	buf      []models.Scenario
	flushed  int
	inserted int
}

// NewBatcher creates a batcher flushing every size scenarios. onFlush, if
// set, is called with the running total of flushed scenarios after each
// successful write.
func NewBatcher(store Store, runID string, size int, policy RetryPolicy, onFlush func(flushed int), logger *slog.Logger, collector *metrics.Collector) *Batcher {
	if size <= 0 {
		size = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		store:   store,
		runID:   runID,
		size:    size,
		policy:  policy,
		onFlush: onFlush,
		logger:  logger,
		metrics: collector,
		buf:     make([]models.Scenario, 0, size),
	}
}

// Add buffers s and flushes when the batch is full.
func (b *Batcher) Add(ctx context.Context, s models.Scenario) error {
	s.RunID = b.runID
	b.buf = append(b.buf, s)
	if len(b.buf) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered scenarios in one store call, retrying under the
// batcher's policy. Inserts are idempotent, so a retried batch never
// duplicates rows. On failure the batch stays buffered.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}

	batch := b.buf
	start := time.Now()
	inserted, attempts, err := Retry(ctx, b.policy, func(int) (int, error) {
		return b.store.InsertScenarios(ctx, b.runID, batch)
	}, func(attempt int, err error, wait time.Duration) {
		b.logger.Warn("scenario batch flush failed, retrying",
			"run_id", b.runID, "batch", len(batch), "attempt", attempt, "backoff_ms", wait.Milliseconds(), "error", err)
	})
	b.metrics.RecordTiming(metrics.OpStoreFlush, time.Since(start))
	if err != nil {
		return fmt.Errorf("flush %d scenarios after %d attempts: %w", len(batch), attempts, err)
	}

	b.flushed += len(batch)
	b.inserted += inserted
	b.metrics.Add(metrics.CounterScenariosStored, int64(inserted))
	b.buf = make([]models.Scenario, 0, b.size)

	b.logger.Debug("scenario batch flushed", "run_id", b.runID, "batch", len(batch), "inserted", inserted, "flushed", b.flushed)
	if b.onFlush != nil {
		b.onFlush(b.flushed)
	}
	return nil
}

// Pending returns the number of buffered, unwritten scenarios.
func (b *Batcher) Pending() int {
	return len(b.buf)
}

// Flushed returns how many scenarios have been written so far, duplicates included.
func (b *Batcher) Flushed() int {
	return b.flushed
}

// Inserted returns how many written scenarios were new to the store.
func (b *Batcher) Inserted() int {
	return b.inserted
}
