package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/db"
	"github.com/raphaelgruber/scenariogen/internal/generation"
	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/raphaelgruber/scenariogen/internal/sqlstore"
)

var (
	// ErrRunNotFound indicates no live or stored run has the given ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotLive indicates the run exists only as a stored record, from a
	// previous process, and has no event stream.
	ErrRunNotLive = errors.New("run is not live")
)

const (
	defaultPersistInterval = 5 * time.Second
	defaultRetainedRuns    = 200
	saveTimeout            = 10 * time.Second
)

// RunManager tracks generation runs started through this process.
type RunManager struct {
	coord  *generation.Coordinator
	store  Store
	logger *slog.Logger

	// PersistInterval bounds how often progress of a live run is written.
	PersistInterval time.Duration
	// RetainedRuns caps how many finished runs stay in memory.
	RetainedRuns int

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.RWMutex
	runs  map[string]*generation.Run
	order []string
}

// NewRunManager creates a manager. store may be nil, in which case run
// records are kept in memory only.
func NewRunManager(coord *generation.Coordinator, store Store, logger *slog.Logger) *RunManager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RunManager{
		coord:           coord,
		store:           store,
		logger:          logger,
		PersistInterval: defaultPersistInterval,
		RetainedRuns:    defaultRetainedRuns,
		baseCtx:         ctx,
		cancel:          cancel,
		runs:            make(map[string]*generation.Run),
	}
}

// Start prepares req and executes it in the background. The returned
// snapshot is taken before execution begins. An invalid request yields a
// failed snapshot and a *generation.RunError.
func (m *RunManager) Start(ctx context.Context, req models.GenerationRequest) (models.Run, error) {
	run, err := m.coord.Prepare(req)
	m.register(run)
	if err != nil {
		m.save(ctx, run.Snapshot())
		return run.Snapshot(), err
	}

	m.saveStarting(ctx, run)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, _ = m.execute(m.baseCtx, run)
	}()

	return run.Snapshot(), nil
}

// Generate executes req and waits for the result. It returns the summary
// or the run error, plus every event the run published.
func (m *RunManager) Generate(ctx context.Context, req models.GenerationRequest) (*models.Summary, []models.ProgressEvent, error) {
	run, err := m.coord.Prepare(req)
	m.register(run)
	if err != nil {
		m.save(ctx, run.Snapshot())
		return nil, run.Recent(), err
	}

	m.saveStarting(ctx, run)

	// Large enough for every event of the run, so the collector is never dropped.
	sub := run.SubscribeWithBuffer(3*len(run.Units()) + 16)
	collected := make(chan []models.ProgressEvent, 1)
	go func() {
		var events []models.ProgressEvent
		for ev := range sub.C {
			events = append(events, ev)
		}
		collected <- events
	}()

	m.wg.Add(1)
	summary, err := m.execute(ctx, run)
	m.wg.Done()

	return summary, <-collected, err
}

// execute runs the coordinator, persisting progress while it runs and the
// final record once it is done.
func (m *RunManager) execute(ctx context.Context, run *generation.Run) (summary *models.Summary, err error) {
	logger := m.logger.With("run_id", run.ID())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("generation run panicked", "panic", r)
			run.Stop()
			err = fmt.Errorf("internal panic: %v", r)
		}
	}()

	trackDone := make(chan struct{})
	trackExited := make(chan struct{})
	go func() {
		defer close(trackExited)
		m.track(run, trackDone)
	}()

	summary, err = m.coord.Execute(ctx, run)

	close(trackDone)
	<-trackExited
	m.save(context.WithoutCancel(ctx), run.Snapshot())
	return summary, err
}

// track writes the run record whenever its counters changed, at most once
// per PersistInterval.
func (m *RunManager) track(run *generation.Run, done <-chan struct{}) {
	if m.store == nil {
		return
	}
	interval := m.PersistInterval
	if interval <= 0 {
		interval = defaultPersistInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := run.Snapshot()
	for {
		select {
		case <-done:
			return
		case <-run.Done():
			return
		case <-ticker.C:
			cur := run.Snapshot()
			if cur.Completed == last.Completed && cur.Failed == last.Failed &&
				cur.Stored == last.Stored && cur.Status == last.Status {
				continue
			}
			m.save(m.baseCtx, cur)
			last = cur
		}
	}
}

// saveStarting records the run as running before execution begins, so a
// crash leaves a record that MarkInterrupted can find.
func (m *RunManager) saveStarting(ctx context.Context, run *generation.Run) {
	snap := run.Snapshot()
	snap.Status = models.RunStatusRunning
	if snap.StartedAt.IsZero() {
		snap.StartedAt = time.Now().UTC()
	}
	m.save(ctx, snap)
}

func (m *RunManager) save(ctx context.Context, run models.Run) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := m.store.SaveRun(ctx, run); err != nil {
		m.logger.Warn("failed to persist run", "run_id", run.ID, "status", run.Status, "error", err)
	}
}

func (m *RunManager) register(run *generation.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID()] = run
	m.order = append(m.order, run.ID())

	limit := m.RetainedRuns
	if limit <= 0 {
		limit = defaultRetainedRuns
	}
	for i := 0; len(m.runs) > limit && i < len(m.order); {
		id := m.order[i]
		r, ok := m.runs[id]
		if ok && !r.Snapshot().Status.Terminal() {
			i++
			continue
		}
		delete(m.runs, id)
		m.order = slices.Delete(m.order, i, i+1)
	}
}

func (m *RunManager) live(id string) *generation.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs[id]
}

// Get returns the run with id, live or stored.
func (m *RunManager) Get(ctx context.Context, id string) (models.Run, error) {
	if run := m.live(id); run != nil {
		return run.Snapshot(), nil
	}
	if m.store == nil {
		return models.Run{}, ErrRunNotFound
	}
	stored, err := m.store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) || errors.Is(err, sqlstore.ErrNotFound) {
			return models.Run{}, ErrRunNotFound
		}
		return models.Run{}, fmt.Errorf("get run: %w", err)
	}
	return *stored, nil
}

// List returns live and stored runs, most recently started first. Live
// state wins over the stored record of the same run.
func (m *RunManager) List(ctx context.Context, limit int) ([]models.Run, error) {
	byID := make(map[string]models.Run)

	if m.store != nil {
		stored, err := m.store.ListRuns(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		for _, r := range stored {
			byID[r.ID] = r
		}
	}

	m.mu.RLock()
	for id, run := range m.runs {
		byID[id] = run.Snapshot()
	}
	m.mu.RUnlock()

	runs := make([]models.Run, 0, len(byID))
	for _, r := range byID {
		runs = append(runs, r)
	}
	slices.SortFunc(runs, func(a, b models.Run) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Stop signals a live run to stop dispatching. Stopping a finished run is
// a no-op.
func (m *RunManager) Stop(ctx context.Context, id string) (models.Run, error) {
	run := m.live(id)
	if run == nil {
		if _, err := m.Get(ctx, id); err != nil {
			return models.Run{}, err
		}
		return models.Run{}, ErrRunNotLive
	}
	if !run.Snapshot().Status.Terminal() {
		m.logger.Info("stopping generation run", "run_id", id)
		run.Stop()
	}
	return run.Snapshot(), nil
}

// Wait blocks until the live run id finished or ctx is done.
func (m *RunManager) Wait(ctx context.Context, id string) (models.Run, error) {
	run := m.live(id)
	if run == nil {
		return m.Get(ctx, id)
	}
	select {
	case <-run.Done():
		return run.Snapshot(), nil
	case <-ctx.Done():
		return run.Snapshot(), ctx.Err()
	}
}

// Subscribe attaches a live observer to run id, replaying its backlog.
func (m *RunManager) Subscribe(ctx context.Context, id string) (*generation.Subscription, error) {
	run := m.live(id)
	if run == nil {
		if _, err := m.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrRunNotLive
	}
	return run.Subscribe(), nil
}

// Recent returns the replay backlog of run id.
func (m *RunManager) Recent(ctx context.Context, id string) ([]models.ProgressEvent, error) {
	run := m.live(id)
	if run == nil {
		if _, err := m.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrRunNotLive
	}
	return run.Recent(), nil
}

// ListScenarios returns the stored scenarios of an experiment.
func (m *RunManager) ListScenarios(ctx context.Context, experimentID string) ([]models.Scenario, error) {
	if m.store == nil {
		return []models.Scenario{}, nil
	}
	return m.store.ListScenarios(ctx, experimentID)
}

// MarkInterrupted fails runs a previous process left in running state.
func (m *RunManager) MarkInterrupted(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	n, err := m.store.MarkInterruptedRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	if n > 0 {
		m.logger.Info("marked interrupted runs as failed", "count", n)
	}
	return n, nil
}

// Active returns how many runs are still executing.
func (m *RunManager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, run := range m.runs {
		if !run.Snapshot().Status.Terminal() {
			n++
		}
	}
	return n
}

// Shutdown stops every live run and waits for them to finish their
// in-flight calls and final flush, or for ctx to expire.
func (m *RunManager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, run := range m.runs {
		run.Stop()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
