package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"github.com/raphaelgruber/scenariogen/internal/models"
)

var (
	// ErrRunStopped is the cause recorded when a run is stopped externally.
	ErrRunStopped = errors.New("run stopped")

	// ErrStoreUnreachable indicates the store failed its pre-run ping.
	ErrStoreUnreachable = errors.New("store unreachable")

	// ErrAlreadyExecuted is returned when Execute is called twice for a run.
	ErrAlreadyExecuted = errors.New("run already executed")
)

// Error codes carried by RunError and error events.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeEmptyWorkList     = "empty_work_list"
	CodeStoreUnreachable  = "store_unreachable"
	CodeFatalAPI          = "fatal_api_error"
	CodePersistenceFailed = "persistence_failed"
	CodeCancelled         = "cancelled"
)

// RunError describes a run that did not complete.
type RunError struct {
	RunID              string
	Code               string
	Message            string
	Status             models.RunStatus
	ScenariosGenerated int
	Err                error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Payload returns the structured error returned to synchronous callers.
func (e *RunError) Payload() models.ErrorPayload {
	return models.ErrorPayload{
		Error:              e.Code,
		Message:            e.Message,
		ScenariosGenerated: e.ScenariosGenerated,
		RunID:              e.RunID,
		Status:             e.Status,
	}
}

// Config tunes the engine. Zero values fall back to DefaultConfig.
type Config struct {
	// DefaultModel is used when a request names no model.
	DefaultModel     string
	Concurrency      int
	CallInterval     time.Duration
	CallTimeout      time.Duration
	Retry            RetryPolicy
	FlushRetry       RetryPolicy
	BatchSize        int
	ReplayEvents     int
	SubscriberBuffer int
	PingTimeout      time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      1,
		CallInterval:     1500 * time.Millisecond,
		CallTimeout:      120 * time.Second,
		Retry:            DefaultRetryPolicy(),
		FlushRetry:       DefaultRetryPolicy(),
		BatchSize:        defaultBatchSize,
		ReplayEvents:     defaultReplayEvents,
		SubscriberBuffer: defaultSubscriberBuffer,
		PingTimeout:      10 * time.Second,
	}
}

// Run is the handle of one coordinator invocation.
type Run struct {
	id          string
	units       []models.WorkUnit
	concurrency int
	reporter    *Reporter

	stopCtx  context.Context
	stop     context.CancelFunc
	done     chan struct{}
	executed atomic.Bool

	mu      sync.RWMutex
	state   models.Run
	summary *models.Summary
	err     error
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Units returns the expanded work list. It must not be modified.
func (r *Run) Units() []models.WorkUnit { return r.units }

// Stop signals the run to stop dispatching. In-flight calls finish.
func (r *Run) Stop() { r.stop() }

// Stopped reports whether Stop has been called.
func (r *Run) Stopped() bool { return r.stopCtx.Err() != nil }

// Subscribe attaches a live observer, replaying recent events first.
func (r *Run) Subscribe() *Subscription { return r.reporter.Subscribe() }

// SubscribeWithBuffer attaches an observer with a custom live buffer.
func (r *Run) SubscribeWithBuffer(n int) *Subscription { return r.reporter.SubscribeWithBuffer(n) }

// Recent returns the replay backlog.
func (r *Run) Recent() []models.ProgressEvent { return r.reporter.Recent() }

// Done is closed once the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} { return r.done }

// Snapshot returns a copy of the run state.
func (r *Run) Snapshot() models.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.state
	s.Models = append([]string(nil), r.state.Models...)
	return s
}

// Result returns the final summary or error. Valid after Done is closed.
func (r *Run) Result() (*models.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summary, r.err
}

func (r *Run) update(fn func(*models.Run)) {
	r.mu.Lock()
	fn(&r.state)
	r.mu.Unlock()
}

// Coordinator expands requests into runs and executes them.
type Coordinator struct {
	gen     Generator
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector

	// onGrant observes each run's rate gate grants.
	onGrant func(time.Time)
}

// NewCoordinator creates a coordinator. logger and collector may be nil.
func NewCoordinator(gen Generator, store Store, cfg Config, logger *slog.Logger, collector *metrics.Collector) *Coordinator {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.FlushRetry.MaxAttempts <= 0 {
		cfg.FlushRetry = cfg.Retry
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{gen: gen, store: store, cfg: cfg, logger: logger, metrics: collector}
}

// Config returns the effective engine configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Prepare expands req into a new idle run. If the request is invalid or
// expands to nothing, the returned run is already failed with a single
// error event, and the error is a *RunError.
func (c *Coordinator) Prepare(req models.GenerationRequest) (*Run, error) {
	if len(req.TargetModels()) == 0 {
		req.Model = c.cfg.DefaultModel
	}

	id := uuid.NewString()
	stopCtx, stop := context.WithCancel(context.Background())
	run := &Run{
		id:       id,
		reporter: NewReporter(id, c.cfg.ReplayEvents, c.cfg.SubscriberBuffer, c.logger),
		stopCtx:  stopCtx,
		stop:     stop,
		done:     make(chan struct{}),
		state: models.Run{
			ID:           id,
			ExperimentID: req.ExperimentID,
			Models:       req.TargetModels(),
			Status:       models.RunStatusIdle,
		},
	}

	units, err := Expand(req)
	if err != nil {
		code := CodeInvalidRequest
		if errors.Is(err, ErrEmptyWorkList) {
			code = CodeEmptyWorkList
		}
		run.executed.Store(true)
		_, runErr := c.finish(run, time.Now(), tally{}, code, err)
		return run, runErr
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = c.cfg.Concurrency
	}
	concurrency = min(concurrency, MaxConcurrency, len(units))

	run.units = units
	run.concurrency = concurrency
	run.state.Total = len(units)
	run.state.Concurrency = concurrency
	return run, nil
}

// unitMsg is sent by pool goroutines to the tracking actor.
type unitMsg struct {
	started bool
	unit    models.WorkUnit
	result  UnitResult
}

// tally is owned by the tracking actor.
type tally struct {
	succeeded int
	failed    int
	abandoned int
	attempts  int
	stored    int
	scenarios []models.Scenario
}

func (t tally) done() int { return t.succeeded + t.failed }

// Execute runs a prepared run to its terminal status and returns the
// summary, or a *RunError when the run did not complete. Cancelling ctx
// has the same effect as Run.Stop.
func (c *Coordinator) Execute(ctx context.Context, run *Run) (*models.Summary, error) {
	if !run.executed.CompareAndSwap(false, true) {
		select {
		case <-run.done:
			return run.Result()
		default:
			return nil, ErrAlreadyExecuted
		}
	}

	stopWithCtx := context.AfterFunc(ctx, run.Stop)
	defer stopWithCtx()

	logger := c.logger.With("run_id", run.id)
	start := time.Now()
	total := len(run.units)
	run.update(func(s *models.Run) {
		s.Status = models.RunStatusRunning
		s.StartedAt = start
	})
	c.metrics.Add(metrics.CounterRunsStarted, 1)
	logger.Info("generation run started", "experiment_id", run.state.ExperimentID, "units", total, "concurrency", run.concurrency)

	if p, ok := c.store.(Pinger); ok {
		pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PingTimeout)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			return c.finish(run, start, tally{}, CodeStoreUnreachable, fmt.Errorf("%w: %v", ErrStoreUnreachable, err))
		}
	}

	c.publish(run, models.ProgressEvent{
		Type:    models.EventStart,
		Total:   total,
		Message: fmt.Sprintf("generating %d scenarios with concurrency %d", total, run.concurrency),
	})

	dispatchCtx, cancelDispatch := context.WithCancel(run.stopCtx)
	defer cancelDispatch()

	gate := NewRateGate(c.cfg.CallInterval, c.metrics)
	gate.granted = c.onGrant
	worker := NewWorker(c.gen, gate, c.cfg.Retry, c.cfg.CallTimeout, logger, c.metrics)

	msgs := make(chan unitMsg, 2*total)
	toStore := make(chan models.Scenario, total)

	tallyCh := make(chan tally, 1)
	go func() { tallyCh <- c.track(run, start, msgs, toStore) }()

	type persistResult struct {
		stored int
		err    error
	}
	persistCh := make(chan persistResult, 1)
	go func() {
		stored, err := c.persist(context.WithoutCancel(ctx), run, toStore, cancelDispatch)
		persistCh <- persistResult{stored: stored, err: err}
	}()

	// A fatal unit error cancels the context of every other unit.
	dispatched, fatalErr := NewPool(run.concurrency).Run(dispatchCtx, run.units, func(ctx context.Context, u models.WorkUnit) error {
		msgs <- unitMsg{started: true, unit: u}
		res := worker.Run(ctx, u)
		msgs <- unitMsg{unit: u, result: res}
		if res.Fatal {
			return res.Err
		}
		return nil
	})
	close(msgs)

	t := <-tallyCh
	pr := <-persistCh
	t.stored = pr.stored
	persistErr := pr.err

	logger.Debug("dispatch finished", "dispatched", dispatched, "attempts", t.attempts)

	switch {
	case fatalErr != nil:
		return c.finish(run, start, t, CodeFatalAPI, fatalErr)
	case persistErr != nil:
		return c.finish(run, start, t, CodePersistenceFailed, persistErr)
	case run.Stopped() && (dispatched < total || t.abandoned > 0):
		return c.finish(run, start, t, CodeCancelled, ErrRunStopped)
	default:
		return c.finish(run, start, t, "", nil)
	}
}

// track is the single writer of the run counters. It turns unit messages
// into progress events and forwards scenarios to the batcher.
func (c *Coordinator) track(run *Run, start time.Time, msgs <-chan unitMsg, toStore chan<- models.Scenario) tally {
	defer close(toStore)

	var t tally
	total := len(run.units)

	for m := range msgs {
		ev := models.ProgressEvent{
			Domain:     m.unit.Domain,
			Tier:       m.unit.Tier,
			Repetition: m.unit.Repetition,
			ScenarioID: m.unit.ScenarioID,
		}

		if m.started {
			ev.Type = models.EventScenarioStarted
			c.publish(run, withProgress(ev, t.done(), total, start))
			continue
		}

		res := m.result
		t.attempts += res.Attempts
		ev.Attempts = res.Attempts

		if res.Scenario != nil {
			t.succeeded++
			t.scenarios = append(t.scenarios, *res.Scenario)
			toStore <- *res.Scenario

			ev.Type = models.EventScenarioComplete
			ev.TaskTitle = res.Scenario.TaskTitle
			ev.Scenario = res.Scenario
		} else {
			t.failed++
			if res.Abandoned {
				t.abandoned++
			}
			c.metrics.Add(metrics.CounterUnitFailures, 1)
			c.logger.Warn("scenario generation failed",
				"run_id", run.id,
				"scenario_id", res.Unit.ScenarioID,
				"unit", res.Unit.String(),
				"attempts", res.Attempts,
				"abandoned", res.Abandoned,
				"error", res.Err)

			ev.Type = models.EventScenarioFailed
			ev.Error = errorText(res.Err)
		}

		succeeded, failed := t.succeeded, t.failed
		run.update(func(s *models.Run) {
			s.Completed = succeeded
			s.Failed = failed
		})
		c.publish(run, withProgress(ev, t.done(), total, start))
	}
	return t
}

// persist drains scenarios into a batcher and returns how many were
// flushed. On a failed flush it stops dispatch and discards the rest of
// the stream.
func (c *Coordinator) persist(ctx context.Context, run *Run, in <-chan models.Scenario, abort context.CancelFunc) (int, error) {
	total := len(run.units)
	b := NewBatcher(c.store, run.id, c.cfg.BatchSize, c.cfg.FlushRetry, func(flushed int) {
		run.update(func(s *models.Run) { s.Stored = flushed })
		c.publish(run, models.ProgressEvent{
			Type:       models.EventStoring,
			Current:    flushed,
			Total:      total,
			Percentage: percentage(flushed, total),
			Message:    fmt.Sprintf("stored %d of %d scenarios", flushed, total),
		})
	}, c.logger, c.metrics)

	var err error
	for s := range in {
		if err != nil {
			continue
		}
		if err = b.Add(ctx, s); err != nil {
			abort()
		}
	}
	if err == nil {
		if err = b.Flush(ctx); err != nil {
			abort()
		}
	}
	if err != nil {
		c.logger.Error("scenario persistence failed", "run_id", run.id, "flushed", b.Flushed(), "error", err)
	}
	return b.Flushed(), err
}

// finish moves run to its terminal status and publishes the one terminal
// event. code is empty for a completed run.
func (c *Coordinator) finish(run *Run, start time.Time, t tally, code string, cause error) (*models.Summary, error) {
	now := time.Now()
	elapsed := now.Sub(start)
	total := len(run.units)

	status := models.RunStatusCompleted
	switch code {
	case "":
	case CodeCancelled:
		status = models.RunStatusCancelled
	default:
		status = models.RunStatusFailed
	}

	run.update(func(s *models.Run) {
		s.Status = status
		s.Completed = t.succeeded
		s.Failed = t.failed
		s.FinishedAt = &now
		if s.StartedAt.IsZero() {
			s.StartedAt = start
		}
		if cause != nil {
			s.Error = cause.Error()
		}
	})

	logger := c.logger.With("run_id", run.id)
	ev := models.ProgressEvent{
		Current:    t.done(),
		Total:      total,
		Percentage: percentage(t.done(), total),
		ElapsedMs:  elapsed.Milliseconds(),
		Status:     status,
		Succeeded:  t.succeeded,
		Failed:     t.failed,
	}

	var (
		summary *models.Summary
		runErr  *RunError
	)
	if code == "" {
		scenarios := t.scenarios
		if scenarios == nil {
			scenarios = []models.Scenario{}
		}
		summary = &models.Summary{
			RunID:                 run.id,
			ExperimentID:          run.state.ExperimentID,
			Count:                 t.succeeded,
			Failed:                t.failed,
			GenerationMethod:      models.GenerationMethodLLM,
			TotalGenerationTimeMs: elapsed.Milliseconds(),
			Scenarios:             scenarios,
		}
		ev.Type = models.EventComplete
		ev.Summary = summary
		ev.Message = fmt.Sprintf("generated %d of %d scenarios", t.succeeded, total)
		logger.Info("generation run completed", "succeeded", t.succeeded, "failed", t.failed, "duration_ms", elapsed.Milliseconds())
	} else {
		// After a failed flush only the committed scenarios count; the
		// caller re-requests the rest.
		generated := t.succeeded
		if code == CodePersistenceFailed {
			generated = t.stored
		}
		runErr = &RunError{
			RunID:              run.id,
			Code:               code,
			Message:            errorText(cause),
			Status:             status,
			ScenariosGenerated: generated,
			Err:                cause,
		}
		ev.Type = models.EventError
		ev.Error = code
		ev.Message = runErr.Message
		ev.ScenariosGenerated = generated
		if status == models.RunStatusCancelled {
			logger.Info("generation run cancelled", "succeeded", t.succeeded, "failed", t.failed)
		} else {
			c.metrics.Add(metrics.CounterRunsFailed, 1)
			logger.Error("generation run failed", "code", code, "succeeded", t.succeeded, "error", cause)
		}
	}

	c.publish(run, ev)

	run.mu.Lock()
	run.summary = summary
	if runErr != nil {
		run.err = runErr
	}
	run.mu.Unlock()

	run.stop()
	close(run.done)

	if runErr != nil {
		return nil, runErr
	}
	return summary, nil
}

func (c *Coordinator) publish(run *Run, ev models.ProgressEvent) {
	if _, err := run.reporter.Publish(ev); err != nil {
		c.logger.Warn("progress event dropped", "run_id", run.id, "type", ev.Type, "error", err)
	}
}

func withProgress(ev models.ProgressEvent, done, total int, start time.Time) models.ProgressEvent {
	elapsed := time.Since(start)
	ev.Current = done
	ev.Total = total
	ev.Percentage = percentage(done, total)
	ev.ElapsedMs = elapsed.Milliseconds()
	if done > 0 && done < total {
		perUnit := elapsed / time.Duration(done)
		ev.EstimatedRemainingMs = (perUnit * time.Duration(total-done)).Milliseconds()
	}
	return ev
}

func percentage(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(done)/float64(total)*1000) / 10
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
