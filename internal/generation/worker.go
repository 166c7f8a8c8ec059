package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/llm"
	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"github.com/raphaelgruber/scenariogen/internal/models"
)

// Generator is the external generation call. It returns the raw response
// document for unit; validation happens in the worker.
type Generator interface {
	Generate(ctx context.Context, unit models.WorkUnit) ([]byte, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, unit models.WorkUnit) ([]byte, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, unit models.WorkUnit) ([]byte, error) {
	return f(ctx, unit)
}

// UnitResult is the outcome of one work unit after all attempts.
type UnitResult struct {
	Unit     models.WorkUnit
	Scenario *models.Scenario
	Attempts int
	Duration time.Duration
	Err      error

	// Fatal is set for errors that must abort the whole run.
	Fatal bool
	// Abandoned is set when the run was stopped before the unit finished
	// retrying.
	Abandoned bool
}

// Worker performs work units: gate, call, validate, retry.
type Worker struct {
	gen         Generator
	gate        *RateGate
	policy      RetryPolicy
	callTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// NewWorker creates a worker sharing gate with the rest of the run.
func NewWorker(gen Generator, gate *RateGate, policy RetryPolicy, callTimeout time.Duration, logger *slog.Logger, collector *metrics.Collector) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		gen:         gen,
		gate:        gate,
		policy:      policy,
		callTimeout: callTimeout,
		logger:      logger,
		metrics:     collector,
	}
}

// Run performs unit with bounded retries. stopCtx is the run's stop signal:
// it abandons gate waits and backoff sleeps but never an in-flight call.
func (w *Worker) Run(stopCtx context.Context, unit models.WorkUnit) (res UnitResult) {
	start := time.Now()
	res.Unit = unit

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker panicked", "scenario_id", unit.ScenarioID, "panic", r)
			res.Scenario = nil
			res.Err = fmt.Errorf("internal panic: %v", r)
		}
		res.Duration = time.Since(start)
	}()

	scenario, attempts, err := Retry(stopCtx, w.policy, func(attempt int) (*models.Scenario, error) {
		return w.attempt(stopCtx, unit, attempt)
	}, func(attempt int, err error, wait time.Duration) {
		w.metrics.Add(metrics.CounterRetries, 1)
		w.logger.Warn("generation attempt failed, retrying",
			"scenario_id", unit.ScenarioID,
			"unit", unit.String(),
			"attempt", attempt,
			"backoff_ms", wait.Milliseconds(),
			"error", err)
	})

	res.Attempts = attempts
	if err == nil {
		res.Scenario = scenario
		return res
	}

	res.Err = err
	switch {
	case errors.Is(err, llm.ErrFatalAPI):
		res.Fatal = true
	case stopCtx.Err() != nil:
		res.Abandoned = true
	}
	return res
}

// attempt is a single try: acquire the gate, call the generator, validate.
// Stop signals observed at the gate are permanent; everything the generator
// or validation reports is retryable unless it is a fatal API error.
func (w *Worker) attempt(stopCtx context.Context, unit models.WorkUnit, n int) (*models.Scenario, error) {
	if err := w.gate.Acquire(stopCtx); err != nil {
		return nil, Permanent(fmt.Errorf("acquire rate gate: %w", err))
	}

	callCtx := context.WithoutCancel(stopCtx)
	if w.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, w.callTimeout)
		defer cancel()
	}

	w.logger.Debug("generation attempt", "scenario_id", unit.ScenarioID, "attempt", n)
	start := time.Now()
	raw, err := w.gen.Generate(callCtx, unit)
	took := time.Since(start)

	if err != nil {
		if errors.Is(err, llm.ErrFatalAPI) {
			return nil, Permanent(err)
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("generation call timed out after %s: %w", w.callTimeout, err)
		}
		return nil, fmt.Errorf("generation call: %w", err)
	}

	scenario, err := models.DecodeScenario(unit, raw, took)
	if err != nil {
		return nil, err
	}
	return scenario, nil
}
