package generation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/models"
)

// fakeGenerator records calls and answers through fn.
type fakeGenerator struct {
	delay time.Duration
	fn    func(unit models.WorkUnit, call int) ([]byte, error)

	mu     sync.Mutex
	calls  map[string]int
	starts []time.Time

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeGenerator(fn func(unit models.WorkUnit, call int) ([]byte, error)) *fakeGenerator {
	if fn == nil {
		fn = func(unit models.WorkUnit, _ int) ([]byte, error) { return validResponse(unit), nil }
	}
	return &fakeGenerator{fn: fn, calls: make(map[string]int)}
}

func (g *fakeGenerator) Generate(ctx context.Context, unit models.WorkUnit) ([]byte, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		cur := g.maxInFlight.Load()
		if n <= cur || g.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	g.mu.Lock()
	g.calls[unit.ScenarioID]++
	call := g.calls[unit.ScenarioID]
	g.starts = append(g.starts, time.Now())
	g.mu.Unlock()

	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	return g.fn(unit, call)
}

func (g *fakeGenerator) totalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

func (g *fakeGenerator) callsFor(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[id]
}

func (g *fakeGenerator) startTimes() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]time.Time(nil), g.starts...)
}

func validResponse(unit models.WorkUnit) []byte {
	return []byte(fmt.Sprintf(`{
		"task_title": "Scenario %s",
		"task_description": "Work through the %s case.",
		"business_context": "A regional distributor.",
		"complexity_level": %q,
		"domain_data": {"rep": %d},
		"success_criteria": [{"id": 1}],
		"control_expectations": {"expected_calculations": 1}
	}`, unit.ScenarioID, unit.Domain, unit.Tier, unit.Repetition))
}

// memStore is an idempotent in-memory scenario store.
type memStore struct {
	failOn  func(call int) error
	pingErr error

	mu    sync.Mutex
	rows  map[string]models.Scenario
	calls int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]models.Scenario)}
}

func (s *memStore) InsertScenarios(_ context.Context, runID string, batch []models.Scenario) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn != nil {
		if err := s.failOn(s.calls); err != nil {
			return 0, err
		}
	}
	inserted := 0
	for _, sc := range batch {
		if _, ok := s.rows[sc.ID]; ok {
			continue
		}
		sc.RunID = runID
		s.rows[sc.ID] = sc
		inserted++
	}
	return inserted, nil
}

func (s *memStore) Ping(context.Context) error {
	return s.pingErr
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func testConfig() Config {
	return Config{
		Concurrency:  2,
		CallInterval: 0,
		CallTimeout:  time.Second,
		Retry: RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
		BatchSize:        50,
		ReplayEvents:     1000,
		SubscriberBuffer: 1000,
	}
}

func collect(sub *Subscription) []models.ProgressEvent {
	var out []models.ProgressEvent
	for ev := range sub.C {
		out = append(out, ev)
	}
	return out
}

func countType(events []models.ProgressEvent, t models.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
