package client_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/scenariogen/internal/client"
	"github.com/raphaelgruber/scenariogen/internal/generation"
	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/raphaelgruber/scenariogen/internal/server"
	"github.com/raphaelgruber/scenariogen/internal/service"
	"github.com/raphaelgruber/scenariogen/internal/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioJSON(unit models.WorkUnit) []byte {
	return []byte(fmt.Sprintf(`{
		"task_title": "Client scenario %d",
		"task_description": "Resolve the %s escalation.",
		"business_context": "An insurance broker.",
		"complexity_level": %q,
		"domain_data": {"rep": %d},
		"success_criteria": ["resolved"]
	}`, unit.Repetition, unit.Domain, unit.Tier, unit.Repetition))
}

// newTestClient starts a real server backed by a temporary SQLite store.
func newTestClient(t *testing.T, gen generation.Generator) *client.Client {
	t.Helper()
	ctx := context.Background()
	if gen == nil {
		gen = generation.GeneratorFunc(func(_ context.Context, unit models.WorkUnit) ([]byte, error) {
			return scenarioJSON(unit), nil
		})
	}

	store, err := sqlstore.New(ctx, sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "client.db"), nil)
	require.NoError(t, err)

	collector := metrics.NewCollector()
	coord := generation.NewCoordinator(gen, store, generation.Config{
		CallTimeout:  time.Second,
		ReplayEvents: 50,
	}, nil, collector)
	runs := service.NewRunManager(coord, store, nil)
	ts := httptest.NewServer(server.New(runs, collector, nil).Handler())

	t.Cleanup(func() {
		ts.Close()
		_ = runs.Shutdown(ctx)
		_ = store.Close(ctx)
	})
	return client.New(ts.URL)
}

func request(experiment string) models.GenerationRequest {
	return models.GenerationRequest{
		ExperimentID: experiment,
		Domains:      []models.Domain{models.DomainProblemSolving},
		Tiers:        []models.Tier{models.TierSimple, models.TierModerate},
		Repetitions:  1,
		Model:        "model-a",
	}
}

func TestHealthAndStats(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ActiveRuns)
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	summary, err := c.Generate(ctx, request("client-exp"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count)
	assert.Len(t, summary.Scenarios, 2)

	scenarios, err := c.ListScenarios(ctx, "client-exp")
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, summary.RunID, scenarios[0].RunID)

	run, err := c.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Stored)
}

func TestGenerateInvalidRequest(t *testing.T) {
	c := newTestClient(t, nil)

	req := request("client-exp")
	req.Tiers = []models.Tier{"legendary"}
	_, err := c.Generate(context.Background(), req)

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), err)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, generation.CodeInvalidRequest, apiErr.Code)
	assert.NotEmpty(t, apiErr.RunID)
}

func TestStartAndStream(t *testing.T) {
	c := newTestClient(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := c.StartRun(ctx, request("stream-exp"))
	require.NoError(t, err)

	var events []models.ProgressEvent
	err = c.StreamEvents(ctx, run.ID, func(ev models.ProgressEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, models.EventComplete, events[len(events)-1].Type)
	assert.Equal(t, run.ID, events[0].RunID)

	runs, err := c.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	recent, err := c.RecentEvents(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, len(events), len(recent))
}

func TestStreamStopsOnCallbackError(t *testing.T) {
	gen := generation.GeneratorFunc(func(_ context.Context, unit models.WorkUnit) ([]byte, error) {
		time.Sleep(10 * time.Millisecond)
		return scenarioJSON(unit), nil
	})
	c := newTestClient(t, gen)
	ctx := context.Background()

	run, err := c.StartRun(ctx, request("abort-exp"))
	require.NoError(t, err)

	errEnough := errors.New("enough")
	err = c.StreamEvents(ctx, run.ID, func(models.ProgressEvent) error { return errEnough })
	assert.ErrorIs(t, err, errEnough)

	_, err = c.StopRun(ctx, run.ID)
	require.NoError(t, err)
}

func TestNotFound(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	_, err := c.GetRun(ctx, "missing")
	assert.True(t, client.IsNotFound(err), err)

	err = c.StreamEvents(ctx, "missing", func(models.ProgressEvent) error { return nil })
	assert.True(t, client.IsNotFound(err), err)
}

func TestStreamDroppedByServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start","runId":"r1","seq":1}`))
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}))
	t.Cleanup(ts.Close)

	var seen []int64
	err := client.New(ts.URL).StreamEvents(context.Background(), "r1", func(ev models.ProgressEvent) error {
		seen = append(seen, ev.Seq)
		return nil
	})
	assert.ErrorIs(t, err, client.ErrStreamDropped)
	assert.Equal(t, []int64{1}, seen)
}
