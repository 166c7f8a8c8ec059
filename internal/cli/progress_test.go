package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"testing"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceOf(events ...models.ProgressEvent) eventSource {
	return func(ctx context.Context, onEvent func(models.ProgressEvent) error) error {
		for _, ev := range events {
			if err := onEvent(ev); err != nil {
				return err
			}
		}
		return nil
	}
}

func runEvents() []models.ProgressEvent {
	return []models.ProgressEvent{
		{Seq: 1, Type: models.EventStart, RunID: "run-1", Total: 2},
		{Seq: 2, Type: models.EventScenarioStarted, RunID: "run-1", Total: 2, Domain: models.DomainAnalytical, Tier: "simple", Repetition: 1},
		{Seq: 3, Type: models.EventScenarioComplete, RunID: "run-1", Current: 1, Total: 2, Domain: models.DomainAnalytical, Tier: "simple", Repetition: 1, TaskTitle: "Quarterly churn review"},
		{Seq: 4, Type: models.EventScenarioFailed, RunID: "run-1", Current: 2, Total: 2, Domain: models.DomainAnalytical, Tier: "simple", Repetition: 2, Attempts: 3, Error: "invalid scenario"},
		{Seq: 5, Type: models.EventComplete, RunID: "run-1", Current: 2, Total: 2, Status: models.RunStatusCompleted, Succeeded: 1, Failed: 1, ElapsedMs: 1200},
	}
}

func update(t *testing.T, m progressModel, msg tea.Msg) progressModel {
	t.Helper()
	next, _ := m.Update(msg)
	pm, ok := next.(progressModel)
	require.True(t, ok)
	return pm
}

func TestProgressModelFoldsEvents(t *testing.T) {
	m := newProgressModel(models.Run{ID: "run-1", Total: 2}, "hint")

	events := runEvents()
	for _, ev := range events[:4] {
		m = update(t, m, eventMsg(ev))
	}

	assert.False(t, m.done)
	assert.Equal(t, 2, m.current)
	assert.Equal(t, 1, m.failed)
	require.Len(t, m.recent, 2)
	assert.Contains(t, m.recent[0], "Quarterly churn review")
	assert.Contains(t, m.recent[1], "invalid scenario")
	assert.Contains(t, m.renderContent(), "2/2 scenarios")

	m = update(t, m, eventMsg(events[4]))
	assert.True(t, m.done)
	require.NotNil(t, m.final)
	assert.Equal(t, models.EventComplete, m.final.Type)
	assert.Contains(t, m.renderContent(), "Succeeded:  1")
}

func TestProgressModelKeepsRecentLinesBounded(t *testing.T) {
	m := newProgressModel(models.Run{ID: "run-1", Total: 20}, "")
	for i := 1; i <= 12; i++ {
		m = update(t, m, eventMsg{Type: models.EventScenarioComplete, Current: i, Total: 20, Repetition: i})
	}
	assert.Len(t, m.recent, recentLines)
	assert.Equal(t, 12, m.current)
}

func TestProgressModelStreamEnd(t *testing.T) {
	t.Run("before terminal event", func(t *testing.T) {
		m := newProgressModel(models.Run{ID: "run-1", Total: 2}, "")
		m = update(t, m, streamEndMsg{})
		assert.True(t, m.done)
		require.Error(t, m.err)
		assert.Contains(t, m.err.Error(), "ended before the run finished")
	})

	t.Run("after terminal event", func(t *testing.T) {
		m := newProgressModel(models.Run{ID: "run-1", Total: 2}, "")
		m = update(t, m, eventMsg(runEvents()[4]))
		m = update(t, m, streamEndMsg{err: errors.New("closed")})
		assert.NoError(t, m.err)
	})
}

func TestProgressModelErrorView(t *testing.T) {
	m := newProgressModel(models.Run{ID: "run-1", Total: 2}, "")
	m = update(t, m, eventMsg{
		Type:               models.EventError,
		RunID:              "run-1",
		Status:             models.RunStatusFailed,
		Error:              "fatal_api_error",
		Message:            "invalid api key",
		ScenariosGenerated: 1,
	})
	assert.True(t, m.done)
	assert.Contains(t, m.renderContent(), "invalid api key")
}

func TestStreamNDJSON(t *testing.T) {
	var buf bytes.Buffer
	final, err := streamNDJSON(context.Background(), &buf, sourceOf(runEvents()...))
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, int64(5), final.Seq)

	var seqs []int64
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var ev models.ProgressEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs)
}

func TestStreamNDJSONWithoutTerminalEvent(t *testing.T) {
	var buf bytes.Buffer
	_, err := streamNDJSON(context.Background(), &buf, sourceOf(runEvents()[:2]...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ended before the run finished")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = streamNDJSON(ctx, &buf, sourceOf())
	assert.ErrorIs(t, err, errDetached)

	failing := func(ctx context.Context, _ func(models.ProgressEvent) error) error { return ctx.Err() }
	_, err = streamNDJSON(ctx, &buf, failing)
	assert.ErrorIs(t, err, errDetached)
}

func TestRunResult(t *testing.T) {
	assert.NoError(t, runResult(nil))
	assert.NoError(t, runResult(&models.ProgressEvent{Type: models.EventComplete}))

	err := runResult(&models.ProgressEvent{
		Type:    models.EventError,
		RunID:   "run-1",
		Status:  models.RunStatusCancelled,
		Error:   "cancelled",
		Message: "run stopped",
	})
	require.Error(t, err)
	assert.Equal(t, "run run-1 cancelled: run stopped (cancelled)", err.Error())
}
