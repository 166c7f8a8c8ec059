//go:build integration

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScenario(experiment string, rep int) models.Scenario {
	return models.Scenario{
		ID:                   fmt.Sprintf("%s-analytical-simple-%d", experiment, rep),
		ExperimentID:         experiment,
		Domain:               models.DomainAnalytical,
		Tier:                 models.TierSimple,
		Repetition:           rep,
		ModelID:              "model-a",
		TaskTitle:            fmt.Sprintf("Forecast variation %d", rep),
		TaskDescription:      "Forecast next quarter revenue.",
		BusinessContext:      "A regional retailer.",
		ComplexityLevel:      "simple",
		DomainData:           json.RawMessage(`{"series":[1,2,3]}`),
		SuccessCriteria:      json.RawMessage(`[{"criterion":"accuracy","weight":1}]`),
		GenerationDurationMs: 1200,
		CreatedAt:            time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestPing(t *testing.T) {
	require.NoError(t, testDB.Ping(context.Background()))
}

func TestInsertScenarios(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	batch := []models.Scenario{testScenario("exp-1", 1), testScenario("exp-1", 2)}
	batch[1].ControlExpectations = json.RawMessage(`{"expected_calculations":2}`)

	n, err := testDB.InsertScenarios(ctx, "run-1", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, err := testDB.ListScenarios(ctx, "exp-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)

	assert.Equal(t, batch[0].ID, stored[0].ID)
	assert.Equal(t, "run-1", stored[0].RunID)
	assert.Equal(t, models.DomainAnalytical, stored[0].Domain)
	assert.JSONEq(t, `{"series":[1,2,3]}`, string(stored[0].DomainData))
	assert.JSONEq(t, `[{"criterion":"accuracy","weight":1}]`, string(stored[0].SuccessCriteria))
	assert.Nil(t, stored[0].ControlExpectations)
	assert.JSONEq(t, `{"expected_calculations":2}`, string(stored[1].ControlExpectations))
}

func TestInsertScenariosSkipsExisting(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	n, err := testDB.InsertScenarios(ctx, "run-1", []models.Scenario{testScenario("exp-2", 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again := testScenario("exp-2", 1)
	again.TaskTitle = "changed"
	n, err = testDB.InsertScenarios(ctx, "run-2", []models.Scenario{again, testScenario("exp-2", 2)})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the new scenario counts")

	stored, err := testDB.ListScenarios(ctx, "exp-2")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Forecast variation 1", stored[0].TaskTitle, "existing record is not overwritten")
	assert.Equal(t, "run-1", stored[0].RunID)
}

func TestListScenariosEmpty(t *testing.T) {
	wipe(t)
	stored, err := testDB.ListScenarios(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, stored)
}
