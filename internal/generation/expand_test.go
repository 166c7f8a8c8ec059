package generation

import (
	"testing"

	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandOrdersDomainMajor(t *testing.T) {
	req := models.GenerationRequest{
		ExperimentID: "exp-1",
		Domains:      []models.Domain{models.DomainAnalytical, models.DomainPlanning},
		Tiers:        []models.Tier{models.TierSimple, models.TierComplex},
		Repetitions:  2,
		Model:        "model-a",
	}

	units, err := Expand(req)
	require.NoError(t, err)
	require.Len(t, units, 8)

	type key struct {
		domain models.Domain
		tier   models.Tier
		rep    int
	}
	var got []key
	for _, u := range units {
		got = append(got, key{u.Domain, u.Tier, u.Repetition})
		assert.Equal(t, "exp-1", u.ExperimentID)
		assert.Equal(t, "model-a", u.Model)
	}
	assert.Equal(t, []key{
		{models.DomainAnalytical, models.TierSimple, 1},
		{models.DomainAnalytical, models.TierSimple, 2},
		{models.DomainAnalytical, models.TierComplex, 1},
		{models.DomainAnalytical, models.TierComplex, 2},
		{models.DomainPlanning, models.TierSimple, 1},
		{models.DomainPlanning, models.TierSimple, 2},
		{models.DomainPlanning, models.TierComplex, 1},
		{models.DomainPlanning, models.TierComplex, 2},
	}, got)
}

func TestExpandMultipleModels(t *testing.T) {
	units, err := Expand(models.GenerationRequest{
		ExperimentID: "exp-1",
		Domains:      []models.Domain{models.DomainCommunication},
		Tiers:        []models.Tier{models.TierModerate},
		Repetitions:  1,
		Model:        "model-a",
		Models:       []string{"model-b", "model-a"},
	})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "model-a", units[0].Model)
	assert.Equal(t, "model-b", units[1].Model)
	assert.NotEqual(t, units[0].ScenarioID, units[1].ScenarioID)
}

func TestExpandDeduplicates(t *testing.T) {
	units, err := Expand(models.GenerationRequest{
		ExperimentID: "exp-1",
		Domains:      []models.Domain{"Analytical", models.DomainAnalytical},
		Tiers:        []models.Tier{models.TierSimple, models.TierSimple},
		Repetitions:  1,
		Model:        "m",
	})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, models.DomainAnalytical, units[0].Domain)
}

func TestExpandErrors(t *testing.T) {
	valid := models.GenerationRequest{
		ExperimentID: "exp-1",
		Domains:      []models.Domain{models.DomainAnalytical},
		Tiers:        []models.Tier{models.TierSimple},
		Repetitions:  1,
		Model:        "m",
	}

	tests := []struct {
		name    string
		mutate  func(*models.GenerationRequest)
		wantErr error
	}{
		{name: "missing experiment", mutate: func(r *models.GenerationRequest) { r.ExperimentID = "" }, wantErr: ErrInvalidRequest},
		{name: "unknown domain", mutate: func(r *models.GenerationRequest) { r.Domains = []models.Domain{"finance"} }, wantErr: ErrInvalidRequest},
		{name: "unknown tier", mutate: func(r *models.GenerationRequest) { r.Tiers = []models.Tier{"extreme"} }, wantErr: ErrInvalidRequest},
		{name: "negative repetitions", mutate: func(r *models.GenerationRequest) { r.Repetitions = -1 }, wantErr: ErrInvalidRequest},
		{name: "concurrency too high", mutate: func(r *models.GenerationRequest) { r.Concurrency = MaxConcurrency + 1 }, wantErr: ErrInvalidRequest},
		{name: "missing model", mutate: func(r *models.GenerationRequest) { r.Model = "" }, wantErr: ErrInvalidRequest},
		{name: "zero repetitions", mutate: func(r *models.GenerationRequest) { r.Repetitions = 0 }, wantErr: ErrEmptyWorkList},
		{name: "no domains", mutate: func(r *models.GenerationRequest) { r.Domains = nil }, wantErr: ErrEmptyWorkList},
		{name: "no tiers", mutate: func(r *models.GenerationRequest) { r.Tiers = []models.Tier{} }, wantErr: ErrEmptyWorkList},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := Expand(req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestScenarioIDDeterministic(t *testing.T) {
	a := ScenarioID("exp-1", models.DomainPlanning, models.TierSimple, 1, "m")
	b := ScenarioID("exp-1", models.DomainPlanning, models.TierSimple, 1, "m")
	c := ScenarioID("exp-1", models.DomainPlanning, models.TierSimple, 2, "m")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}
