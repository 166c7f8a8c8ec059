package llm

import (
	"context"
	"log/slog"

	"github.com/raphaelgruber/scenariogen/internal/models"
)

// textGenerator is the part of Model used by ScenarioGenerator.
type textGenerator interface {
	GenerateWithSystem(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// ScenarioGenerator turns work units into raw scenario documents.
type ScenarioGenerator struct {
	model  textGenerator
	logger *slog.Logger
}

// NewScenarioGenerator creates a generator backed by model.
func NewScenarioGenerator(model *Model, logger *slog.Logger) *ScenarioGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScenarioGenerator{model: model, logger: logger}
}

// Generate performs one generation call for unit. The unit's model, when
// set, overrides the configured default.
func (g *ScenarioGenerator) Generate(ctx context.Context, unit models.WorkUnit) ([]byte, error) {
	system, user := ScenarioPrompt(unit)
	g.logger.Debug("requesting scenario", "scenario_id", unit.ScenarioID, "model", unit.Model, "domain", unit.Domain, "tier", unit.Tier)

	text, err := g.model.GenerateWithSystem(ctx, unit.Model, system, user)
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}
