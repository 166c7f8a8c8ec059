package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

const scenarioTable = "scenario"

// scenarioRecord is the stored shape of a scenario.
type scenarioRecord struct {
	ID                   surrealmodels.RecordID `json:"id"`
	ExperimentID         string                 `json:"experiment_id"`
	RunID                string                 `json:"run_id"`
	Domain               string                 `json:"domain"`
	Tier                 string                 `json:"tier"`
	Repetition           int                    `json:"repetition"`
	ModelID              string                 `json:"model_id"`
	TaskTitle            string                 `json:"task_title"`
	TaskDescription      string                 `json:"task_description"`
	BusinessContext      string                 `json:"business_context"`
	ComplexityLevel      string                 `json:"complexity_level"`
	DomainData           string                 `json:"domain_data"`
	SuccessCriteria      string                 `json:"success_criteria"`
	ControlExpectations  *string                `json:"control_expectations,omitempty"`
	GenerationDurationMs int64                  `json:"generation_duration_ms"`
	CreatedAt            time.Time              `json:"created_at"`
}

func (r scenarioRecord) toModel() (models.Scenario, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Scenario{}, err
	}
	s := models.Scenario{
		ID:                   id,
		ExperimentID:         r.ExperimentID,
		RunID:                r.RunID,
		Domain:               models.Domain(r.Domain),
		Tier:                 models.Tier(r.Tier),
		Repetition:           r.Repetition,
		ModelID:              r.ModelID,
		TaskTitle:            r.TaskTitle,
		TaskDescription:      r.TaskDescription,
		BusinessContext:      r.BusinessContext,
		ComplexityLevel:      r.ComplexityLevel,
		DomainData:           json.RawMessage(r.DomainData),
		SuccessCriteria:      json.RawMessage(r.SuccessCriteria),
		GenerationDurationMs: r.GenerationDurationMs,
		CreatedAt:            r.CreatedAt,
	}
	if r.ControlExpectations != nil {
		s.ControlExpectations = json.RawMessage(*r.ControlExpectations)
	}
	return s, nil
}

func scenarioContent(runID string, s models.Scenario) map[string]any {
	var control *string
	if len(s.ControlExpectations) > 0 {
		v := string(s.ControlExpectations)
		control = &v
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return map[string]any{
		"id":                     surrealmodels.NewRecordID(scenarioTable, s.ID),
		"experiment_id":          s.ExperimentID,
		"run_id":                 runID,
		"domain":                 string(s.Domain),
		"tier":                   string(s.Tier),
		"repetition":             s.Repetition,
		"model_id":               s.ModelID,
		"task_title":             s.TaskTitle,
		"task_description":       s.TaskDescription,
		"business_context":       s.BusinessContext,
		"complexity_level":       s.ComplexityLevel,
		"domain_data":            string(s.DomainData),
		"success_criteria":       string(s.SuccessCriteria),
		"control_expectations":   control,
		"generation_duration_ms": s.GenerationDurationMs,
		"created_at":             createdAt,
	}
}

// InsertScenarios writes a batch of scenarios. Scenarios whose id is already
// stored are skipped, so repeating a batch never duplicates records.
// Returns how many records were new.
func (c *Client) InsertScenarios(ctx context.Context, runID string, batch []models.Scenario) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	ids := make([]surrealmodels.RecordID, len(batch))
	rows := make([]map[string]any, len(batch))
	for i, s := range batch {
		ids[i] = surrealmodels.NewRecordID(scenarioTable, s.ID)
		rows[i] = scenarioContent(runID, s)
	}

	existing, err := surrealdb.Query[[]surrealmodels.RecordID](ctx, c.db, `SELECT VALUE id FROM $ids`, map[string]any{"ids": ids})
	if err != nil {
		return 0, fmt.Errorf("check existing scenarios: %w", wrapQueryError(err))
	}
	skipped := 0
	if existing != nil && len(*existing) > 0 {
		skipped = len((*existing)[0].Result)
	}

	if _, err := surrealdb.Query[any](ctx, c.db, `INSERT IGNORE INTO scenario $rows`, map[string]any{"rows": rows}); err != nil {
		return 0, fmt.Errorf("insert scenarios: %w", wrapQueryError(err))
	}

	return len(batch) - skipped, nil
}

// ListScenarios returns the stored scenarios of an experiment in matrix order.
func (c *Client) ListScenarios(ctx context.Context, experimentID string) ([]models.Scenario, error) {
	results, err := surrealdb.Query[[]scenarioRecord](ctx, c.db, `
		SELECT * FROM scenario
		WHERE experiment_id = $experiment
		ORDER BY domain, tier, repetition, model_id
	`, map[string]any{"experiment": experimentID})
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Scenario{}, nil
	}

	out := make([]models.Scenario, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		s, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("list scenarios: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
