package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/raphaelgruber/scenariogen/internal/models"
)

type scenarioRow struct {
	ID                   string         `db:"id"`
	ExperimentID         string         `db:"experiment_id"`
	RunID                string         `db:"run_id"`
	Domain               string         `db:"domain"`
	Tier                 string         `db:"tier"`
	Repetition           int            `db:"repetition"`
	ModelID              string         `db:"model_id"`
	TaskTitle            string         `db:"task_title"`
	TaskDescription      string         `db:"task_description"`
	BusinessContext      string         `db:"business_context"`
	ComplexityLevel      string         `db:"complexity_level"`
	DomainData           string         `db:"domain_data"`
	SuccessCriteria      string         `db:"success_criteria"`
	ControlExpectations  sql.NullString `db:"control_expectations"`
	GenerationDurationMs int64          `db:"generation_duration_ms"`
	CreatedAt            int64          `db:"created_at"`
}

func newScenarioRow(runID string, s models.Scenario) scenarioRow {
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := scenarioRow{
		ID:                   s.ID,
		ExperimentID:         s.ExperimentID,
		RunID:                runID,
		Domain:               string(s.Domain),
		Tier:                 string(s.Tier),
		Repetition:           s.Repetition,
		ModelID:              s.ModelID,
		TaskTitle:            s.TaskTitle,
		TaskDescription:      s.TaskDescription,
		BusinessContext:      s.BusinessContext,
		ComplexityLevel:      s.ComplexityLevel,
		DomainData:           string(s.DomainData),
		SuccessCriteria:      string(s.SuccessCriteria),
		GenerationDurationMs: s.GenerationDurationMs,
		CreatedAt:            createdAt.UnixMilli(),
	}
	if len(s.ControlExpectations) > 0 {
		row.ControlExpectations = sql.NullString{String: string(s.ControlExpectations), Valid: true}
	}
	return row
}

func (r scenarioRow) toModel() models.Scenario {
	s := models.Scenario{
		ID:                   r.ID,
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
		DomainData:           []byte(r.DomainData),
		SuccessCriteria:      []byte(r.SuccessCriteria),
		GenerationDurationMs: r.GenerationDurationMs,
		CreatedAt:            time.UnixMilli(r.CreatedAt).UTC(),
	}
	if r.ControlExpectations.Valid {
		s.ControlExpectations = []byte(r.ControlExpectations.String)
	}
	return s
}

// InsertScenarios writes a batch in one statement. Rows whose id already
// exists are skipped. Returns how many rows were new.
func (s *Store) InsertScenarios(ctx context.Context, runID string, batch []models.Scenario) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	rows := make([]scenarioRow, len(batch))
	for i, sc := range batch {
		rows[i] = newScenarioRow(runID, sc)
	}

	res, err := s.db.Insert(tableScenarios).
		Rows(rows).
		OnConflict(goqu.DoNothing()).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert scenarios: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert scenarios: rows affected: %w", err)
	}
	return int(n), nil
}

// ListScenarios returns the stored scenarios of an experiment in matrix order.
func (s *Store) ListScenarios(ctx context.Context, experimentID string) ([]models.Scenario, error) {
	var rows []scenarioRow
	err := s.db.From(tableScenarios).
		Where(goqu.Ex{"experiment_id": experimentID}).
		Order(goqu.I("domain").Asc(), goqu.I("tier").Asc(), goqu.I("repetition").Asc(), goqu.I("model_id").Asc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}

	out := make([]models.Scenario, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}
