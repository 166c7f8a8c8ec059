package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	jsoniter "github.com/json-iterator/go"
	"github.com/raphaelgruber/scenariogen/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type runRow struct {
	ID           string         `db:"id"`
	ExperimentID string         `db:"experiment_id"`
	Models       string         `db:"models"`
	Status       string         `db:"status"`
	Total        int            `db:"total"`
	Completed    int            `db:"completed"`
	Failed       int            `db:"failed"`
	Stored       int            `db:"stored"`
	Concurrency  int            `db:"concurrency"`
	Error        sql.NullString `db:"error"`
	StartedAt    int64          `db:"started_at"`
	FinishedAt   sql.NullInt64  `db:"finished_at"`
}

func newRunRow(run models.Run) (runRow, error) {
	runModels := run.Models
	if runModels == nil {
		runModels = []string{}
	}
	encoded, err := json.Marshal(runModels)
	if err != nil {
		return runRow{}, fmt.Errorf("encode models: %w", err)
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	row := runRow{
		ID:           run.ID,
		ExperimentID: run.ExperimentID,
		Models:       string(encoded),
		Status:       string(run.Status),
		Total:        run.Total,
		Completed:    run.Completed,
		Failed:       run.Failed,
		Stored:       run.Stored,
		Concurrency:  run.Concurrency,
		StartedAt:    startedAt.UnixMilli(),
	}
	if run.Error != "" {
		row.Error = sql.NullString{String: run.Error, Valid: true}
	}
	if run.FinishedAt != nil {
		row.FinishedAt = sql.NullInt64{Int64: run.FinishedAt.UnixMilli(), Valid: true}
	}
	return row, nil
}

func (r runRow) toModel() (models.Run, error) {
	var runModels []string
	if err := json.Unmarshal([]byte(r.Models), &runModels); err != nil {
		return models.Run{}, fmt.Errorf("decode models of run %s: %w", r.ID, err)
	}
	run := models.Run{
		ID:           r.ID,
		ExperimentID: r.ExperimentID,
		Models:       runModels,
		Status:       models.RunStatus(r.Status),
		Total:        r.Total,
		Completed:    r.Completed,
		Failed:       r.Failed,
		Stored:       r.Stored,
		Concurrency:  r.Concurrency,
		Error:        r.Error.String,
		StartedAt:    time.UnixMilli(r.StartedAt).UTC(),
	}
	if r.FinishedAt.Valid {
		finished := time.UnixMilli(r.FinishedAt.Int64).UTC()
		run.FinishedAt = &finished
	}
	return run, nil
}

// SaveRun creates or replaces the record of run.
func (s *Store) SaveRun(ctx context.Context, run models.Run) error {
	row, err := newRunRow(run)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	err = s.db.WithTx(func(tx *goqu.TxDatabase) error {
		res, err := tx.Update(tableRuns).
			Set(goqu.Record{
				"experiment_id": row.ExperimentID,
				"models":        row.Models,
				"status":        row.Status,
				"total":         row.Total,
				"completed":     row.Completed,
				"failed":        row.Failed,
				"stored":        row.Stored,
				"concurrency":   row.Concurrency,
				"error":         row.Error,
				"started_at":    row.StartedAt,
				"finished_at":   row.FinishedAt,
			}).
			Where(goqu.C("id").Eq(row.ID)).
			Executor().
			ExecContext(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n > 0 {
			return err
		}
		_, err = tx.Insert(tableRuns).Rows(row).Executor().ExecContext(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns ErrNotFound if it does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var row runRow
	found, err := s.db.From(tableRuns).
		Where(goqu.C("id").Eq(id)).
		ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	run, err := row.toModel()
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recently started runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []runRow
	err := s.db.From(tableRuns).
		Order(goqu.C("started_at").Desc()).
		Limit(uint(limit)).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	out := make([]models.Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, run)
	}
	return out, nil
}

// MarkInterruptedRuns fails every run still recorded as running.
func (s *Store) MarkInterruptedRuns(ctx context.Context) (int, error) {
	res, err := s.db.Update(tableRuns).
		Set(goqu.Record{
			"status":      string(models.RunStatusFailed),
			"error":       models.RunErrorInterrupted,
			"finished_at": time.Now().UnixMilli(),
		}).
		Where(goqu.C("status").Eq(string(models.RunStatusRunning))).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	return int(n), nil
}
