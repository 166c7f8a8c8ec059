package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// runRecord is the stored shape of a generation run.
type runRecord struct {
	ID           surrealmodels.RecordID `json:"id"`
	ExperimentID string                 `json:"experiment_id"`
	Models       []string               `json:"models"`
	Status       string                 `json:"status"`
	Total        int                    `json:"total"`
	Completed    int                    `json:"completed"`
	Failed       int                    `json:"failed"`
	Stored       int                    `json:"stored"`
	Concurrency  int                    `json:"concurrency"`
	Error        *string                `json:"error,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty"`
}

func (r runRecord) toModel() (models.Run, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Run{}, err
	}
	run := models.Run{
		ID:           id,
		ExperimentID: r.ExperimentID,
		Models:       r.Models,
		Status:       models.RunStatus(r.Status),
		Total:        r.Total,
		Completed:    r.Completed,
		Failed:       r.Failed,
		Stored:       r.Stored,
		Concurrency:  r.Concurrency,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
	if r.Error != nil {
		run.Error = *r.Error
	}
	return run, nil
}

func toModels(records []runRecord) ([]models.Run, error) {
	out := make([]models.Run, 0, len(records))
	for _, r := range records {
		run, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// SaveRun creates or replaces the record of run.
func (c *Client) SaveRun(ctx context.Context, run models.Run) error {
	var runErr *string
	if run.Error != "" {
		runErr = &run.Error
	}
	runModels := run.Models
	if runModels == nil {
		runModels = []string{}
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("generation_run", $id) SET
			experiment_id = $experiment_id,
			models = $models,
			status = $status,
			total = $total,
			completed = $completed,
			failed = $failed,
			stored = $stored,
			concurrency = $concurrency,
			error = $error,
			started_at = $started_at,
			finished_at = $finished_at
	`, map[string]any{
		"id":            run.ID,
		"experiment_id": run.ExperimentID,
		"models":        runModels,
		"status":        string(run.Status),
		"total":         run.Total,
		"completed":     run.Completed,
		"failed":        run.Failed,
		"stored":        run.Stored,
		"concurrency":   run.Concurrency,
		"error":         runErr,
		"started_at":    startedAt,
		"finished_at":   run.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("save run: %w", wrapQueryError(err))
	}
	return nil
}

// GetRun retrieves a run by ID. Returns ErrNotFound if it does not exist.
func (c *Client) GetRun(ctx context.Context, id string) (*models.Run, error) {
	results, err := surrealdb.Query[[]runRecord](ctx, c.db, `
		SELECT * FROM type::record("generation_run", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	run, err := (*results)[0].Result[0].toModel()
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recently started runs first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := surrealdb.Query[[]runRecord](ctx, c.db, `
		SELECT * FROM generation_run ORDER BY started_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Run{}, nil
	}
	runs, err := toModels((*results)[0].Result)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// MarkInterruptedRuns fails every run still recorded as running. It is
// called on startup, when no run of this process can be live yet.
func (c *Client) MarkInterruptedRuns(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]runRecord](ctx, c.db, `
		UPDATE generation_run SET
			status = $failed,
			error = $reason,
			finished_at = time::now()
		WHERE status = $running
		RETURN AFTER
	`, map[string]any{
		"failed":  string(models.RunStatusFailed),
		"running": string(models.RunStatusRunning),
		"reason":  models.RunErrorInterrupted,
	})
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}
