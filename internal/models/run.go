package models

import "time"

// RunStatus represents the state of a generation run.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether s is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// GenerationMethodLLM is reported in every summary produced by the engine.
const GenerationMethodLLM = "llm"

// RunErrorInterrupted is recorded on runs found running after a restart.
const RunErrorInterrupted = "interrupted"

// GenerationRequest asks for domains x tiers x repetitions x models scenarios.
type GenerationRequest struct {
	ExperimentID string   `json:"experimentId" yaml:"experiment"`
	Domains      []Domain `json:"domains" yaml:"domains"`
	Tiers        []Tier   `json:"tiers" yaml:"tiers"`
	Repetitions  int      `json:"repetitions" yaml:"repetitions"`
	Model        string   `json:"model,omitempty" yaml:"model"`
	Models       []string `json:"models,omitempty" yaml:"models"`
	Concurrency  int      `json:"concurrency,omitempty" yaml:"concurrency"`
}

// TargetModels returns Model followed by Models, without blanks or duplicates.
func (r GenerationRequest) TargetModels() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range append([]string{r.Model}, r.Models...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Run is the aggregate state of one generation run.
// Invariant: Completed + Failed <= Total.
type Run struct {
	ID           string     `json:"id"`
	ExperimentID string     `json:"experimentId"`
	Models       []string   `json:"models"`
	Status       RunStatus  `json:"status"`
	Total        int        `json:"total"`
	Completed    int        `json:"completed"`
	Failed       int        `json:"failed"`
	Stored       int        `json:"stored"`
	Concurrency  int        `json:"concurrency"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// Elapsed returns the run duration so far, or its final duration.
func (r Run) Elapsed() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Summary is the final result of a successful run.
type Summary struct {
	RunID                 string     `json:"runId"`
	ExperimentID          string     `json:"experimentId"`
	Count                 int        `json:"count"`
	Failed                int        `json:"failed"`
	GenerationMethod      string     `json:"generationMethod"`
	TotalGenerationTimeMs int64      `json:"totalGenerationTimeMs"`
	Scenarios             []Scenario `json:"scenarios"`
}

// ErrorPayload is returned to callers whose run did not complete.
type ErrorPayload struct {
	Error              string    `json:"error"`
	Message            string    `json:"message"`
	ScenariosGenerated int       `json:"scenariosGenerated"`
	RunID              string    `json:"runId,omitempty"`
	Status             RunStatus `json:"status,omitempty"`
}
