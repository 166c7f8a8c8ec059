package models

import "time"

// EventType discriminates ProgressEvent records.
type EventType string

const (
	EventStart            EventType = "start"
	EventScenarioStarted  EventType = "scenario_started"
	EventScenarioComplete EventType = "scenario_complete"
	EventScenarioFailed   EventType = "scenario_failed"
	EventStoring          EventType = "storing"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
)

// Terminal reports whether t closes a run's event stream.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// ProgressEvent is one ordered notification about a generation run.
// It is a flat record: fields that do not apply to Type are left empty.
type ProgressEvent struct {
	Seq   int64     `json:"seq"`
	Type  EventType `json:"type"`
	RunID string    `json:"runId"`

	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`

	Domain     Domain `json:"domain,omitempty"`
	Tier       Tier   `json:"tier,omitempty"`
	Repetition int    `json:"repetition,omitempty"`
	ScenarioID string `json:"scenarioId,omitempty"`
	TaskTitle  string `json:"taskTitle,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`

	ElapsedMs            int64 `json:"elapsedMs"`
	EstimatedRemainingMs int64 `json:"estimatedRemainingMs,omitempty"`

	Scenario *Scenario `json:"scenario,omitempty"`

	// error / scenario_failed payload
	Error              string `json:"error,omitempty"`
	Message            string `json:"message,omitempty"`
	ScenariosGenerated int    `json:"scenariosGenerated,omitempty"`

	// terminal payload
	Status    RunStatus `json:"status,omitempty"`
	Succeeded int       `json:"succeeded,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Summary   *Summary  `json:"summary,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
