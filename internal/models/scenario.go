// Package models defines the data structures shared by the scenario generation engine.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// codec is shared by every model that (de)serialises opaque payloads.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidScenario indicates a generation response that does not satisfy
// the required-field contract. It is retryable.
var ErrInvalidScenario = errors.New("invalid scenario")

// Domain is the business domain a scenario is written for.
type Domain string

const (
	DomainAnalytical     Domain = "analytical"
	DomainPlanning       Domain = "planning"
	DomainCommunication  Domain = "communication"
	DomainProblemSolving Domain = "problem_solving"
)

// Domains lists every supported domain in canonical order.
var Domains = []Domain{DomainAnalytical, DomainPlanning, DomainCommunication, DomainProblemSolving}

// ParseDomain validates a domain name.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Domains {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", s)
}

// Tier is the complexity tier of a scenario.
type Tier string

const (
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierComplex  Tier = "complex"
)

// Tiers lists every supported tier in canonical order.
var Tiers = []Tier{TierSimple, TierModerate, TierComplex}

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Tiers {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// WorkUnit is one (domain, tier, repetition, model) generation task.
// Immutable once expanded.
type WorkUnit struct {
	ScenarioID   string `json:"scenarioId"`
	ExperimentID string `json:"experimentId"`
	Domain       Domain `json:"domain"`
	Tier         Tier   `json:"tier"`
	Repetition   int    `json:"repetition"`
	Model        string `json:"model"`
}

func (u WorkUnit) String() string {
	return fmt.Sprintf("%s/%s/%d/%s", u.Domain, u.Tier, u.Repetition, u.Model)
}

// Scenario is the validated output of a successful WorkUnit.
// DomainData, SuccessCriteria and ControlExpectations are opaque documents
// passed through to the store unchanged.
type Scenario struct {
	ID                   string          `json:"id"`
	ExperimentID         string          `json:"experimentId"`
	RunID                string          `json:"runId,omitempty"`
	Domain               Domain          `json:"domain"`
	Tier                 Tier            `json:"tier"`
	Repetition           int             `json:"repetition"`
	ModelID              string          `json:"modelId"`
	TaskTitle            string          `json:"taskTitle"`
	TaskDescription      string          `json:"taskDescription"`
	BusinessContext      string          `json:"businessContext"`
	ComplexityLevel      string          `json:"complexityLevel"`
	DomainData           json.RawMessage `json:"domainData"`
	SuccessCriteria      json.RawMessage `json:"successCriteria"`
	ControlExpectations  json.RawMessage `json:"controlExpectations,omitempty"`
	GenerationDurationMs int64           `json:"generationDurationMs"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// scenarioPayload is the document shape requested from the model.
type scenarioPayload struct {
	TaskTitle           *string         `json:"task_title"`
	TaskDescription     *string         `json:"task_description"`
	BusinessContext     *string         `json:"business_context"`
	ComplexityLevel     *string         `json:"complexity_level"`
	DomainData          json.RawMessage `json:"domain_data"`
	SuccessCriteria     json.RawMessage `json:"success_criteria"`
	ControlExpectations json.RawMessage `json:"control_expectations"`
}

// DecodeScenario parses a raw generation response for unit and validates it.
// Markdown code fences and text around the JSON object are tolerated.
// Every failure wraps ErrInvalidScenario.
func DecodeScenario(unit WorkUnit, raw []byte, took time.Duration) (*Scenario, error) {
	doc := extractObject(raw)
	if doc == nil {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidScenario)
	}

	var p scenarioPayload
	if err := codec.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	var missing []string
	for name, v := range map[string]*string{
		"task_title":       p.TaskTitle,
		"task_description": p.TaskDescription,
		"business_context": p.BusinessContext,
		"complexity_level": p.ComplexityLevel,
	} {
		if v == nil || strings.TrimSpace(*v) == "" {
			missing = append(missing, name)
		}
	}
	if !isObject(p.DomainData) {
		missing = append(missing, "domain_data")
	}
	if !isObject(p.SuccessCriteria) && !isArray(p.SuccessCriteria) {
		missing = append(missing, "success_criteria")
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: missing or mistyped fields %s", ErrInvalidScenario, strings.Join(missing, ", "))
	}

	s := &Scenario{
		ID:                   unit.ScenarioID,
		ExperimentID:         unit.ExperimentID,
		Domain:               unit.Domain,
		Tier:                 unit.Tier,
		Repetition:           unit.Repetition,
		ModelID:              unit.Model,
		TaskTitle:            strings.TrimSpace(*p.TaskTitle),
		TaskDescription:      *p.TaskDescription,
		BusinessContext:      *p.BusinessContext,
		ComplexityLevel:      strings.TrimSpace(*p.ComplexityLevel),
		DomainData:           compact(p.DomainData),
		SuccessCriteria:      compact(p.SuccessCriteria),
		GenerationDurationMs: took.Milliseconds(),
		CreatedAt:            time.Now().UTC(),
	}
	if isObject(p.ControlExpectations) || isArray(p.ControlExpectations) {
		s.ControlExpectations = compact(p.ControlExpectations)
	}
	return s, nil
}

// extractObject returns the outermost {...} span of raw, or nil.
func extractObject(raw []byte) []byte {
	start := bytes.IndexByte(raw, '{')
	end := bytes.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil
	}
	return raw[start : end+1]
}

func isObject(raw json.RawMessage) bool {
	return jsoniter.Get(raw).ValueType() == jsoniter.ObjectValue
}

func isArray(raw json.RawMessage) bool {
	return jsoniter.Get(raw).ValueType() == jsoniter.ArrayValue
}

// payloadCodec re-encodes opaque payloads: numbers keep their text and
// object keys come out sorted, so equal payloads store identically.
var payloadCodec = jsoniter.Config{
	UseNumber:   true,
	SortMapKeys: true,
	EscapeHTML:  false,
}.Froze()

// compact returns raw without insignificant whitespace. Invalid JSON is
// returned as a copy.
func compact(raw json.RawMessage) json.RawMessage {
	var v any
	if err := payloadCodec.Unmarshal(raw, &v); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	out, err := payloadCodec.Marshal(v)
	if err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	return out
}
