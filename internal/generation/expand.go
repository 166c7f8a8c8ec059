package generation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/raphaelgruber/scenariogen/internal/models"
)

var (
	// ErrInvalidRequest indicates a generation request that cannot be expanded.
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrEmptyWorkList indicates a request that expands to no work units.
	ErrEmptyWorkList = errors.New("empty work list")
)

// MaxConcurrency bounds the per-request concurrency override.
const MaxConcurrency = 10

// scenarioNamespace seeds deterministic scenario IDs.
var scenarioNamespace = uuid.MustParse("6f1d3a2e-8c4b-5e7a-9b0d-2a4c6e8f0b1d")

// ScenarioID derives the stable identifier of one work unit, so that a
// re-requested unit maps onto the same stored record.
func ScenarioID(experimentID string, domain models.Domain, tier models.Tier, repetition int, model string) string {
	key := fmt.Sprintf("%s|%s|%s|%d|%s", experimentID, domain, tier, repetition, model)
	return uuid.NewSHA1(scenarioNamespace, []byte(key)).String()
}

// Validate checks a request for structural problems.
func Validate(req models.GenerationRequest) error {
	if req.ExperimentID == "" {
		return fmt.Errorf("%w: experiment id is required", ErrInvalidRequest)
	}
	for _, d := range req.Domains {
		if _, err := models.ParseDomain(string(d)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	for _, t := range req.Tiers {
		if _, err := models.ParseTier(string(t)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if req.Repetitions < 0 {
		return fmt.Errorf("%w: repetitions must not be negative", ErrInvalidRequest)
	}
	if req.Concurrency < 0 || req.Concurrency > MaxConcurrency {
		return fmt.Errorf("%w: concurrency must be between 1 and %d", ErrInvalidRequest, MaxConcurrency)
	}
	if len(req.Domains) > 0 && len(req.Tiers) > 0 && req.Repetitions > 0 && len(req.TargetModels()) == 0 {
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	return nil
}

// Expand validates req and returns its work list, ordered domain-major:
// domains x tiers x repetitions x models. Repeated domains or tiers are
// expanded once.
func Expand(req models.GenerationRequest) ([]models.WorkUnit, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	domains := dedupe(req.Domains, func(d models.Domain) string {
		p, _ := models.ParseDomain(string(d))
		return string(p)
	})
	tiers := dedupe(req.Tiers, func(t models.Tier) string {
		p, _ := models.ParseTier(string(t))
		return string(p)
	})
	targetModels := req.TargetModels()

	units := make([]models.WorkUnit, 0, len(domains)*len(tiers)*req.Repetitions*len(targetModels))
	for _, d := range domains {
		for _, t := range tiers {
			for rep := 1; rep <= req.Repetitions; rep++ {
				for _, m := range targetModels {
					units = append(units, models.WorkUnit{
						ScenarioID:   ScenarioID(req.ExperimentID, d, t, rep, m),
						ExperimentID: req.ExperimentID,
						Domain:       d,
						Tier:         t,
						Repetition:   rep,
						Model:        m,
					})
				}
			}
		}
	}

	if len(units) == 0 {
		return nil, ErrEmptyWorkList
	}
	return units, nil
}

// dedupe normalises values with key and drops repeats, keeping first order.
func dedupe[T ~string](in []T, key func(T) string) []T {
	seen := make(map[string]bool, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		k := key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, T(k))
	}
	return out
}
