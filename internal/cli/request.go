package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/scenariogen/internal/models"
	"gopkg.in/yaml.v3"
)

// requestFlags are the generate flags that override a request file.
type requestFlags struct {
	file         string
	experimentID string
	domains      []string
	tiers        []string
	repetitions  int
	model        string
	models       []string
	concurrency  int
}

// loadRequestFile reads a YAML generation request:
//
//	experiment: exp-42
//	domains: [analytical, planning]
//	tiers: [simple, complex]
//	repetitions: 3
//	models: [claude-sonnet-4-20250514]
//	concurrency: 4
func loadRequestFile(path string) (models.GenerationRequest, error) {
	var req models.GenerationRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read request file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("parse request file %s: %w", path, err)
	}
	return req, nil
}

// buildRequest merges the request file, if any, with flags. Flags win.
// Values are passed through as given; the engine validates them.
func buildRequest(f requestFlags) (models.GenerationRequest, error) {
	var req models.GenerationRequest
	if f.file != "" {
		var err error
		if req, err = loadRequestFile(f.file); err != nil {
			return req, err
		}
	}

	if f.experimentID != "" {
		req.ExperimentID = f.experimentID
	}
	if len(f.domains) > 0 {
		req.Domains = make([]models.Domain, len(f.domains))
		for i, d := range f.domains {
			req.Domains[i] = models.Domain(strings.TrimSpace(d))
		}
	}
	if len(f.tiers) > 0 {
		req.Tiers = make([]models.Tier, len(f.tiers))
		for i, t := range f.tiers {
			req.Tiers[i] = models.Tier(strings.TrimSpace(t))
		}
	}
	if f.repetitions > 0 {
		req.Repetitions = f.repetitions
	}
	if f.model != "" {
		req.Model = f.model
	}
	if len(f.models) > 0 {
		req.Models = f.models
	}
	if f.concurrency > 0 {
		req.Concurrency = f.concurrency
	}

	if req.ExperimentID == "" {
		return req, fmt.Errorf("experiment ID required (--experiment or 'experiment' in the request file)")
	}
	return req, nil
}
