package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/raphaelgruber/scenariogen/internal/generation"
	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/raphaelgruber/scenariogen/internal/service"
)

const maxRequestBytes = 1 << 20

// apiError is the body of every non-run error response.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var snap metrics.Snapshot
	if s.metrics != nil {
		snap = s.metrics.Snapshot()
	}
	if snap.Counters == nil {
		snap.Counters = map[string]int64{}
	}
	snap.ActiveRuns = s.runs.Active()
	writeJSON(w, http.StatusOK, snap)
}

// handleGenerate runs a request to completion and returns its summary.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	req.ExperimentID = mux.Vars(r)["experimentId"]

	summary, _, err := s.runs.Generate(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := s.runs.ListScenarios(r.Context(), mux.Vars(r)["experimentId"])
	if err != nil {
		s.logger.Error("list scenarios failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if scenarios == nil {
		scenarios = []models.Scenario{}
	}
	writeJSON(w, http.StatusOK, scenarios)
}

// handleStartRun starts a run in the background and returns its snapshot.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	run, err := s.runs.Start(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Stop(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.runs.Recent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	if events == nil {
		events = []models.ProgressEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (models.GenerationRequest, bool) {
	var req models.GenerationRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, generation.CodeInvalidRequest, "read body: "+err.Error())
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, generation.CodeInvalidRequest, "invalid JSON body: "+err.Error())
		return req, false
	}
	return req, true
}

// runErrorStatus maps run error codes to HTTP status codes.
var runErrorStatus = map[string]int{
	generation.CodeInvalidRequest:    http.StatusBadRequest,
	generation.CodeEmptyWorkList:     http.StatusBadRequest,
	generation.CodeStoreUnreachable:  http.StatusServiceUnavailable,
	generation.CodeFatalAPI:          http.StatusBadGateway,
	generation.CodePersistenceFailed: http.StatusInternalServerError,
	generation.CodeCancelled:         http.StatusConflict,
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	var runErr *generation.RunError
	if errors.As(err, &runErr) {
		status, ok := runErrorStatus[runErr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, runErr.Payload())
		return
	}
	s.logger.Error("generation request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrRunNotLive):
		writeError(w, http.StatusConflict, "not_live", err.Error())
	default:
		s.logger.Error("run lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: code, Message: message})
}
