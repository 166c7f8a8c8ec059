// Package server exposes generation runs over HTTP and streams their
// progress over WebSocket.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"github.com/raphaelgruber/scenariogen/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server routes HTTP requests to the run manager.
type Server struct {
	runs     *service.RunManager
	metrics  *metrics.Collector
	logger   *slog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	// PingInterval is how often idle event streams are pinged.
	PingInterval time.Duration
	// WriteWait bounds a single WebSocket write.
	WriteWait time.Duration
}

// New creates a server. collector may be nil.
func New(runs *service.RunManager, collector *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runs:    runs,
		metrics: collector,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		PingInterval: 10 * time.Second,
		WriteWait:    10 * time.Second,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(s.logger))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	r.HandleFunc("/experiments/{experimentId}/scenarios/generate", s.handleGenerate).Methods(http.MethodPost)
	r.HandleFunc("/experiments/{experimentId}/scenarios", s.handleListScenarios).Methods(http.MethodGet)

	r.HandleFunc("/runs", s.handleStartRun).Methods(http.MethodPost)
	r.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/stop", s.handleStopRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/events/recent", s.handleRecentEvents).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
	})
	return r
}
