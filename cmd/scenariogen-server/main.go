// Package main provides the HTTP server for scenario generation.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/config"
	"github.com/raphaelgruber/scenariogen/internal/generation"
	"github.com/raphaelgruber/scenariogen/internal/llm"
	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"github.com/raphaelgruber/scenariogen/internal/server"
	"github.com/raphaelgruber/scenariogen/internal/service"
)

const version = "0.1.0"

type wiper interface {
	WipeData(ctx context.Context) error
}

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all data from the store on startup (testing only)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()

	logger.Info("starting scenariogen-server",
		"version", version,
		"port", cfg.ServerPort,
		"store", cfg.StoreDriver,
		"llm_provider", cfg.LLMProvider,
		"llm_model", cfg.LLMModel,
		"concurrency", cfg.Concurrency,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := service.OpenStore(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing store")
		if err := store.Close(context.Background()); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	// Wipe store if requested (via flag or env var)
	if *wipeDB || os.Getenv("SCENARIOGEN_WIPE_DB") == "true" {
		if w, ok := store.(wiper); ok {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := w.WipeData(ctx)
			cancel()
			if err != nil {
				logger.Error("failed to wipe store", "error", err)
				os.Exit(1)
			}
			logger.Warn("store wiped")
		}
	}

	collector := metrics.NewCollector()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	model, err := llm.NewModel(ctx, cfg, collector)
	cancel()
	if err != nil {
		logger.Error("failed to create model", "error", err)
		os.Exit(1)
	}

	gen := llm.NewScenarioGenerator(model, logger)
	coord := generation.NewCoordinator(gen, store, service.EngineConfig(cfg), logger, collector)
	runs := service.NewRunManager(coord, store, logger)

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := runs.MarkInterrupted(ctx); err != nil {
		logger.Warn("failed to mark interrupted runs", "error", err)
	}
	cancel()

	srv := server.New(runs, collector, logger)

	// WriteTimeout stays unset: synchronous generation and event streams
	// outlive any fixed deadline.
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP API available", "url", fmt.Sprintf("http://localhost:%s/", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", "signal", sig)

	// Stop live runs first so synchronous generate requests and event
	// streams complete, then drain the HTTP server.
	ctx, cancel = context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := runs.Shutdown(ctx); err != nil {
		logger.Error("runs did not stop in time", "error", err)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
