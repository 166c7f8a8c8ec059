// Package service manages generation runs on top of the engine and the
// configured scenario store.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/scenariogen/internal/config"
	"github.com/raphaelgruber/scenariogen/internal/db"
	"github.com/raphaelgruber/scenariogen/internal/generation"
	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/raphaelgruber/scenariogen/internal/sqlstore"
)

// Store is implemented by db.Client and sqlstore.Store.
type Store interface {
	generation.Store
	Ping(ctx context.Context) error
	ListScenarios(ctx context.Context, experimentID string) ([]models.Scenario, error)
	SaveRun(ctx context.Context, run models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	MarkInterruptedRuns(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

var (
	_ Store = (*db.Client)(nil)
	_ Store = (*sqlstore.Store)(nil)
)

// OpenStore connects the store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect surrealdb: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("init surrealdb schema: %w", err)
		}
		return client, nil

	case config.StoreSQLite:
		return sqlstore.New(ctx, sqlstore.DriverSQLite, cfg.SQLitePath, logger)

	case config.StorePostgres:
		return sqlstore.New(ctx, sqlstore.DriverPostgres, cfg.PostgresDSN, logger)

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}

// EngineConfig maps environment configuration onto the engine settings.
func EngineConfig(cfg config.Config) generation.Config {
	policy := generation.RetryPolicy{
		MaxAttempts:     cfg.MaxRetries,
		InitialInterval: cfg.BackoffInitial,
		MaxInterval:     cfg.BackoffMax,
		Multiplier:      2,
	}
	ec := generation.DefaultConfig()
	ec.DefaultModel = cfg.LLMModel
	ec.Concurrency = cfg.Concurrency
	ec.CallInterval = cfg.CallDelay
	ec.CallTimeout = cfg.CallTimeout
	ec.Retry = policy
	ec.FlushRetry = policy
	ec.BatchSize = cfg.BatchSize
	ec.ReplayEvents = cfg.ReplayEvents
	ec.SubscriberBuffer = cfg.SubscriberBuffer
	return ec
}
