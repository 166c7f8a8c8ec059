// Package sqlstore stores generated scenarios and generation runs in SQLite
// or PostgreSQL. Queries are built with goqu.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	_ "github.com/jackc/pgx/v5/stdlib"                  // database/sql driver "pgx"
	_ "modernc.org/sqlite"                              // database/sql driver "sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	tableScenarios = "scenarios"
	tableRuns      = "generation_runs"
)

// ErrNotFound indicates the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// schema is valid for both SQLite and PostgreSQL. Times are unix milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS scenarios (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		tier TEXT NOT NULL,
		repetition INTEGER NOT NULL,
		model_id TEXT NOT NULL,
		task_title TEXT NOT NULL,
		task_description TEXT NOT NULL,
		business_context TEXT NOT NULL,
		complexity_level TEXT NOT NULL,
		domain_data TEXT NOT NULL,
		success_criteria TEXT NOT NULL,
		control_expectations TEXT,
		generation_duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS scenarios_experiment ON scenarios (experiment_id)`,
	`CREATE TABLE IF NOT EXISTS generation_runs (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		models TEXT NOT NULL,
		status TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		stored INTEGER NOT NULL DEFAULT 0,
		concurrency INTEGER NOT NULL DEFAULT 1,
		error TEXT,
		started_at BIGINT NOT NULL,
		finished_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS generation_runs_status ON generation_runs (status)`,
}

// Store is a SQL backed scenario and run store.
type Store struct {
	sqlDB  *sql.DB
	db     *goqu.Database
	driver string
	logger *slog.Logger
}

// New opens the database for driver and applies the schema. For SQLite, dsn
// is a file path or ":memory:"; for PostgreSQL a pgx connection string.
func New(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		sqlDB   *sql.DB
		dialect string
		err     error
	)
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		sqlDB, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite allows one writer; a single connection also keeps
		// ":memory:" databases shared.
		sqlDB.SetMaxOpenConns(1)
		dialect = "sqlite3"

	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres dsn required")
		}
		sqlDB, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		dialect = "postgres"

	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}

	db := goqu.New(dialect, sqlDB)
	db.Logger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))

	s := &Store{sqlDB: sqlDB, db: db, driver: driver, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	logger.Info("sql store ready", "driver", driver)
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.driver == DriverSQLite {
		if _, err := s.sqlDB.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			return fmt.Errorf("set busy timeout: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := s.sqlDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close(context.Context) error {
	return s.sqlDB.Close()
}

// WipeData deletes all rows while preserving schema. Use for testing only.
func (s *Store) WipeData(ctx context.Context) error {
	for _, table := range []string{tableScenarios, tableRuns} {
		if _, err := s.db.Delete(table).Executor().ExecContext(ctx); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}
