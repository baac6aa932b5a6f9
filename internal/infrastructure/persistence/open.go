// Package persistence selects and opens the configured scoring store.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/scoring-engine/pkg/logger"
	"github.com/alem-hub/scoring-engine/pkg/retry"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config selects a backend.
type Config struct {
	Driver string

	// URL is the postgres:// connection string.
	URL  string
	Pool postgres.PoolSettings

	// SkipMigrations opens postgres against an already migrated schema.
	SkipMigrations bool

	// SQLitePath is a file path or ":memory:".
	SQLitePath        string
	SQLiteBusyTimeout time.Duration
}

// Backend is a store with a lifecycle.
type Backend interface {
	scoring.Store
	Ping(ctx context.Context) error
	Close() error
}

// Open opens the configured backend. Connection attempts are retried with
// backoff so that the process can start before its database.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (Backend, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("persistence"), logger.String("driver", cfg.Driver))

	backend, err := retry.DoWithData(ctx, func(ctx context.Context) (Backend, error) {
		return open(ctx, cfg)
	}, retry.Startup(func(attempt int, err error, delay time.Duration) {
		log.Warn("store not ready, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})...)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	log.Info("store opened")
	return backend, nil
}

func open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Driver {
	case DriverPostgres:
		if cfg.URL == "" {
			return nil, retry.Permanent(fmt.Errorf("postgres driver requires a database URL"))
		}
		if cfg.SkipMigrations {
			conn, err := postgres.Connect(ctx, cfg.URL, cfg.Pool)
			if err != nil {
				return nil, err
			}
			return postgres.NewStore(conn), nil
		}
		return postgres.Open(ctx, cfg.URL, cfg.Pool)
	case DriverSQLite:
		return sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLitePath, BusyTimeout: cfg.SQLiteBusyTimeout})
	case DriverMemory, "":
		return memory.New(), nil
	default:
		return nil, retry.Permanent(fmt.Errorf("unknown store driver %q", cfg.Driver))
	}
}
