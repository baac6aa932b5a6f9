// Package bootstrap builds the runtime shared by the api and worker binaries:
// logger, metrics, store, optional Redis cache, event bus and health checks.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/alem-hub/scoring-engine/config"
	"github.com/alem-hub/scoring-engine/internal/application/eventhandler"
	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/metrics"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/persistence"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/scoring-engine/internal/interface/http/handlers"
	"github.com/alem-hub/scoring-engine/pkg/circuitbreaker"
	"github.com/alem-hub/scoring-engine/pkg/logger"
)

// Runtime holds the long-lived collaborators of one process.
type Runtime struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Collector

	Store persistence.Backend

	// Cache is nil when Redis is disabled or unreachable at startup.
	Cache *redis.Cache

	// Leaderboard is the breaker-guarded Redis leaderboard, or nil without
	// a cache. Readers fall back to the store when it is nil.
	Leaderboard scoring.LeaderboardCache

	Bus    *messaging.Bus
	Health *handlers.Registry

	breaker        *circuitbreaker.Breaker
	tracerProvider *sdktrace.TracerProvider
}

// New wires a Runtime from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config) (rt *Runtime, err error) {
	if cfg.Features == nil {
		cfg.Features = config.NewFeatureFlags(cfg.Rollout)
	}

	rt = &Runtime{
		Config: cfg,
		Logger: logger.New(logger.Options{
			Output:    os.Stdout,
			Level:     logger.ParseLevel(cfg.Observability.LogLevel),
			Format:    cfg.Observability.LogFormat,
			AddCaller: true,
		}).With(
			logger.String("service", cfg.App.Name),
			logger.String("env", string(cfg.App.Environment)),
		),
		Metrics: metrics.New(metrics.DefaultConfig()),
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
			rt = nil
		}
	}()

	if rt.tracerProvider, err = newTracerProvider(ctx, cfg); err != nil {
		return rt, err
	}

	rt.Store, err = persistence.Open(ctx, persistence.Config{
		Driver: cfg.Database.Driver,
		URL:    cfg.Database.URL,
		Pool: postgres.PoolSettings{
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		},
		SkipMigrations:    !cfg.Database.Migrate,
		SQLitePath:        cfg.Database.SQLitePath,
		SQLiteBusyTimeout: cfg.Database.SQLiteBusyTimeout,
	}, rt.Logger)
	if err != nil {
		return rt, err
	}

	rt.openCache(ctx)

	rt.Bus = messaging.NewBus(messaging.Options{
		Async:    true,
		Workers:  10,
		Logger:   rt.Logger,
		Observer: rt.Metrics,
	})
	if err = rt.subscribe(); err != nil {
		return rt, err
	}

	rt.Health = handlers.NewRegistry(cfg.App.Version)
	rt.Health.Register("store", handlers.PingCheck(rt.Store))
	if rt.Cache != nil {
		rt.Health.RegisterOptional("cache", handlers.GuardedPingCheck(rt.Cache, rt.breaker))
	}

	rt.Logger.Info("runtime ready",
		logger.String("driver", cfg.Database.Driver),
		logger.Bool("cache", rt.Cache != nil),
		logger.Bool("tracing", rt.tracerProvider != nil),
	)
	return rt, nil
}

// openCache connects to Redis. A failure leaves the runtime on the store
// alone instead of refusing to start.
func (rt *Runtime) openCache(ctx context.Context) {
	rc := rt.Config.Redis
	if rc.Disabled {
		rt.Logger.Info("redis disabled, leaderboard served from the store")
		return
	}

	cacheCfg := redis.DefaultConfig()
	cacheCfg.Addr = rc.Addr
	cacheCfg.Password = rc.Password
	cacheCfg.DB = rc.DB
	if rc.KeyPrefix != "" {
		cacheCfg.KeyPrefix = rc.KeyPrefix
	}
	if rc.PoolSize > 0 {
		cacheCfg.PoolSize = rc.PoolSize
	}

	cache, err := redis.NewCache(ctx, cacheCfg)
	if err != nil {
		rt.Logger.Warn("redis unavailable, leaderboard served from the store",
			logger.String("addr", rc.Addr),
			logger.Err(err),
		)
		return
	}
	rt.Cache = cache

	log := rt.Logger.With(logger.Component("leaderboard_cache"))
	breaker := circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	rt.breaker = breaker
	rt.Leaderboard = redis.NewGuardedLeaderboardCache(redis.NewLeaderboardCache(cache), breaker)
}

func (rt *Runtime) subscribe() error {
	if rt.Leaderboard != nil {
		h := eventhandler.NewOnPointsAwardedHandler(
			rt.Store,
			rt.Leaderboard,
			rt.Config.Features,
			rt.Logger,
			eventhandler.DefaultPointsAwardedConfig(),
		)
		if err := h.Register(rt.Bus); err != nil {
			return fmt.Errorf("subscribe leaderboard refresh: %w", err)
		}
	}
	if err := eventhandler.NewActivityJournal(rt.Logger).Register(rt.Bus); err != nil {
		return fmt.Errorf("subscribe activity journal: %w", err)
	}
	return nil
}

// Close drains the bus, then releases the cache, store and tracer in that
// order. It is safe on a partially built Runtime.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Bus != nil {
		errs = append(errs, rt.Bus.Close())
	}
	if rt.Cache != nil {
		errs = append(errs, rt.Cache.Close())
	}
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	if rt.tracerProvider != nil {
		errs = append(errs, rt.tracerProvider.Shutdown(ctx))
	}
	if rt.Logger != nil {
		_ = rt.Logger.Sync()
	}
	return errors.Join(errs...)
}
