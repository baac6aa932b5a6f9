// Command api serves the scoring HTTP API: awards, progress and the
// leaderboard.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"

	"github.com/alem-hub/scoring-engine/config"
	"github.com/alem-hub/scoring-engine/internal/application/command"
	"github.com/alem-hub/scoring-engine/internal/application/query"
	"github.com/alem-hub/scoring-engine/internal/bootstrap"
	httpserver "github.com/alem-hub/scoring-engine/internal/interface/http"
	"github.com/alem-hub/scoring-engine/pkg/logger"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	log := rt.Logger.Named("api")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			log.Error("runtime close failed", logger.Err(err))
		}
	}()

	clock := timeutil.SystemClock{}
	award := command.NewAwardPointsHandler(rt.Store, rt.Bus, command.AwardPointsHandlerConfig{
		Clock:    clock,
		Location: cfg.App.Location,
		Features: cfg.Features,
		Metrics:  rt.Metrics,
		Logger:   rt.Logger,
		Tracer:   otel.Tracer("github.com/alem-hub/scoring-engine/internal/application/command"),
	})

	server := httpserver.NewServer(httpserver.Config{
		Host:               cfg.HTTP.Host,
		Port:               cfg.HTTP.Port,
		ReadTimeout:        cfg.HTTP.ReadTimeout,
		WriteTimeout:       cfg.HTTP.WriteTimeout,
		IdleTimeout:        cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:     httpserver.DefaultConfig().MaxHeaderBytes,
		MaxBodyBytes:       cfg.HTTP.MaxBodyBytes,
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		EnableMetrics:      cfg.Observability.MetricsEnabled,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
	}, httpserver.Dependencies{
		AwardPoints:   award,
		Leaderboard:   query.NewGetLeaderboardHandler(rt.Store, rt.Leaderboard, cfg.Features, rt.Logger),
		Progress:      query.NewGetStudentProgressHandler(rt.Store, clock, cfg.App.Location),
		HealthChecker: rt.Health,
		Metrics:       rt.Metrics,
		Logger:        rt.Logger,
		Version:       cfg.App.Version,
	})

	log.Info("scoring api starting",
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
	)
	errCh := server.StartAsync()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("shutdown completed")
	return nil
}
