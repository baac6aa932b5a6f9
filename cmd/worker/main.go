// Command worker runs the scoring maintenance jobs: total reconciliation and,
// when Redis is configured, the periodic leaderboard cache rebuild.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alem-hub/scoring-engine/config"
	"github.com/alem-hub/scoring-engine/internal/bootstrap"
	"github.com/alem-hub/scoring-engine/pkg/logger"
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
	log := rt.Logger.Named("worker")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			log.Error("runtime close failed", logger.Err(err))
		}
	}()

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, nothing to do")
		return nil
	}

	sched, err := rt.NewScheduler()
	if err != nil {
		return err
	}
	for _, j := range sched.ListJobs() {
		log.Info("job registered", logger.String("job", j.Name), logger.String("schedule", j.Schedule))
	}

	var metricsServer *http.Server
	if cfg.Observability.MetricsEnabled && cfg.Scheduler.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", rt.Metrics.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Scheduler.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", logger.Err(err))
			}
		}()
		log.Info("serving metrics", logger.String("address", cfg.Scheduler.MetricsAddr))
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	log.Info("scoring worker running")

	<-ctx.Done()
	log.Info("received shutdown signal")

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop", logger.Err(err))
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	log.Info("shutdown completed")
	return nil
}
