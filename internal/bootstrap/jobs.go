package bootstrap

import (
	"fmt"

	"github.com/alem-hub/scoring-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// NewScheduler registers the maintenance jobs on a new scheduler. The
// leaderboard rebuild is only registered when a cache exists.
func (rt *Runtime) NewScheduler() (*scheduler.Scheduler, error) {
	sc := rt.Config.Scheduler

	s := scheduler.New(scheduler.Config{
		Logger:   rt.Logger,
		Observer: rt.Metrics,
	})

	reconcileCfg := jobs.DefaultReconcileTotalsConfig()
	reconcileCfg.Concurrency = sc.ReconcileConcurrency
	if sc.JobTimeout > 0 {
		reconcileCfg.Timeout = sc.JobTimeout
		reconcileCfg.LockTTL = sc.JobTimeout
	}

	deps := jobs.ReconcileTotalsDeps{
		Publisher: rt.Bus,
		Metrics:   rt.Metrics,
		Clock:     timeutil.SystemClock{},
		Logger:    rt.Logger,
	}
	if rt.Cache != nil {
		deps.Locker = rt.Cache
	}

	reconcile := jobs.NewReconcileTotalsJob(rt.Store, deps, reconcileCfg)
	if err := s.Register(reconcile, scheduler.Every(sc.ReconcileInterval), scheduler.RunOnStart()); err != nil {
		return nil, fmt.Errorf("register %s: %w", reconcile.Name(), err)
	}

	if rt.Leaderboard != nil {
		rebuildCfg := jobs.DefaultRebuildLeaderboardConfig()
		if sc.JobTimeout > 0 {
			rebuildCfg.Timeout = sc.JobTimeout
		}
		rebuild := jobs.NewRebuildLeaderboardJob(rt.Store, rt.Leaderboard, rt.Logger, rebuildCfg)
		if err := s.Register(rebuild, scheduler.Every(sc.LeaderboardInterval), scheduler.RunOnStart()); err != nil {
			return nil, fmt.Errorf("register %s: %w", rebuild.Name(), err)
		}
	}

	return s, nil
}
