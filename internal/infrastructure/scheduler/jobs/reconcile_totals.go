// Package jobs contains the scheduled maintenance jobs of the scoring engine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/logger"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// Locker is a lease shared by every worker process.
type Locker interface {
	TryLock(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, resource, owner string) error
}

// ReconcileMetrics counts repaired totals.
type ReconcileMetrics interface {
	TotalsReconciled(n int)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE TOTALS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileTotalsJob recomputes each drifted total_points from the point
// transaction log and writes it back.
type ReconcileTotalsJob struct {
	store     scoring.Store
	publisher shared.EventPublisher
	locker    Locker
	metrics   ReconcileMetrics
	clock     timeutil.Clock
	logger    *logger.Logger
	config    ReconcileTotalsConfig
	owner     string

	lastStats atomic.Pointer[ReconcileStats]
}

// ReconcileTotalsConfig contains configuration for the reconcile job.
type ReconcileTotalsConfig struct {
	// Concurrency bounds how many students are repaired at once.
	Concurrency int

	// LockTTL is the lease length when a Locker is configured.
	LockTTL time.Duration

	// Timeout is the maximum duration of one run.
	Timeout time.Duration
}

// DefaultReconcileTotalsConfig returns sensible defaults.
func DefaultReconcileTotalsConfig() ReconcileTotalsConfig {
	return ReconcileTotalsConfig{
		Concurrency: 4,
		LockTTL:     5 * time.Minute,
		Timeout:     5 * time.Minute,
	}
}

// ReconcileStats contains statistics from a run.
type ReconcileStats struct {
	StartedAt   time.Time
	Duration    time.Duration
	Found       int
	Repaired    int
	Failed      int
	LockSkipped bool
}

// ReconcileTotalsDeps groups the optional collaborators.
type ReconcileTotalsDeps struct {
	Publisher shared.EventPublisher
	Locker    Locker
	Metrics   ReconcileMetrics
	Clock     timeutil.Clock
	Logger    *logger.Logger
}

// NewReconcileTotalsJob creates a new reconcile job.
func NewReconcileTotalsJob(store scoring.Store, deps ReconcileTotalsDeps, config ReconcileTotalsConfig) *ReconcileTotalsJob {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 5 * time.Minute
	}

	return &ReconcileTotalsJob{
		store:     store,
		publisher: deps.Publisher,
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		logger:    deps.Logger.With(logger.Component("reconcile_totals")),
		config:    config,
		owner:     uuid.NewString(),
	}
}

// Name returns the job name.
func (j *ReconcileTotalsJob) Name() string {
	return "reconcile_totals"
}

// Description returns a human-readable description.
func (j *ReconcileTotalsJob) Description() string {
	return "Repairs learning streak totals that disagree with the point transaction log"
}

// LastStats returns the statistics of the last finished run, or nil.
func (j *ReconcileTotalsJob) LastStats() *ReconcileStats {
	return j.lastStats.Load()
}

// Run executes the job.
func (j *ReconcileTotalsJob) Run(ctx context.Context) error {
	stats := &ReconcileStats{StartedAt: time.Now()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	if j.locker != nil {
		ok, err := j.locker.TryLock(ctx, j.Name(), j.owner, j.config.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			stats.LockSkipped = true
			j.logger.Info("another worker holds the reconcile lease, skipping")
			return nil
		}
		defer func() {
			if err := j.locker.Unlock(context.WithoutCancel(ctx), j.Name(), j.owner); err != nil {
				j.logger.Warn("release reconcile lease", logger.Err(err))
			}
		}()
	}

	found, err := j.store.FindTotalDiscrepancies(ctx)
	if err != nil {
		return fmt.Errorf("find discrepancies: %w", err)
	}
	stats.Found = len(found)
	if len(found) == 0 {
		return nil
	}

	var repaired, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	for _, d := range found {
		g.Go(func() error {
			ok, err := j.repair(gctx, d.StudentID)
			switch {
			case err != nil:
				failed.Add(1)
				j.logger.Error("repair total failed", logger.StudentID(d.StudentID.String()), logger.Err(err))
			case ok:
				repaired.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Repaired = int(repaired.Load())
	stats.Failed = int(failed.Load())
	if j.metrics != nil && stats.Repaired > 0 {
		j.metrics.TotalsReconciled(stats.Repaired)
	}

	j.logger.Info("reconcile finished",
		logger.Int("found", stats.Found),
		logger.Int("repaired", stats.Repaired),
		logger.Int("failed", stats.Failed),
	)

	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d totals could not be repaired", stats.Failed, stats.Found)
	}
	return nil
}

// repair rewrites one student's total under the student lock. It reports
// false when the total no longer disagrees by the time the lock is held.
func (j *ReconcileTotalsJob) repair(ctx context.Context, studentID shared.StudentID) (bool, error) {
	var event *shared.TotalsReconciledEvent

	err := j.store.InStudentTx(ctx, studentID, func(ctx context.Context, tx scoring.Tx) error {
		st, err := tx.FindStreak(ctx, studentID)
		if errors.Is(err, shared.ErrStreakNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		sum, err := tx.SumTransactions(ctx, studentID)
		if err != nil {
			return err
		}
		if st.TotalPoints == sum {
			return nil
		}

		now := j.clock.Now()
		stored := st.TotalPoints
		st.TotalPoints = sum
		st.UpdatedAt = now
		if err := tx.SaveStreak(ctx, st); err != nil {
			return err
		}

		event = &shared.TotalsReconciledEvent{
			BaseEvent:   shared.NewBaseEvent(shared.EventTotalsReconciled, studentID.String(), now),
			StudentID:   studentID.String(),
			StoredTotal: stored,
			LedgerTotal: sum,
		}
		return nil
	})
	if err != nil || event == nil {
		return false, err
	}

	j.logger.Info("total repaired",
		logger.StudentID(studentID.String()),
		logger.Int("stored_total", event.StoredTotal),
		logger.Int("ledger_total", event.LedgerTotal),
	)
	if j.publisher != nil {
		if err := j.publisher.Publish(*event); err != nil {
			j.logger.Warn("publish totals reconciled", logger.StudentID(studentID.String()), logger.Err(err))
		}
	}
	return true, nil
}
