package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type capturePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturePublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type fakeLocker struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLocker) TryLock(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	if l.held {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, _, _ string) error {
	l.released++
	return nil
}

type countingMetrics struct{ n int }

func (m *countingMetrics) TotalsReconciled(n int) { m.n += n }

type fakeCache struct {
	entries []scoring.LeaderboardEntry
	err     error
}

func (c *fakeCache) UpdateEntry(context.Context, scoring.LeaderboardEntry) error { return nil }

func (c *fakeCache) GetTop(_ context.Context, limit int) ([]scoring.LeaderboardEntry, error) {
	return c.entries, nil
}

func (c *fakeCache) Rebuild(_ context.Context, entries []scoring.LeaderboardEntry) error {
	if c.err != nil {
		return c.err
	}
	c.entries = entries
	return nil
}

func (c *fakeCache) Size(context.Context) (int64, error) { return int64(len(c.entries)), nil }

// seed writes a ledger sum and a stored total for one student.
func seed(t *testing.T, s scoring.Store, id shared.StudentID, ledger []int, stored int) {
	t.Helper()
	err := s.InStudentTx(t.Context(), id, func(ctx context.Context, tx scoring.Tx) error {
		for i, p := range ledger {
			if err := tx.AppendTransaction(ctx, &scoring.PointTransaction{
				ID: string(id) + "-" + string(rune('a'+i)), StudentID: id,
				ActivityType: scoring.ActivityPlayGame, PointsChange: p, CreatedAt: time.Now(),
			}); err != nil {
				return err
			}
		}
		return tx.SaveStreak(ctx, &scoring.LearningStreak{StudentID: id, CurrentStreak: 1, LongestStreak: 1, TotalPoints: stored})
	})
	require.NoError(t, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE TOTALS
// ══════════════════════════════════════════════════════════════════════════════

func TestReconcileTotalsJob_RepairsDrift(t *testing.T) {
	store := memory.New()
	seed(t, store, "alice", []int{10, 15}, 25)
	seed(t, store, "bob", []int{8}, 40)
	seed(t, store, "carol", nil, 12)

	pub := &capturePublisher{}
	metrics := &countingMetrics{}
	clock := timeutil.NewFixedClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	job := NewReconcileTotalsJob(store, ReconcileTotalsDeps{Publisher: pub, Metrics: metrics, Clock: clock}, DefaultReconcileTotalsConfig())

	require.NoError(t, job.Run(t.Context()))

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Found)
	assert.Equal(t, 2, stats.Repaired)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 2, metrics.n)

	bob, err := store.GetStreak(t.Context(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 8, bob.TotalPoints)
	assert.Equal(t, clock.Now(), bob.UpdatedAt)

	carol, err := store.GetStreak(t.Context(), "carol")
	require.NoError(t, err)
	assert.Zero(t, carol.TotalPoints)

	left, err := store.FindTotalDiscrepancies(t.Context())
	require.NoError(t, err)
	assert.Empty(t, left)

	require.Len(t, pub.events, 2)
	byStudent := map[string]shared.TotalsReconciledEvent{}
	for _, e := range pub.events {
		ev, ok := e.(shared.TotalsReconciledEvent)
		require.True(t, ok)
		byStudent[ev.StudentID] = ev
	}
	assert.Equal(t, 40, byStudent["bob"].StoredTotal)
	assert.Equal(t, 8, byStudent["bob"].LedgerTotal)
	assert.Equal(t, shared.EventTotalsReconciled, byStudent["carol"].EventType())
}

func TestReconcileTotalsJob_NothingToDo(t *testing.T) {
	store := memory.New()
	seed(t, store, "alice", []int{10}, 10)
	pub := &capturePublisher{}

	job := NewReconcileTotalsJob(store, ReconcileTotalsDeps{Publisher: pub}, DefaultReconcileTotalsConfig())
	require.NoError(t, job.Run(t.Context()))

	assert.Zero(t, job.LastStats().Found)
	assert.Empty(t, pub.events)
}

func TestReconcileTotalsJob_Lease(t *testing.T) {
	store := memory.New()
	seed(t, store, "alice", []int{10}, 99)

	t.Run("held elsewhere", func(t *testing.T) {
		locker := &fakeLocker{held: true}
		job := NewReconcileTotalsJob(store, ReconcileTotalsDeps{Locker: locker}, DefaultReconcileTotalsConfig())

		require.NoError(t, job.Run(t.Context()))
		assert.True(t, job.LastStats().LockSkipped)

		st, err := store.GetStreak(t.Context(), "alice")
		require.NoError(t, err)
		assert.Equal(t, 99, st.TotalPoints)
	})

	t.Run("acquired and released", func(t *testing.T) {
		locker := &fakeLocker{}
		job := NewReconcileTotalsJob(store, ReconcileTotalsDeps{Locker: locker}, DefaultReconcileTotalsConfig())

		require.NoError(t, job.Run(t.Context()))
		assert.Equal(t, 1, locker.acquired)
		assert.Equal(t, 1, locker.released)
		assert.Equal(t, 1, job.LastStats().Repaired)
	})
}

func TestReconcileTotalsJob_Metadata(t *testing.T) {
	job := NewReconcileTotalsJob(memory.New(), ReconcileTotalsDeps{}, ReconcileTotalsConfig{})
	assert.Equal(t, "reconcile_totals", job.Name())
	assert.NotEmpty(t, job.Description())
	assert.Nil(t, job.LastStats())
}

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func TestRebuildLeaderboardJob(t *testing.T) {
	store := memory.New()
	seed(t, store, "alice", []int{50}, 50)
	seed(t, store, "bob", []int{80}, 80)

	t.Run("copies the store ranking", func(t *testing.T) {
		cache := &fakeCache{}
		job := NewRebuildLeaderboardJob(store, cache, nil, DefaultRebuildLeaderboardConfig())

		require.NoError(t, job.Run(t.Context()))
		require.Len(t, cache.entries, 2)
		assert.Equal(t, shared.StudentID("bob"), cache.entries[0].StudentID)
		assert.Equal(t, 1, cache.entries[0].Rank)
		assert.Equal(t, 2, job.LastStats().Entries)
		assert.EqualValues(t, 2, job.LastStats().CacheSize)
	})

	t.Run("limit", func(t *testing.T) {
		cache := &fakeCache{}
		job := NewRebuildLeaderboardJob(store, cache, nil, RebuildLeaderboardConfig{Limit: 1})

		require.NoError(t, job.Run(t.Context()))
		assert.Len(t, cache.entries, 1)
	})

	t.Run("cache failure", func(t *testing.T) {
		boom := errors.New("redis down")
		job := NewRebuildLeaderboardJob(store, &fakeCache{err: boom}, nil, DefaultRebuildLeaderboardConfig())

		assert.ErrorIs(t, job.Run(t.Context()), boom)
		assert.Nil(t, job.LastStats())
	})

	t.Run("no cache", func(t *testing.T) {
		job := NewRebuildLeaderboardJob(store, nil, nil, DefaultRebuildLeaderboardConfig())
		assert.ErrorIs(t, job.Run(t.Context()), ErrNoLeaderboardCache)
	})
}
