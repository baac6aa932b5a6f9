package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/scoring-engine/config"
	"github.com/alem-hub/scoring-engine/internal/application/command"
	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

type stubCache struct {
	mu       sync.Mutex
	entries  []scoring.LeaderboardEntry
	err      error
	calls    int
	rebuilds int
}

func (c *stubCache) UpdateEntry(context.Context, scoring.LeaderboardEntry) error { return nil }

// Rebuild replaces the entries and clears any configured read error, the way
// a real rebuild makes a cold cache warm.
func (c *stubCache) Rebuild(_ context.Context, entries []scoring.LeaderboardEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries, c.err = entries, nil
	c.rebuilds++
	return nil
}

func (c *stubCache) Size(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.entries)), nil
}

func (c *stubCache) rebuildCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuilds
}

func (c *stubCache) GetTop(_ context.Context, limit int) ([]scoring.LeaderboardEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if len(c.entries) > limit {
		return c.entries[:limit], nil
	}
	return c.entries, nil
}

func seed(t *testing.T, store *memory.Store, clock *timeutil.FixedClock, cmds ...command.AwardPointsCommand) {
	t.Helper()
	h := command.NewAwardPointsHandler(store, nil, command.AwardPointsHandlerConfig{Clock: clock, Location: time.UTC})
	for _, cmd := range cmds {
		_, err := h.Handle(t.Context(), cmd)
		require.NoError(t, err)
	}
}

func TestGetLeaderboardQuery_Validate(t *testing.T) {
	q := GetLeaderboardQuery{}
	require.NoError(t, q.Validate())
	assert.Equal(t, 20, q.Limit)

	q = GetLeaderboardQuery{Limit: 500}
	require.NoError(t, q.Validate())
	assert.Equal(t, 100, q.Limit)

	q = GetLeaderboardQuery{Limit: -1}
	assert.True(t, shared.IsValidation(q.Validate()))
}

func TestGetLeaderboard_FromStore(t *testing.T) {
	store := memory.New()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	seed(t, store, clock,
		command.AwardPointsCommand{StudentID: "alice", ActivityType: "PLAY_GAME"},
		command.AwardPointsCommand{StudentID: "bob", ActivityType: "COMPLETE_LESSON", ReferenceID: "l1", ReferenceKind: "lesson"},
		command.AwardPointsCommand{StudentID: "carol", ActivityType: "PRACTICE_VOCABULARY"},
	)

	h := NewGetLeaderboardHandler(store, nil, nil, nil)
	res, err := h.Handle(t.Context(), GetLeaderboardQuery{Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, SourceStore, res.Source)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, shared.StudentID("bob"), res.Entries[0].StudentID)
	assert.Equal(t, 40, res.Entries[0].TotalPoints)
	assert.Equal(t, shared.StudentID("alice"), res.Entries[1].StudentID)
	assert.Equal(t, 2, res.Entries[1].Rank)
}

func TestGetLeaderboard_PrefersWarmCache(t *testing.T) {
	cache := &stubCache{entries: []scoring.LeaderboardEntry{{Rank: 1, StudentID: "cached", TotalPoints: 999}}}
	h := NewGetLeaderboardHandler(memory.New(), cache, config.NewFeatureFlags(nil), nil)

	res, err := h.Handle(t.Context(), GetLeaderboardQuery{})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, shared.StudentID("cached"), res.Entries[0].StudentID)
}

func TestGetLeaderboard_FallsBackToStore(t *testing.T) {
	tests := []struct {
		name  string
		cache *stubCache
		flags *config.FeatureFlags
		calls int
	}{
		{"cold cache", &stubCache{}, nil, 1},
		{"cache error", &stubCache{err: errors.New("redis down")}, nil, 1},
		{"flag off", &stubCache{entries: []scoring.LeaderboardEntry{{StudentID: "x"}}},
			config.NewFeatureFlags(map[string]int{config.FeatureLeaderboardCache: 0}), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gate FeatureGate
			if tt.flags != nil {
				gate = tt.flags
			}
			h := NewGetLeaderboardHandler(memory.New(), tt.cache, gate, nil)

			res, err := h.Handle(t.Context(), GetLeaderboardQuery{})
			require.NoError(t, err)
			assert.Equal(t, SourceStore, res.Source)
			assert.NotNil(t, res.Entries)
			assert.Equal(t, tt.calls, tt.cache.calls)
		})
	}
}

func TestGetLeaderboard_PartiallyRefilledCacheIsNotServed(t *testing.T) {
	store := memory.New()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	for i := range 4 {
		seed(t, store, clock, command.AwardPointsCommand{
			StudentID: fmt.Sprintf("s-%d", i), ActivityType: "COMPLETE_LESSON",
			ReferenceID: "l1", ReferenceKind: "lesson",
		})
	}

	// One incremental update landed after the cache was emptied; the rest
	// of the ranking is missing until a rebuild.
	cache := &stubCache{
		entries: []scoring.LeaderboardEntry{{Rank: 1, StudentID: "s-3", TotalPoints: 15}},
		err:     shared.ErrLeaderboardCold,
	}
	h := NewGetLeaderboardHandler(store, cache, nil, nil)

	res, err := h.Handle(t.Context(), GetLeaderboardQuery{})
	require.NoError(t, err)
	assert.Equal(t, SourceStore, res.Source)
	assert.Len(t, res.Entries, 4)

	assert.Eventually(t, func() bool { return cache.rebuildCount() == 1 }, time.Second, 5*time.Millisecond)

	res, err = h.Handle(t.Context(), GetLeaderboardQuery{})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Len(t, res.Entries, 4)
}

func TestGetStudentProgress(t *testing.T) {
	store := memory.New()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	seed(t, store, clock,
		command.AwardPointsCommand{StudentID: "s-1", ActivityType: "COMPLETE_QUIZ", ReferenceID: "q1", ReferenceKind: "quiz", Metadata: map[string]any{"score": 100}},
	)
	clock.AddDays(1)
	seed(t, store, clock,
		command.AwardPointsCommand{StudentID: "s-1", ActivityType: "COMPLETE_QUIZ", ReferenceID: "q1", ReferenceKind: "quiz", Metadata: map[string]any{"score": 90}},
		command.AwardPointsCommand{StudentID: "s-1", ActivityType: "COMPLETE_LESSON", ReferenceID: "l1", ReferenceKind: "lesson", Language: "fr"},
	)

	h := NewGetStudentProgressHandler(store, clock, time.UTC)
	res, err := h.Handle(t.Context(), GetStudentProgressQuery{StudentID: "s-1"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Streak.CurrentStreak)
	assert.Equal(t, 2, res.ActiveStreak)
	assert.Equal(t, 105+15+25, res.Streak.TotalPoints)
	assert.Len(t, res.Achievements, 4)

	require.Len(t, res.RecentDailyActivity, 7)
	assert.Equal(t, timeutil.Date(2026, 2, 25), res.RecentDailyActivity[0].Date)
	assert.Equal(t, 30, res.RecentDailyActivity[5].PointsEarned)
	assert.Equal(t, 15, res.RecentDailyActivity[6].PointsEarned)
	assert.Equal(t, []string{"fr"}, res.RecentDailyActivity[6].LanguagesPracticed)
	assert.Zero(t, res.RecentDailyActivity[0].PointsEarned)

	assert.Len(t, res.CompletedActivities, 2)
	assert.Equal(t, 2, res.CompletionStats.TotalActivities)
	assert.Equal(t, 3, res.CompletionStats.TotalCompletions)
	assert.Equal(t, 1, res.CompletionStats.Repeats)
	assert.Len(t, res.RecentTransactions, 5)
}

func TestGetStudentProgress_UnknownStudent(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	h := NewGetStudentProgressHandler(memory.New(), clock, time.UTC)

	res, err := h.Handle(t.Context(), GetStudentProgressQuery{StudentID: "nobody"})
	require.NoError(t, err)

	assert.Equal(t, shared.StudentID("nobody"), res.Streak.StudentID)
	assert.Zero(t, res.Streak.TotalPoints)
	assert.Zero(t, res.ActiveStreak)
	assert.Empty(t, res.Achievements)
	assert.Len(t, res.RecentDailyActivity, 7)
	assert.NotNil(t, res.CompletionStats.ByKind)
}

func TestGetStudentProgress_LapsedStreakReadsZero(t *testing.T) {
	store := memory.New()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	seed(t, store, clock, command.AwardPointsCommand{StudentID: "s-1", ActivityType: "PLAY_GAME"})
	clock.AddDays(3)

	res, err := NewGetStudentProgressHandler(store, clock, time.UTC).Handle(t.Context(), GetStudentProgressQuery{StudentID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak.CurrentStreak)
	assert.Zero(t, res.ActiveStreak)
}

func TestGetStudentProgress_Validation(t *testing.T) {
	h := NewGetStudentProgressHandler(memory.New(), nil, time.UTC)

	_, err := h.Handle(t.Context(), GetStudentProgressQuery{StudentID: "has space"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(t.Context(), GetStudentProgressQuery{StudentID: "s-1", Days: -1})
	assert.True(t, shared.IsValidation(err))
}
