package eventhandler

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/scoring-engine/config"
	"github.com/alem-hub/scoring-engine/internal/application/command"
	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/scoring-engine/pkg/logger"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

type recordingCache struct {
	entries map[shared.StudentID]scoring.LeaderboardEntry
	err     error
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[shared.StudentID]scoring.LeaderboardEntry{}}
}

func (c *recordingCache) UpdateEntry(_ context.Context, e scoring.LeaderboardEntry) error {
	if c.err != nil {
		return c.err
	}
	c.entries[e.StudentID] = e
	return nil
}

func (c *recordingCache) GetTop(context.Context, int) ([]scoring.LeaderboardEntry, error) {
	return nil, nil
}
func (c *recordingCache) Rebuild(context.Context, []scoring.LeaderboardEntry) error { return nil }
func (c *recordingCache) Size(context.Context) (int64, error)                       { return int64(len(c.entries)), nil }

func TestOnPointsAwarded_RefreshesCacheThroughBus(t *testing.T) {
	store := memory.New()
	cache := newRecordingCache()
	bus := messaging.NewBus(messaging.Options{})

	h := NewOnPointsAwardedHandler(store, cache, nil, nil, PointsAwardedConfig{})
	require.NoError(t, h.Register(bus))

	clock := timeutil.NewFixedClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	award := command.NewAwardPointsHandler(store, bus, command.AwardPointsHandlerConfig{Clock: clock, Location: time.UTC})
	_, err := award.Handle(t.Context(), command.AwardPointsCommand{
		StudentID: "s-1", ActivityType: "COMPLETE_LESSON", ReferenceID: "l1", ReferenceKind: "lesson",
	})
	require.NoError(t, err)

	entry, ok := cache.entries["s-1"]
	require.True(t, ok)
	// 15 for the lesson plus the lesson_completed bonus.
	assert.Equal(t, 40, entry.TotalPoints)
	assert.Equal(t, 1, entry.CurrentStreak)
	assert.Equal(t, 1, entry.LongestStreak)
}

func TestOnPointsAwarded_Skips(t *testing.T) {
	event := shared.PointsAwardedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventPointsAwarded, "s-1", time.Now()),
		StudentID: "s-1",
	}

	t.Run("flag off", func(t *testing.T) {
		cache := newRecordingCache()
		flags := config.NewFeatureFlags(map[string]int{config.FeatureLeaderboardCache: 0})
		h := NewOnPointsAwardedHandler(memory.New(), cache, flags, nil, PointsAwardedConfig{})
		require.NoError(t, h.Handle(event))
		assert.Empty(t, cache.entries)
	})

	t.Run("no cache", func(t *testing.T) {
		h := NewOnPointsAwardedHandler(memory.New(), nil, nil, nil, PointsAwardedConfig{})
		assert.NoError(t, h.Handle(event))
	})

	t.Run("unknown student", func(t *testing.T) {
		cache := newRecordingCache()
		h := NewOnPointsAwardedHandler(memory.New(), cache, nil, nil, PointsAwardedConfig{})
		require.NoError(t, h.Handle(event))
		assert.Empty(t, cache.entries)
	})

	t.Run("unrelated event", func(t *testing.T) {
		cache := newRecordingCache()
		h := NewOnPointsAwardedHandler(memory.New(), cache, nil, nil, PointsAwardedConfig{})
		require.NoError(t, h.Handle(shared.StreakUpdatedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventStreakUpdated, "s-1", time.Now()),
		}))
		assert.Empty(t, cache.entries)
	})
}

func TestOnPointsAwarded_CacheErrorSurfaces(t *testing.T) {
	store := memory.New()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	award := command.NewAwardPointsHandler(store, nil, command.AwardPointsHandlerConfig{Clock: clock, Location: time.UTC})
	_, err := award.Handle(t.Context(), command.AwardPointsCommand{StudentID: "s-1", ActivityType: "PLAY_GAME"})
	require.NoError(t, err)

	cache := newRecordingCache()
	cache.err = errors.New("redis down")
	h := NewOnPointsAwardedHandler(store, cache, nil, nil, PointsAwardedConfig{})

	err = h.Handle(shared.TotalsReconciledEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventTotalsReconciled, "s-1", time.Now()),
		StudentID: "s-1",
	})
	assert.ErrorContains(t, err, "redis down")
}

func TestActivityJournal_LogsMilestones(t *testing.T) {
	var buf bytes.Buffer
	j := NewActivityJournal(logger.New(logger.Options{Output: &buf, Level: logger.LevelInfo}))
	bus := messaging.NewBus(messaging.Options{})
	require.NoError(t, j.Register(bus))

	require.NoError(t, bus.Publish(shared.AchievementUnlockedEvent{
		BaseEvent:       shared.NewBaseEvent(shared.EventAchievementUnlocked, "s-1", time.Now()),
		StudentID:       "s-1",
		AchievementType: "first_quiz",
		BonusPoints:     25,
	}))
	require.NoError(t, bus.Publish(shared.StreakBrokenEvent{
		BaseEvent:      shared.NewBaseEvent(shared.EventStreakBroken, "s-1", time.Now()),
		StudentID:      "s-1",
		PreviousStreak: 4,
		DaysMissed:     2,
	}))

	out := buf.String()
	assert.Contains(t, out, `"achievement":"first_quiz"`)
	assert.Contains(t, out, `"previous_streak":4`)
	assert.Contains(t, out, "activity_journal")
}
