package redis

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
)

// newTestCache connects to SCORING_TEST_REDIS_ADDR under a random key prefix.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("SCORING_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SCORING_TEST_REDIS_ADDR not set")
	}

	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.KeyPrefix = "scoring-test:" + uuid.NewString() + ":"

	c, err := NewCache(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		lb := NewLeaderboardCache(c)
		_ = lb.Invalidate(t.Context())
		_ = c.Close()
	})
	return c
}

func TestLeaderboardCache_RebuildAndRead(t *testing.T) {
	lb := NewLeaderboardCache(newTestCache(t))
	ctx := t.Context()

	require.NoError(t, lb.Rebuild(ctx, []scoring.LeaderboardEntry{
		{StudentID: "carol", TotalPoints: 50, CurrentStreak: 1, LongestStreak: 4},
		{StudentID: "bob", TotalPoints: 80, CurrentStreak: 3, LongestStreak: 3},
		{StudentID: "alice", TotalPoints: 50, CurrentStreak: 2, LongestStreak: 2},
		{StudentID: "", TotalPoints: 999},
	}))

	size, err := lb.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, size)

	top, err := lb.GetTop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, scoring.LeaderboardEntry{Rank: 1, StudentID: "bob", TotalPoints: 80, CurrentStreak: 3, LongestStreak: 3}, top[0])
	assert.Equal(t, shared.StudentID("alice"), top[1].StudentID)
	assert.Equal(t, shared.StudentID("carol"), top[2].StudentID)
	assert.Equal(t, 4, top[2].LongestStreak)

	top, err = lb.GetTop(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestLeaderboardCache_UpdateEntry(t *testing.T) {
	lb := NewLeaderboardCache(newTestCache(t))
	ctx := t.Context()
	require.NoError(t, lb.Rebuild(ctx, nil))

	require.NoError(t, lb.UpdateEntry(ctx, scoring.LeaderboardEntry{StudentID: "s-1", TotalPoints: 10, CurrentStreak: 1, LongestStreak: 1}))
	require.NoError(t, lb.UpdateEntry(ctx, scoring.LeaderboardEntry{StudentID: "s-2", TotalPoints: 20, CurrentStreak: 1, LongestStreak: 1}))
	require.NoError(t, lb.UpdateEntry(ctx, scoring.LeaderboardEntry{StudentID: "s-1", TotalPoints: 35, CurrentStreak: 2, LongestStreak: 2}))

	top, err := lb.GetTop(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, shared.StudentID("s-1"), top[0].StudentID)
	assert.Equal(t, 35, top[0].TotalPoints)
	assert.Equal(t, 2, top[0].CurrentStreak)

	assert.ErrorIs(t, lb.UpdateEntry(ctx, scoring.LeaderboardEntry{}), ErrStudentIDEmpty)
	_, err = lb.GetTop(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestLeaderboardCache_EmptyAndInvalidate(t *testing.T) {
	lb := NewLeaderboardCache(newTestCache(t))
	ctx := t.Context()

	require.NoError(t, lb.Rebuild(ctx, nil))
	top, err := lb.GetTop(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, top)

	require.NoError(t, lb.UpdateEntry(ctx, scoring.LeaderboardEntry{StudentID: "s-1", TotalPoints: 10}))
	require.NoError(t, lb.Invalidate(ctx))
	size, err := lb.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	_, err = lb.GetTop(ctx, 5)
	assert.ErrorIs(t, err, shared.ErrLeaderboardCold)
}

func TestLeaderboardCache_PartialRefillStaysCold(t *testing.T) {
	lb := NewLeaderboardCache(newTestCache(t))
	ctx := t.Context()

	require.NoError(t, lb.UpdateEntry(ctx, scoring.LeaderboardEntry{StudentID: "d", TotalPoints: 10}))
	_, err := lb.GetTop(ctx, 10)
	assert.ErrorIs(t, err, shared.ErrLeaderboardCold)

	require.NoError(t, lb.Rebuild(ctx, []scoring.LeaderboardEntry{
		{StudentID: "a", TotalPoints: 30}, {StudentID: "d", TotalPoints: 10},
	}))
	top, err := lb.GetTop(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestCache_Lock(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	ok, err := c.TryLock(ctx, "reconcile", "worker-a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.TryLock(ctx, "reconcile", "worker-b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, c.Unlock(ctx, "reconcile", "worker-b"), ErrLockNotHeld)
	require.NoError(t, c.Unlock(ctx, "reconcile", "worker-a"))

	ok, err = c.TryLock(ctx, "reconcile", "worker-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.Unlock(ctx, "reconcile", "worker-b"))
}

func TestNewCache_ConnectionFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond
	cfg.MaxRetries = -1

	_, err := NewCache(t.Context(), cfg)
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestCache_Key(t *testing.T) {
	c := NewCacheFromClient(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), "scoring:")
	defer c.Close()
	assert.Equal(t, "scoring:leaderboard:points", c.Key(keyLeaderboardPoints))
}
