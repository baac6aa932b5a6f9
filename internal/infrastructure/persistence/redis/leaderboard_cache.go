package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// Storage layout:
//   - Sorted set "leaderboard:points" scores each student by -total_points
//   - Hash "leaderboard:info" maps studentID -> streak JSON
//   - String "leaderboard:warm" exists only after a Rebuild. A flush or
//     expiry removes it with the data, and UpdateEntry never creates it.
//
// Scores are negated so that an ascending ZRANGE yields the highest totals
// first with ties ordered by student ID ascending, which is the store's order.
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrStudentIDEmpty is returned when an entry has no student.
	ErrStudentIDEmpty = errors.New("leaderboard_cache: student ID is empty")

	// ErrInvalidLimit is returned for a non-positive limit.
	ErrInvalidLimit = errors.New("leaderboard_cache: limit must be positive")
)

const (
	keyLeaderboardPoints = PrefixLeaderboard + "points"
	keyLeaderboardInfo   = PrefixLeaderboard + "info"
	keyLeaderboardWarm   = PrefixLeaderboard + "warm"
)

// streakInfo is the per-student hash payload.
type streakInfo struct {
	CurrentStreak int `json:"current_streak"`
	LongestStreak int `json:"longest_streak"`
}

// LeaderboardCache implements scoring.LeaderboardCache on Redis.
type LeaderboardCache struct {
	cache *Cache
}

// NewLeaderboardCache creates a new LeaderboardCache instance.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache}
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// UpdateEntry upserts one student. This is an O(log N) operation.
func (l *LeaderboardCache) UpdateEntry(ctx context.Context, entry scoring.LeaderboardEntry) error {
	if entry.StudentID.IsEmpty() {
		return ErrStudentIDEmpty
	}

	data, err := json.Marshal(streakInfo{CurrentStreak: entry.CurrentStreak, LongestStreak: entry.LongestStreak})
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	pointsKey, infoKey, warmKey := l.keys()
	pipe := l.cache.Client().TxPipeline()
	pipe.ZAdd(ctx, pointsKey, redis.Z{Score: -float64(entry.TotalPoints), Member: entry.StudentID.String()})
	pipe.HSet(ctx, infoKey, entry.StudentID.String(), data)
	pipe.Expire(ctx, pointsKey, TTLLeaderboardCache)
	pipe.Expire(ctx, infoKey, TTLLeaderboardCache)
	pipe.Expire(ctx, warmKey, TTLLeaderboardCache)

	_, err = pipe.Exec(ctx)
	return err
}

// Rebuild replaces the whole leaderboard atomically and marks it warm.
func (l *LeaderboardCache) Rebuild(ctx context.Context, entries []scoring.LeaderboardEntry) error {
	pointsKey, infoKey, warmKey := l.keys()

	pipe := l.cache.Client().TxPipeline()
	pipe.Del(ctx, pointsKey, infoKey)

	members := make([]redis.Z, 0, len(entries))
	info := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		if e.StudentID.IsEmpty() {
			continue
		}
		data, err := json.Marshal(streakInfo{CurrentStreak: e.CurrentStreak, LongestStreak: e.LongestStreak})
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		members = append(members, redis.Z{Score: -float64(e.TotalPoints), Member: e.StudentID.String()})
		info[e.StudentID.String()] = data
	}

	if len(members) > 0 {
		pipe.ZAdd(ctx, pointsKey, members...)
		pipe.HSet(ctx, infoKey, info)
		pipe.Expire(ctx, pointsKey, TTLLeaderboardCache)
		pipe.Expire(ctx, infoKey, TTLLeaderboardCache)
	}
	pipe.Set(ctx, warmKey, "1", TTLLeaderboardCache)

	_, err := pipe.Exec(ctx)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// READ OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetTop returns the top limit entries, ranked from 1, or
// shared.ErrLeaderboardCold when the cache has not been rebuilt.
// This is an O(log N + M) operation where M is the limit.
func (l *LeaderboardCache) GetTop(ctx context.Context, limit int) ([]scoring.LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	pointsKey, infoKey, warmKey := l.keys()

	var (
		warm *redis.IntCmd
		top  *redis.ZSliceCmd
	)
	_, err := l.cache.Client().Pipelined(ctx, func(p redis.Pipeliner) error {
		warm = p.Exists(ctx, warmKey)
		top = p.ZRangeWithScores(ctx, pointsKey, 0, int64(limit-1))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if warm.Val() == 0 {
		return nil, shared.ErrLeaderboardCold
	}
	scored := top.Val()
	if len(scored) == 0 {
		return []scoring.LeaderboardEntry{}, nil
	}

	ids := make([]string, len(scored))
	for i, z := range scored {
		ids[i], _ = z.Member.(string)
	}

	raw, err := l.cache.Client().HMGet(ctx, infoKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]scoring.LeaderboardEntry, 0, len(scored))
	for i, z := range scored {
		entry := scoring.LeaderboardEntry{
			Rank:        i + 1,
			StudentID:   shared.StudentID(ids[i]),
			TotalPoints: int(-z.Score),
		}
		if s, ok := raw[i].(string); ok {
			var si streakInfo
			if err := json.Unmarshal([]byte(s), &si); err == nil {
				entry.CurrentStreak = si.CurrentStreak
				entry.LongestStreak = si.LongestStreak
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Size returns the number of cached students.
func (l *LeaderboardCache) Size(ctx context.Context) (int64, error) {
	pointsKey, _, _ := l.keys()
	return l.cache.Client().ZCard(ctx, pointsKey).Result()
}

// Invalidate drops the cached leaderboard; it stays cold until Rebuild.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	pointsKey, infoKey, warmKey := l.keys()
	return l.cache.Client().Del(ctx, pointsKey, infoKey, warmKey).Err()
}

func (l *LeaderboardCache) keys() (points, info, warm string) {
	return l.cache.Key(keyLeaderboardPoints), l.cache.Key(keyLeaderboardInfo), l.cache.Key(keyLeaderboardWarm)
}

var _ scoring.LeaderboardCache = (*LeaderboardCache)(nil)
