package redis

import (
	"context"
	"errors"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/circuitbreaker"
)

// GuardedLeaderboardCache short-circuits calls to a failing cache. While the
// breaker is open every call returns circuitbreaker.ErrOpen at once, so
// readers fall back to the store without waiting on Redis timeouts.
type GuardedLeaderboardCache struct {
	inner   scoring.LeaderboardCache
	breaker *circuitbreaker.Breaker
}

// NewGuardedLeaderboardCache wraps inner with breaker.
func NewGuardedLeaderboardCache(inner scoring.LeaderboardCache, breaker *circuitbreaker.Breaker) *GuardedLeaderboardCache {
	return &GuardedLeaderboardCache{inner: inner, breaker: breaker}
}

// Breaker exposes the breaker for health reporting.
func (g *GuardedLeaderboardCache) Breaker() *circuitbreaker.Breaker {
	return g.breaker
}

func (g *GuardedLeaderboardCache) UpdateEntry(ctx context.Context, entry scoring.LeaderboardEntry) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.inner.UpdateEntry(ctx, entry)
	})
}

// GetTop passes a cold cache through without counting it against the
// breaker; Redis answered.
func (g *GuardedLeaderboardCache) GetTop(ctx context.Context, limit int) ([]scoring.LeaderboardEntry, error) {
	var (
		out  []scoring.LeaderboardEntry
		cold bool
	)
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetTop(ctx, limit)
		if errors.Is(err, shared.ErrLeaderboardCold) {
			cold = true
			return nil
		}
		return err
	})
	if cold {
		return nil, shared.ErrLeaderboardCold
	}
	return out, err
}

// Rebuild always reaches Redis: a successful rebuild is the fastest way to
// close the breaker again.
func (g *GuardedLeaderboardCache) Rebuild(ctx context.Context, entries []scoring.LeaderboardEntry) error {
	if err := g.inner.Rebuild(ctx, entries); err != nil {
		return err
	}
	g.breaker.Reset()
	return nil
}

func (g *GuardedLeaderboardCache) Size(ctx context.Context) (int64, error) {
	var n int64
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = g.inner.Size(ctx)
		return err
	})
	return n, err
}
