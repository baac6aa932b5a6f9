package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/circuitbreaker"
)

type flakyCache struct {
	err   error
	calls int
}

type coldCache struct{ flakyCache }

func (c *coldCache) GetTop(context.Context, int) ([]scoring.LeaderboardEntry, error) {
	c.calls++
	return nil, shared.ErrLeaderboardCold
}

func (f *flakyCache) UpdateEntry(context.Context, scoring.LeaderboardEntry) error {
	f.calls++
	return f.err
}

func (f *flakyCache) GetTop(context.Context, int) ([]scoring.LeaderboardEntry, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []scoring.LeaderboardEntry{{Rank: 1, StudentID: "s-1", TotalPoints: 10}}, nil
}

func (f *flakyCache) Rebuild(context.Context, []scoring.LeaderboardEntry) error {
	f.calls++
	return f.err
}

func (f *flakyCache) Size(context.Context) (int64, error) {
	f.calls++
	return 1, f.err
}

func TestGuardedLeaderboardCache_OpensOnFailures(t *testing.T) {
	inner := &flakyCache{err: errors.New("i/o timeout")}
	g := NewGuardedLeaderboardCache(inner, circuitbreaker.New(circuitbreaker.Settings{FailureThreshold: 2}))

	for range 2 {
		_, err := g.GetTop(t.Context(), 10)
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.Open, g.Breaker().State())

	_, err := g.GetTop(t.Context(), 10)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.ErrorIs(t, g.UpdateEntry(t.Context(), scoring.LeaderboardEntry{StudentID: "s-1"}), circuitbreaker.ErrOpen)
	assert.Equal(t, 2, inner.calls)
}

func TestGuardedLeaderboardCache_RebuildResets(t *testing.T) {
	inner := &flakyCache{err: errors.New("down")}
	g := NewGuardedLeaderboardCache(inner, circuitbreaker.New(circuitbreaker.Settings{FailureThreshold: 1}))

	_, _ = g.Size(t.Context())
	require.Equal(t, circuitbreaker.Open, g.Breaker().State())

	inner.err = nil
	require.NoError(t, g.Rebuild(t.Context(), nil))
	assert.Equal(t, circuitbreaker.Closed, g.Breaker().State())

	entries, err := g.GetTop(t.Context(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGuardedLeaderboardCache_ColdIsNotAFailure(t *testing.T) {
	g := NewGuardedLeaderboardCache(&coldCache{}, circuitbreaker.New(circuitbreaker.Settings{FailureThreshold: 1}))

	for range 3 {
		_, err := g.GetTop(t.Context(), 10)
		assert.ErrorIs(t, err, shared.ErrLeaderboardCold)
	}
	assert.Equal(t, circuitbreaker.Closed, g.Breaker().State())
}
