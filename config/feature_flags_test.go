package config

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := NewFeatureFlags(nil)

	assert.True(t, ff.Enabled(FeatureAchievements, "s-1"))
	assert.True(t, ff.Enabled(FeatureLeaderboardCache, ""))
	assert.True(t, ff.Enabled(FeatureImprovementBonus, "s-1"))
	assert.False(t, ff.Enabled("scoring.unknown", "s-1"))
}

func TestFeatureFlags_Overrides(t *testing.T) {
	ff := NewFeatureFlags(map[string]int{
		"scoring.achievements":      0,
		"scoring_leaderboard_cache": 0,
		"scoring.improvement_bonus": 250,
	})

	assert.False(t, ff.Enabled(FeatureAchievements, "s-1"))
	assert.False(t, ff.Enabled(FeatureLeaderboardCache, "s-1"))
	assert.True(t, ff.Enabled(FeatureImprovementBonus, "s-1"), "out-of-range percentages are ignored")
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags(nil)
	require.NoError(t, ff.SetRolloutPercent(FeatureAchievements, 50))

	enabled := 0
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("student-%d", i)
		first := ff.Enabled(FeatureAchievements, id)
		assert.Equal(t, first, ff.Enabled(FeatureAchievements, id))
		if first {
			enabled++
		}
	}
	assert.InDelta(t, 500, enabled, 150)
}

func TestFeatureFlags_StudentOverride(t *testing.T) {
	ff := NewFeatureFlags(nil)
	require.NoError(t, ff.DisableFeature(FeatureAchievements))

	ff.SetStudentOverride("beta", FeatureAchievements, true)
	assert.True(t, ff.Enabled(FeatureAchievements, "beta"))
	assert.False(t, ff.Enabled(FeatureAchievements, "other"))

	ff.ClearStudentOverrides("beta")
	assert.False(t, ff.Enabled(FeatureAchievements, "beta"))
}

func TestFeatureFlags_SetRolloutPercentErrors(t *testing.T) {
	ff := NewFeatureFlags(nil)

	assert.ErrorIs(t, ff.SetRolloutPercent("missing", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureAchievements, 101), ErrInvalidRolloutPercent)
}

func TestFeatureFlags_EnableAndRollout(t *testing.T) {
	ff := NewFeatureFlags(map[string]int{FeatureAchievements: 0})
	assert.Equal(t, 0, ff.Rollout()[FeatureAchievements])

	require.NoError(t, ff.EnableFeature(FeatureAchievements))
	assert.True(t, ff.Enabled(FeatureAchievements, "s-1"))

	snapshot := ff.Rollout()
	snapshot[FeatureAchievements] = 0
	assert.Equal(t, 100, ff.Rollout()[FeatureAchievements], "Rollout returns a copy")
}
