package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "scoring-engine", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.ReconcileInterval)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
	assert.Equal(t, 1.0, cfg.Observability.TracingSampleRatio)
	assert.Equal(t, ":9091", cfg.Scheduler.MetricsAddr)
	require.NotNil(t, cfg.Features)
	assert.True(t, cfg.Features.Enabled(FeatureAchievements, "s-1"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCORING_APP_TIMEZONE", "Asia/Almaty")
	t.Setenv("SCORING_DATABASE_DRIVER", "Postgres")
	t.Setenv("SCORING_DATABASE_URL", "postgres://scoring@localhost/scoring")
	t.Setenv("SCORING_HTTP_PORT", "9090")
	t.Setenv("SCORING_HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SCORING_SCHEDULER_RECONCILE_INTERVAL", "90s")
	t.Setenv("SCORING_FEATURES_SCORING_LEADERBOARD_CACHE", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://scoring@localhost/scoring", cfg.Database.URL)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.ReconcileInterval)
	assert.False(t, cfg.Features.Enabled(FeatureLeaderboardCache, ""))
	assert.True(t, cfg.Features.Enabled(FeatureAchievements, ""))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  env: staging
database:
  driver: sqlite
  sqlite_path: /tmp/scoring.db
redis:
  disabled: true
scheduler:
  leaderboard_interval: 2m
features:
  scoring_improvement_bonus: 0
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/scoring.db", cfg.Database.SQLitePath)
	assert.True(t, cfg.Redis.Disabled)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.LeaderboardInterval)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.ReconcileInterval, "unset keys keep their defaults")
	assert.False(t, cfg.Features.Enabled(FeatureImprovementBonus, "s-1"))
	assert.True(t, cfg.Features.Enabled(FeatureAchievements, "s-1"))
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_AggregatesErrors(t *testing.T) {
	t.Setenv("SCORING_APP_ENV", "production")
	t.Setenv("SCORING_HTTP_PORT", "0")
	t.Setenv("SCORING_SCHEDULER_RECONCILE_CONCURRENCY", "0")
	t.Setenv("SCORING_OBSERVABILITY_LOG_FORMAT", "xml")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "memory driver is not allowed in production")
	assert.Contains(t, msg, "http.port must be 1-65535")
	assert.Contains(t, msg, "scheduler.reconcile_concurrency must be at least 1")
	assert.Contains(t, msg, "observability.log_format must be json or console")
}

func TestValidate_DriverRequirements(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		want   string
	}{
		{"postgres without url", "postgres", "database.url is required"},
		{"unknown driver", "mysql", "database.driver must be postgres, sqlite or memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SCORING_DATABASE_DRIVER", tt.driver)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_BadTimezone(t *testing.T) {
	t.Setenv("SCORING_APP_TIMEZONE", "Mars/Olympus")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.timezone")
}
