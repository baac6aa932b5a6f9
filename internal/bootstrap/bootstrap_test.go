package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/scoring-engine/config"
)

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryWithoutRedis(t *testing.T) {
	cfg := loadConfig(t, `
database:
  driver: memory
redis:
  disabled: true
observability:
  log_level: error
`)

	rt, err := New(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(t.Context()) })

	assert.NotNil(t, rt.Store)
	assert.Nil(t, rt.Cache)
	assert.Nil(t, rt.Leaderboard)
	assert.Nil(t, rt.tracerProvider)

	status := rt.Health.Check(t.Context())
	assert.True(t, status.Healthy)
	assert.Contains(t, status.Checks, "store")
	assert.NotContains(t, status.Checks, "cache")
}

func TestNew_UnreachableRedisFallsBack(t *testing.T) {
	cfg := loadConfig(t, `
database:
  driver: memory
redis:
  addr: 127.0.0.1:1
observability:
  log_level: error
`)

	rt, err := New(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(t.Context()) })

	assert.Nil(t, rt.Cache)
	assert.Nil(t, rt.Leaderboard)
}

func TestNew_SQLiteWithTracing(t *testing.T) {
	cfg := loadConfig(t, `
database:
  driver: sqlite
  sqlite_path: `+filepath.Join(t.TempDir(), "scoring.db")+`
redis:
  disabled: true
observability:
  log_level: error
  tracing_enabled: true
`)

	rt, err := New(t.Context(), cfg)
	require.NoError(t, err)

	assert.NotNil(t, rt.tracerProvider)
	require.NoError(t, rt.Store.Ping(t.Context()))
	assert.NoError(t, rt.Close(t.Context()))
}

func TestNew_BadDriverClosesRuntime(t *testing.T) {
	cfg := loadConfig(t, `
database:
  driver: memory
redis:
  disabled: true
observability:
  log_level: error
`)
	cfg.Database.Driver = "oracle"

	rt, err := New(t.Context(), cfg)
	require.Error(t, err)
	assert.Nil(t, rt)
	assert.Contains(t, err.Error(), "oracle")
}

func TestNewScheduler_WithoutCacheSkipsRebuild(t *testing.T) {
	cfg := loadConfig(t, `
database:
  driver: memory
redis:
  disabled: true
observability:
  log_level: error
`)

	rt, err := New(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(t.Context()) })

	s, err := rt.NewScheduler()
	require.NoError(t, err)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, "reconcile_totals", infos[0].Name)
}
