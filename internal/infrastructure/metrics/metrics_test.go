package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/scoring-engine/internal/application/command"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/messaging"
)

var (
	_ command.AwardMetrics = (*Collector)(nil)
	_ messaging.Observer   = (*Collector)(nil)
)

func TestCollector_AwardMetrics(t *testing.T) {
	c := New(Config{Namespace: "test"})

	c.AwardRecorded("awarded", "COMPLETE_QUIZ", 30, 3*time.Millisecond)
	c.AwardRecorded("awarded", "COMPLETE_QUIZ", 15, time.Millisecond)
	c.AwardRecorded("repeat", "COMPLETE_QUIZ", 0, time.Millisecond)
	c.AwardFailed("PLAY_GAME")
	c.AchievementUnlocked("first_quiz")
	c.BestEffortStepFailed("daily_summary")

	assert.InDelta(t, 2, testutil.ToFloat64(c.awards.WithLabelValues("awarded", "COMPLETE_QUIZ")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.awards.WithLabelValues("repeat", "COMPLETE_QUIZ")), 0)
	assert.InDelta(t, 45, testutil.ToFloat64(c.awardPoints.WithLabelValues("COMPLETE_QUIZ")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.awardFailures.WithLabelValues("PLAY_GAME")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.achievements.WithLabelValues("first_quiz")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.bestEffortFails.WithLabelValues("daily_summary")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(c.awardDuration))
}

func TestCollector_BusAndJobs(t *testing.T) {
	c := New(Config{Namespace: "test"})

	c.EventPublished("scoring.points_awarded")
	c.HandlerExecuted("scoring.points_awarded", time.Millisecond, nil)
	c.HandlerExecuted("scoring.points_awarded", time.Millisecond, errors.New("x"))
	c.TotalsReconciled(3)
	c.TotalsReconciled(0)
	c.JobRun("reconcile_totals", nil)
	c.LeaderboardRead("cache")

	assert.InDelta(t, 1, testutil.ToFloat64(c.eventsPublished.WithLabelValues("scoring.points_awarded")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(c.handlerDuration))
	assert.InDelta(t, 3, testutil.ToFloat64(c.reconciled), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.jobRuns.WithLabelValues("reconcile_totals", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.cacheRequests.WithLabelValues("cache")), 0)
}

func TestCollector_Handler(t *testing.T) {
	c := New(Config{Namespace: "test"})
	c.HTTPRequest(http.MethodGet, "/api/v1/leaderboard", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `test_http_requests_total{code="200",method="GET",route="/api/v1/leaderboard"} 1`), body)
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.AwardRecorded("awarded", "PLAY_GAME", 10, time.Millisecond)
		c.AwardFailed("PLAY_GAME")
		c.AchievementUnlocked("x")
		c.BestEffortStepFailed("x")
		c.EventPublished("x")
		c.HandlerExecuted("x", 0, nil)
		c.HTTPRequest("GET", "/", 200, 0)
		c.TotalsReconciled(1)
		c.JobRun("x", nil)
		c.LeaderboardRead("store")
	})
	assert.Nil(t, c.Registry())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
