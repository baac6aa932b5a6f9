// Package metrics exports scoring engine activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLECTOR
// One registry per process. Every method is safe on a nil *Collector so
// callers can run without metrics.
// ══════════════════════════════════════════════════════════════════════════════

// Config holds metric naming and bucket options.
type Config struct {
	// Namespace prefixes every metric name.
	Namespace string

	// LatencyBuckets are histogram buckets in seconds.
	LatencyBuckets []float64

	// IncludeRuntime registers the Go and process collectors.
	IncludeRuntime bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:      "scoring",
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		IncludeRuntime: true,
	}
}

// Collector owns the Prometheus registry and every scoring metric.
type Collector struct {
	registry *prometheus.Registry

	awards          *prometheus.CounterVec
	awardPoints     *prometheus.CounterVec
	awardDuration   *prometheus.HistogramVec
	awardFailures   *prometheus.CounterVec
	achievements    *prometheus.CounterVec
	bestEffortFails *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	reconciled    prometheus.Counter
	jobRuns       *prometheus.CounterVec
	cacheRequests *prometheus.CounterVec
}

// New creates a Collector with its own registry.
func New(cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	ns := cfg.Namespace

	c := &Collector{
		registry: prometheus.NewRegistry(),
		awards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "awards_total",
			Help: "Award calls by outcome and activity type.",
		}, []string{"outcome", "activity_type"}),
		awardPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "points_awarded_total",
			Help: "Points granted by activity type, achievement bonuses excluded.",
		}, []string{"activity_type"}),
		awardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "award_duration_seconds",
			Help:    "Award call latency including retries.",
			Buckets: cfg.LatencyBuckets,
		}, []string{"outcome"}),
		awardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "award_failures_total",
			Help: "Award calls that returned an error.",
		}, []string{"activity_type"}),
		achievements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "achievements_unlocked_total",
			Help: "Achievements unlocked by type.",
		}, []string{"achievement_type"}),
		bestEffortFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "best_effort_failures_total",
			Help: "Secondary award steps that failed and were rolled back to their savepoint.",
		}, []string{"step"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "events_published_total",
			Help: "Domain events published on the bus.",
		}, []string{"event_type"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "event_handler_duration_seconds",
			Help:    "Event handler latency by status.",
			Buckets: cfg.LatencyBuckets,
		}, []string{"event_type", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: cfg.LatencyBuckets,
		}, []string{"route"}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "totals_reconciled_total",
			Help: "Streak totals repaired from the transaction log.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "job_runs_total",
			Help: "Scheduled job runs by job and status.",
		}, []string{"job", "status"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "leaderboard_reads_total",
			Help: "Leaderboard reads by serving source.",
		}, []string{"source"}),
	}

	c.registry.MustRegister(
		c.awards, c.awardPoints, c.awardDuration, c.awardFailures,
		c.achievements, c.bestEffortFails,
		c.eventsPublished, c.handlerDuration,
		c.httpRequests, c.httpDuration,
		c.reconciled, c.jobRuns, c.cacheRequests,
	)
	if cfg.IncludeRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ── award command ────────────────────────────────────────────────────────────

// AwardRecorded counts a successful award call.
func (c *Collector) AwardRecorded(outcome, activityType string, points int, took time.Duration) {
	if c == nil {
		return
	}
	c.awards.WithLabelValues(outcome, activityType).Inc()
	if points > 0 {
		c.awardPoints.WithLabelValues(activityType).Add(float64(points))
	}
	c.awardDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

// AwardFailed counts an award call that returned an error.
func (c *Collector) AwardFailed(activityType string) {
	if c == nil {
		return
	}
	c.awardFailures.WithLabelValues(activityType).Inc()
}

// AchievementUnlocked counts one unlock.
func (c *Collector) AchievementUnlocked(achievementType string) {
	if c == nil {
		return
	}
	c.achievements.WithLabelValues(achievementType).Inc()
}

// BestEffortStepFailed counts a swallowed secondary failure.
func (c *Collector) BestEffortStepFailed(step string) {
	if c == nil {
		return
	}
	c.bestEffortFails.WithLabelValues(step).Inc()
}

// ── event bus ────────────────────────────────────────────────────────────────

// EventPublished counts a published event.
func (c *Collector) EventPublished(eventType string) {
	if c == nil {
		return
	}
	c.eventsPublished.WithLabelValues(eventType).Inc()
}

// HandlerExecuted observes one handler run.
func (c *Collector) HandlerExecuted(eventType string, took time.Duration, err error) {
	if c == nil {
		return
	}
	c.handlerDuration.WithLabelValues(eventType, status(err)).Observe(took.Seconds())
}

// ── http ─────────────────────────────────────────────────────────────────────

// HTTPRequest observes one served request. route is the mux pattern, not the
// raw path, to keep label cardinality bounded.
func (c *Collector) HTTPRequest(method, route string, code int, took time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(took.Seconds())
}

// LeaderboardRead counts a leaderboard read by source.
func (c *Collector) LeaderboardRead(source string) {
	if c == nil {
		return
	}
	c.cacheRequests.WithLabelValues(source).Inc()
}

// ── jobs ─────────────────────────────────────────────────────────────────────

// TotalsReconciled counts repaired totals.
func (c *Collector) TotalsReconciled(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.reconciled.Add(float64(n))
}

// JobRun counts one scheduled job execution.
func (c *Collector) JobRun(job string, err error) {
	if c == nil {
		return
	}
	c.jobRuns.WithLabelValues(job, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
