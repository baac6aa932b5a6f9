// Package handlers contains HTTP building blocks shared by the API server:
// health reporting and generic middleware.
package handlers

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/scoring-engine/pkg/circuitbreaker"
)

// Check probes one dependency. A nil error means it is usable.
type Check func(ctx context.Context) error

// HealthChecker is what the /health and /ready handlers need.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	// Healthy is false when a required check failed.
	Healthy bool `json:"healthy"`
	// Degraded is set when only optional checks failed.
	Degraded  bool                   `json:"degraded,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type registered struct {
	check    Check
	optional bool
}

// Registry runs every registered check concurrently, each under its own
// timeout.
type Registry struct {
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]registered
}

func NewRegistry(version string) *Registry {
	return &Registry{
		version: version,
		started: time.Now(),
		timeout: 5 * time.Second,
		checks:  make(map[string]registered),
	}
}

// Register adds a check whose failure makes the service unhealthy.
func (r *Registry) Register(name string, c Check) { r.add(name, c, false) }

// RegisterOptional adds a check whose failure only marks the service
// degraded, for dependencies with a fallback.
func (r *Registry) RegisterOptional(name string, c Check) { r.add(name, c, true) }

func (r *Registry) add(name string, c Check, optional bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = registered{check: c, optional: optional}
}

func (r *Registry) Check(ctx context.Context) HealthStatus {
	r.mu.RLock()
	checks := make(map[string]registered, len(r.checks))
	for name, c := range r.checks {
		checks[name] = c
	}
	r.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(r.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   r.version,
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for name, c := range checks {
		g.Go(func() error {
			res := r.run(ctx, c)
			mu.Lock()
			status.Checks[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var failed, degraded []string
	for name, res := range status.Checks {
		switch {
		case res.Healthy:
		case res.Optional:
			degraded = append(degraded, name)
		default:
			failed = append(failed, name)
		}
	}
	slices.Sort(failed)
	slices.Sort(degraded)

	switch {
	case len(failed) > 0:
		status.Healthy = false
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	case len(degraded) > 0:
		status.Degraded = true
		status.Message = "Degraded: " + strings.Join(degraded, ", ")
	default:
		status.Message = "All checks passed"
	}
	return status
}

func (r *Registry) run(ctx context.Context, c registered) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := c.check(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Optional: c.optional,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Pinger is implemented by the store backends and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

func PingCheck(p Pinger) Check { return p.Ping }

var errBreakerOpen = errors.New("circuit breaker open")

// GuardedPingCheck fails fast while b is open and pings p otherwise.
func GuardedPingCheck(p Pinger, b *circuitbreaker.Breaker) Check {
	return func(ctx context.Context) error {
		if b != nil && b.State() == circuitbreaker.Open {
			return errBreakerOpen
		}
		return p.Ping(ctx)
	}
}
