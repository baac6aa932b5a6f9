package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/scoring-engine/pkg/circuitbreaker"
)

func tag(name string, order *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, name)
			next.ServeHTTP(w, r)
		})
	}
}

func TestWrap_OrderAndNilSkipped(t *testing.T) {
	var order []string
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), tag("outer", &order), nil, Deadline(0), tag("inner", &order))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestDeadline_SetsContextDeadline(t *testing.T) {
	var ok bool
	h := Wrap(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, ok = r.Context().Deadline()
	}), Deadline(time.Second))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, ok)
}

func TestBodyLimit_RejectsDeclaredLength(t *testing.T) {
	reached := false
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true }),
		SecureHeaders,
		BodyLimit(4, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.False(t, reached)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

type pinger func(context.Context) error

func (p pinger) Ping(ctx context.Context) error { return p(ctx) }

func TestRegistry_RequiredAndOptional(t *testing.T) {
	r := NewRegistry("v1")
	status := r.Check(t.Context())
	assert.True(t, status.Healthy)
	assert.Equal(t, "All checks passed", status.Message)

	r.Register("store", PingCheck(pinger(func(context.Context) error { return nil })))
	r.RegisterOptional("cache", PingCheck(pinger(func(context.Context) error { return errors.New("down") })))
	status = r.Check(t.Context())
	assert.True(t, status.Healthy)
	assert.True(t, status.Degraded)
	assert.Equal(t, "v1", status.Version)
	require.Contains(t, status.Checks, "cache")
	assert.Equal(t, "down", status.Checks["cache"].Message)
}

func TestRegistry_CheckTimeout(t *testing.T) {
	r := NewRegistry("v1")
	r.timeout = 10 * time.Millisecond
	r.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := r.Check(t.Context())
	assert.False(t, status.Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Message)
}

func TestGuardedPingCheck_FailsFastWhenOpen(t *testing.T) {
	b := circuitbreaker.New(circuitbreaker.Settings{FailureThreshold: 1})
	pinged := 0
	check := GuardedPingCheck(pinger(func(context.Context) error { pinged++; return nil }), b)

	require.NoError(t, check(t.Context()))
	_ = b.Do(t.Context(), func(context.Context) error { return errors.New("boom") })

	assert.ErrorIs(t, check(t.Context()), errBreakerOpen)
	assert.Equal(t, 1, pinged)
}
