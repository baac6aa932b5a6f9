package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func fakeClock(b *Breaker) *time.Time {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return &now
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []string
	b := New(Settings{
		Name:             "test",
		FailureThreshold: 2,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	assert.ErrorIs(t, b.Do(t.Context(), fail), errBoom)
	assert.NoError(t, b.Do(t.Context(), succeed))
	assert.ErrorIs(t, b.Do(t.Context(), fail), errBoom)
	assert.Equal(t, Closed, b.State(), "a success in between resets the streak")

	assert.ErrorIs(t, b.Do(t.Context(), fail), errBoom)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Do(t.Context(), func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
	assert.Equal(t, Stats{Calls: 4, Failures: 3, Successes: 1}, b.Stats())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Second})
	now := fakeClock(b)

	require.ErrorIs(t, b.Do(t.Context(), fail), errBoom)
	require.Equal(t, Open, b.State())

	*now = now.Add(500 * time.Millisecond)
	require.ErrorIs(t, b.Do(t.Context(), succeed), ErrOpen)

	*now = now.Add(500 * time.Millisecond)
	require.NoError(t, b.Do(t.Context(), succeed))
	assert.Equal(t, HalfOpen, b.State())

	require.NoError(t, b.Do(t.Context(), succeed))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, OpenTimeout: time.Second})
	now := fakeClock(b)

	require.Error(t, b.Do(t.Context(), fail))
	*now = now.Add(2 * time.Second)
	require.ErrorIs(t, b.Do(t.Context(), fail), errBoom)
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Do(t.Context(), succeed), ErrOpen)
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, OpenTimeout: time.Second})
	now := fakeClock(b)
	require.Error(t, b.Do(t.Context(), fail))
	*now = now.Add(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Do(t.Context(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, b.Do(t.Context(), succeed), ErrOpen)
	close(release)
	require.NoError(t, <-done)
}

func TestBreaker_Reset(t *testing.T) {
	b := New(Settings{FailureThreshold: 1})
	require.Error(t, b.Do(t.Context(), fail))
	require.Equal(t, Open, b.State())

	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.Zero(t, b.Stats())
	assert.NoError(t, b.Do(t.Context(), succeed))
}

func TestCacheBreaker_IgnoresCancellation(t *testing.T) {
	b := CacheBreaker(nil)
	for range 5 {
		_ = b.Do(t.Context(), func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, "leaderboard-cache", b.Name())

	for range 3 {
		_ = b.Do(t.Context(), fail)
	}
	assert.Equal(t, Open, b.State())
}
