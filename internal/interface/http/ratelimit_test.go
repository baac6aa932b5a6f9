package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientLimiter_RefillsOverWindow(t *testing.T) {
	l := newClientLimiter(3, time.Minute)
	t.Cleanup(l.Stop)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for range 3 {
		ok, _ := l.Allow("10.0.0.1")
		assert.True(t, ok)
	}
	ok, wait := l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.InDelta(t, float64(20*time.Second), float64(wait), float64(time.Millisecond))

	ok, _ = l.Allow("10.0.0.2")
	assert.True(t, ok, "buckets are per client")

	now = now.Add(21 * time.Second)
	ok, _ = l.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.Allow("10.0.0.1")
	assert.False(t, ok)
}
