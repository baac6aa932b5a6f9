package http

import (
	"sync"
	"time"
)

// clientLimiter is a token bucket per client key. Each bucket holds up to
// limit tokens and refills at limit per window.
type clientLimiter struct {
	burst  float64
	perSec float64
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func newClientLimiter(limit int, window time.Duration) *clientLimiter {
	l := &clientLimiter{
		burst:   float64(limit),
		perSec:  float64(limit) / window.Seconds(),
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow takes a token for key. When none is left it reports how long until
// the next one.
func (l *clientLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst}
		l.buckets[key] = b
	} else {
		b.tokens = min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.perSec)
	}
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, time.Duration((1 - b.tokens) / l.perSec * float64(time.Second))
}

func (l *clientLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// sweep drops buckets idle for a full window; they would be full again.
func (l *clientLimiter) sweep() {
	t := time.NewTicker(l.window)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			l.mu.Lock()
			cutoff := l.now().Add(-l.window)
			for key, b := range l.buckets {
				if b.seen.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
