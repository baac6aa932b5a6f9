// Package circuitbreaker stops calling a failing dependency for a while and
// lets a few probe requests through before trusting it again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the breaker
// is open, or half-open with every probe slot taken.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Settings configures a Breaker. Zero numeric fields take the defaults noted.
type Settings struct {
	Name string

	// Failures in a row that open a closed breaker. Default 5.
	FailureThreshold int
	// Successes in a row that close a half-open breaker. Default 2.
	SuccessThreshold int
	// How long the breaker stays open before probing. Default 30s.
	OpenTimeout time.Duration
	// Concurrent calls allowed while half-open. Default 1.
	HalfOpenProbes int

	// IsFailure filters which errors count. Nil counts every error.
	IsFailure     func(error) bool
	OnStateChange func(name string, from, to State)
}

// Stats are running totals since construction or the last Reset.
type Stats struct {
	Calls     int
	Failures  int
	Successes int
}

// Breaker is safe for concurrent use.
type Breaker struct {
	s   Settings
	now func() time.Time

	mu       sync.Mutex
	state    State
	streak   int // consecutive results matching the current state's exit condition
	openedAt time.Time
	probes   int
	stats    Stats
}

func New(s Settings) *Breaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenProbes <= 0 {
		s.HalfOpenProbes = 1
	}
	return &Breaker{s: s, now: time.Now}
}

// CacheBreaker guards the Redis leaderboard cache. Reads fall back to the
// store, so it opens early and probes often. Cancelled requests don't count.
func CacheBreaker(onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:             "leaderboard-cache",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      15 * time.Second,
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		OnStateChange: onStateChange,
	})
}

func (b *Breaker) Name() string { return b.s.Name }

// Do calls fn unless the breaker rejects it, and records the outcome.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.admit() {
		return ErrOpen
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.s.OpenTimeout {
			return false
		}
		b.transition(HalfOpen)
	}
	if b.state == HalfOpen {
		if b.probes >= b.s.HalfOpenProbes {
			return false
		}
		b.probes++
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && (b.s.IsFailure == nil || b.s.IsFailure(err))
	b.stats.Calls++
	if failed {
		b.stats.Failures++
	} else {
		b.stats.Successes++
	}

	switch b.state {
	case Closed:
		if !failed {
			b.streak = 0
			return
		}
		if b.streak++; b.streak >= b.s.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		if b.probes > 0 {
			b.probes--
		}
		if failed {
			b.transition(Open)
			return
		}
		if b.streak++; b.streak >= b.s.SuccessThreshold {
			b.transition(Closed)
		}
	}
}

// transition must run under mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.streak = 0
	b.probes = 0
	if to == Open {
		b.openedAt = b.now()
	}
	if b.s.OnStateChange != nil {
		b.s.OnStateChange(b.s.Name, from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Reset closes the breaker and clears its stats.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Closed)
	b.streak = 0
	b.probes = 0
	b.stats = Stats{}
}
