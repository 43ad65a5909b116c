// Package circuit provides a consecutive-failure circuit breaker shared by
// components that guard a slow or flaky dependency.
package circuit

import (
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Change reports the transition caused by the last recorded outcome. Moving
// between open and half-open is not a change: the dependency is still
// considered unhealthy.
type Change int

const (
	Unchanged Change = iota
	Opened
	Closed
)

// Breaker opens after N consecutive failures. Once the cooldown has elapsed it
// lets probes through (half-open) and closes after M consecutive successful
// probes; a failed probe reopens it.
type Breaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failures         int
	probes           int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	now              func() time.Time
}

type Option func(*Breaker)

func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithCooldown sets how long the breaker rejects calls before allowing a probe.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d >= 0 {
			b.cooldown = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 1,
		cooldown:         30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call to the dependency should be attempted. An open
// breaker whose cooldown has elapsed moves to half-open and admits the call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		return false
	}
	b.state = StateHalfOpen
	b.probes = 0
	return true
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen, StateOpen:
		b.trip()
		return Unchanged
	}
	b.failures++
	if b.failures < b.failureThreshold {
		return Unchanged
	}
	b.trip()
	return Opened
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
		return Unchanged
	case StateOpen:
		// a call admitted before the breaker opened finished late
		return Unchanged
	}
	b.probes++
	if b.probes < b.successThreshold {
		return Unchanged
	}
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	return Closed
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probes = 0
}
