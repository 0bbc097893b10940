// Package circuitbreaker guards the workflow-engine dispatch path. Jobs
// normally run through Temporal; once the engine fails repeatedly the
// breaker opens and submissions fall back to the direct pipeline until a
// probe succeeds.
package circuitbreaker

import (
	"sync"
	"time"
)

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

const (
	defaultThreshold = 3
	defaultCooldown  = 30 * time.Second
)

// Breaker counts consecutive dispatch failures. It is safe for concurrent
// use by every request handler.
type Breaker struct {
	mu            sync.Mutex
	state         State
	consecutive   int
	threshold     int
	cooldown      time.Duration
	openUntil     time.Time
	onStateChange func(from, to State)
	clock         func() time.Time
}

type Option func(*Breaker)

// WithThreshold sets how many consecutive failures trip the breaker.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing again.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithOnStateChange registers a transition callback. It runs with the
// breaker's lock held and must not call back into the breaker.
func WithOnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.clock = now }
}

func New(opts ...Option) *Breaker {
	b := &Breaker{
		threshold: defaultThreshold,
		cooldown:  defaultCooldown,
		clock:     time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow reports whether the next job may be dispatched through the engine.
// While open it refuses until the cooldown elapses, then lets exactly one
// probe through in the half-open state.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clock().After(b.openUntil) {
			b.transition(HalfOpen)
			return true
		}
		return false
	}
	// Half-open: a probe is already in flight.
	return false
}

// RecordSuccess resets the failure streak. A successful half-open probe
// closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	if b.state == HalfOpen {
		b.transition(Closed)
	}
}

// RecordFailure extends the failure streak. The breaker trips when the
// streak reaches the threshold, and a failed probe reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	switch b.state {
	case Closed:
		if b.consecutive >= b.threshold {
			b.trip()
		}
	case HalfOpen:
		b.trip()
	}
}

// CurrentState returns the state without consulting the cooldown timer;
// Allow is what moves an expired open breaker to half-open.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) trip() {
	b.transition(Open)
	b.openUntil = b.clock().Add(b.cooldown)
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
