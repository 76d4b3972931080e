// SPDX-License-Identifier: MIT

// Package resilience provides a minimal three-state circuit breaker for
// calls into external providers. The API plane wraps its synchronous video
// calls with one; the dispatch plane deliberately does not, because provider
// throttles there must reach the capacity controller instead of being
// short-circuited.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned by Execute while the breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cardforge_circuit_breaker_state",
		Help: "Circuit breaker state by name (exactly one of closed/half-open/open is 1)",
	}, []string{"name", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardforge_circuit_breaker_trips_total",
		Help: "Total transitions to the open state",
	}, []string{"name", "reason"})
)

var allStates = []State{StateClosed, StateHalfOpen, StateOpen}

func publishState(name string, state State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		breakerState.WithLabelValues(name, string(s)).Set(v)
	}
}

// clock abstracts time for tests.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Breaker trips open after a run of consecutive failures, refuses calls for
// a cooldown window, then probes with a single half-open attempt.
type Breaker struct {
	mu           sync.Mutex
	name         string
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	clock        clock
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock substitutes the time source.
func WithClock(c clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// New builds a breaker. threshold is the consecutive-failure count that trips
// it; resetTimeout is how long it stays open before probing.
func New(name string, threshold int, resetTimeout time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	b := &Breaker{
		name:         name,
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        realClock{},
	}
	for _, opt := range opts {
		opt(b)
	}

	publishState(b.name, b.state)
	return b
}

// Execute runs fn respecting the breaker state. While open it returns
// ErrCircuitOpen without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) > b.resetTimeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	default: // half-open: let the probe through
		return true
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	if b.state == StateHalfOpen {
		breakerTrips.WithLabelValues(b.name, "half_open_failure").Inc()
		b.transitionTo(StateOpen)
		return
	}
	if b.state == StateClosed && b.failures >= b.threshold {
		breakerTrips.WithLabelValues(b.name, "threshold_exceeded").Inc()
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
}

// transitionTo changes state and publishes it. Caller must hold the lock.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	b.state = newState
	if newState == StateOpen {
		b.openedAt = b.clock.Now()
	}
	publishState(b.name, newState)
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
