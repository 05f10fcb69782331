// Package resilience keeps a misbehaving tool service from dragging the
// whole command pipeline down. A [Breaker] guards the dispatch path to one
// service with the classic three-state pattern (closed, open, half-open);
// a [Set] hands out one breaker per service name.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] while the breaker is open and the
// reset timeout has not yet elapsed. The call is rejected without reaching
// the service.
var ErrOpen = errors.New("circuit breaker is open")

// State is a breaker's current operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the reset timeout passes.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes breaker behaviour. The zero value gets sensible defaults.
type Config struct {
	// MaxFailures is how many consecutive failures trip the breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker rejects calls before
	// probing again. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default 3.
	HalfOpenMax int
}

func (c *Config) defaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
}

// Breaker guards calls to one service.
type Breaker struct {
	service string
	cfg     Config
	log     *slog.Logger

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	halfOpenCalls int
	halfOpenFails int
}

// NewBreaker creates a closed breaker for the named service.
func NewBreaker(service string, cfg Config, log *slog.Logger) *Breaker {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{service: service, cfg: cfg, log: log.With("service", service)}
}

// Execute runs fn if the breaker allows it and folds the result into the
// breaker's state. When the breaker is open, fn is not called and [ErrOpen]
// comes back instead.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenFails = 0
		b.log.Info("circuit breaker half-open, probing service")

	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMax {
			b.mu.Unlock()
			return ErrOpen
		}
	}

	probing := b.state == StateHalfOpen
	if probing {
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		b.halfOpenFails++
		b.state = StateOpen
		b.failures = b.cfg.MaxFailures
		b.log.Warn("circuit breaker re-opened, probe failed")
		return
	}

	b.failures++
	if b.failures >= b.cfg.MaxFailures {
		b.state = StateOpen
		b.log.Warn("circuit breaker opened", "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.halfOpenCalls-b.halfOpenFails >= b.cfg.HalfOpenMax {
			b.state = StateClosed
			b.failures = 0
			b.halfOpenCalls = 0
			b.halfOpenFails = 0
			b.log.Info("circuit breaker closed, service recovered")
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports half-open; the transition itself happens on the next
// [Breaker.Execute].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenFails = 0
}

// Set lazily hands out one [Breaker] per service name, all sharing the same
// configuration.
type Set struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates a breaker set with the given shared configuration.
func NewSet(cfg Config, log *slog.Logger) *Set {
	cfg.defaults()
	return &Set{cfg: cfg, log: log, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for the named service, creating it on first use.
func (s *Set) For(service string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[service]
	if !ok {
		b = NewBreaker(service, s.cfg, s.log)
		s.breakers[service] = b
	}
	return b
}
