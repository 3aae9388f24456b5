// Package resilience keeps provider outages from taking the tutoring
// pipeline down with them.
//
// [CircuitBreaker] tracks consecutive failures per provider and stops
// forwarding calls once a limit is reached, letting a cooldown pass before
// probing the provider again. [FallbackGroup] chains several providers of
// one kind behind per-provider breakers so a tripped primary is skipped in
// favour of the next configured entry.
//
// Everything here is safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// is open and its cooldown has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields fall back to
// the defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker while
	// closed. Default 5.
	MaxFailures int

	// ResetTimeout is the cooldown before an open breaker starts probing.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds probe calls in the half-open state; that many
	// successes close the breaker. Default 3.
	HalfOpenMax int
}

// CircuitBreaker is a three-state breaker over an arbitrary operation.
type CircuitBreaker struct {
	name       string
	failLimit  int
	cooldown   time.Duration
	probeLimit int

	mu        sync.Mutex
	state     State
	failures  int
	lastFail  time.Time
	probes    int
	probeWins int
}

// NewCircuitBreaker builds a breaker from cfg, filling in defaults for any
// zero fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:       cfg.Name,
		failLimit:  cfg.MaxFailures,
		cooldown:   cfg.ResetTimeout,
		probeLimit: cfg.HalfOpenMax,
	}
	if cb.failLimit <= 0 {
		cb.failLimit = 5
	}
	if cb.cooldown <= 0 {
		cb.cooldown = 30 * time.Second
	}
	if cb.probeLimit <= 0 {
		cb.probeLimit = 3
	}
	return cb
}

// Execute runs fn unless the breaker refuses the call, in which case it
// returns [ErrCircuitOpen] without invoking fn. fn's error is returned
// unchanged and feeds the failure accounting.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure(probing)
	} else {
		cb.onSuccess(probing)
	}
	return err
}

// admit decides whether a call may proceed and reports whether it counts as
// a half-open probe.
func (cb *CircuitBreaker) admit() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFail) < cb.cooldown {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeWins = 0
		slog.Info("circuit breaker half-open, probing", "name", cb.name)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.probeLimit {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// onFailure must be called with cb.mu held.
func (cb *CircuitBreaker) onFailure(probing bool) {
	cb.lastFail = time.Now()

	if probing {
		cb.state = StateOpen
		cb.failures = cb.failLimit
		slog.Warn("circuit breaker re-opened, probe failed", "name", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.failLimit {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.name, "failures", cb.failures)
	}
}

// onSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) onSuccess(probing bool) {
	if probing {
		cb.probeWins++
		if cb.probeWins >= cb.probeLimit {
			cb.state = StateClosed
			cb.failures = 0
			slog.Info("circuit breaker closed, probes succeeded", "name", cb.name)
		}
		return
	}
	cb.failures = 0
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the stored state flips on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFail) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeWins = 0
	slog.Info("circuit breaker reset", "name", cb.name)
}
