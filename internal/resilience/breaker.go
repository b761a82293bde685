// Package resilience guards the extraction backend with a circuit breaker.
//
// A [Breaker] is a three-state breaker (closed, open, half-open). After
// MaxFailures consecutive failures it opens and rejects calls with
// [ErrCircuitOpen] until ResetTimeout has passed; then a bounded number of
// trial calls decide whether it closes again. The breaker never retries: a
// rejected or failed call is reported to the caller once.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// Defaults applied by [NewBreaker] to zero config fields.
const (
	DefaultMaxFailures    = 3
	DefaultResetTimeout   = 30 * time.Second
	DefaultHalfOpenTrials = 1
)

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen].
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through.
	StateHalfOpen
)

// String returns the state name used in logs and readiness output.
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

// Config tunes a [Breaker].
type Config struct {
	// Name labels log lines, typically the backend name.
	Name string

	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration

	// HalfOpenTrials is the number of successful trials needed to close.
	HalfOpenTrials int

	// Now replaces time.Now. Intended for tests.
	Now func() time.Time
}

// Breaker implements the circuit breaker.
type Breaker struct {
	name        string
	maxFailures int
	reset       time.Duration
	trials      int
	now         func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	successes int
}

// NewBreaker returns a closed Breaker.
func NewBreaker(cfg Config) *Breaker {
	b := &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		reset:       cfg.ResetTimeout,
		trials:      cfg.HalfOpenTrials,
		now:         cfg.Now,
	}
	if b.maxFailures <= 0 {
		b.maxFailures = DefaultMaxFailures
	}
	if b.reset <= 0 {
		b.reset = DefaultResetTimeout
	}
	if b.trials <= 0 {
		b.trials = DefaultHalfOpenTrials
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Do runs fn unless the breaker is open. Cancellation of the caller's
// context is not counted as a backend failure.
func (b *Breaker) Do(fn func() error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.inFlight--
	}
	switch {
	case err == nil:
		b.onSuccess(trial)
	case errors.Is(err, context.Canceled):
	default:
		b.onFailure(trial)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a trial.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.reset {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.successes = 0
		slog.Info("circuit breaker half-open", "name", b.name)
	}
	if b.state == StateHalfOpen {
		if b.inFlight+b.successes >= b.trials {
			return false, ErrCircuitOpen
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(trial bool) {
	if trial {
		b.trip()
		slog.Warn("circuit breaker re-opened by failed trial", "name", b.name)
		return
	}
	if b.state != StateClosed {
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.trip()
		slog.Warn("circuit breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(trial bool) {
	if !trial {
		b.failures = 0
		return
	}
	b.successes++
	if b.state == StateHalfOpen && b.successes >= b.trials {
		b.state = StateClosed
		b.failures = 0
		b.successes = 0
		slog.Info("circuit breaker closed", "name", b.name)
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.successes = 0
}

// State reports the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the
// next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.reset {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	slog.Info("circuit breaker reset", "name", b.name)
}
