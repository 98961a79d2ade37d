// Package resilience provides the fault-tolerance primitives used around
// index rebuilds and the query cache: a circuit breaker, exponential-backoff
// retry, and a context-based timeout wrapper.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the protected function while
// the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the phase of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
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
	}
	return "unknown"
}

// CircuitBreakerConfig controls when the breaker trips and how it probes
// for recovery. Zero values take defaults.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int

	// OnStateChange is invoked with the new state whenever the breaker
	// transitions. It runs under the breaker's lock and must not block.
	OnStateChange func(name string, state State)

	// IsFailure decides which errors count against the dependency. By
	// default every non-nil error does.
	IsFailure func(err error) bool

	now func() time.Time
}

// Counts is a point-in-time view of a breaker.
type Counts struct {
	State               State
	ConsecutiveFailures int
	TotalFailures       int64
	Rejected            int64
	OpenedAt            time.Time
}

// CircuitBreaker trips open after FailureThreshold consecutive failures,
// rejects calls for ResetTimeout, then lets up to HalfOpenMaxRequests
// probes through. A successful probe closes it; a failed one reopens it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	counts   Counts
	inFlight int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute is ExecuteContext without a context.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteContext(context.Background(), func(context.Context) error { return fn() })
}

// ExecuteContext runs fn if the breaker admits the call and records the
// outcome. An error produced after ctx was cancelled is the caller giving
// up, not the dependency failing, so it is not counted.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err != nil && ctx.Err() == nil && cb.cfg.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// GetState returns the current state. An open breaker whose reset timeout
// has elapsed reports half-open.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked()
	return cb.counts.State
}

// Counts returns a copy of the breaker's counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked()
	return cb.counts
}

// Reset closes the breaker and clears the consecutive failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.counts.ConsecutiveFailures = 0
	cb.inFlight = 0
	cb.transitionLocked(StateClosed)
	cb.logger.Info("circuit manually reset")
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked()
	switch cb.counts.State {
	case StateOpen:
		cb.counts.Rejected++
		wait := cb.cfg.ResetTimeout - cb.cfg.now().Sub(cb.counts.OpenedAt)
		return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.HalfOpenMaxRequests {
			cb.counts.Rejected++
			return fmt.Errorf("%w: %s (probe in progress)", ErrCircuitOpen, cb.name)
		}
	}
	cb.inFlight++
	return nil
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.inFlight > 0 {
		cb.inFlight--
	}
	if !failed {
		cb.counts.ConsecutiveFailures = 0
		if cb.counts.State == StateHalfOpen {
			cb.transitionLocked(StateClosed)
			cb.logger.Info("circuit closed after successful probe")
		}
		return
	}
	cb.counts.ConsecutiveFailures++
	cb.counts.TotalFailures++
	switch {
	case cb.counts.State == StateHalfOpen:
		cb.trip()
		cb.logger.Warn("probe failed, circuit re-opened")
	case cb.counts.State == StateClosed && cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold:
		cb.trip()
		cb.logger.Warn("circuit opened", "consecutive_failures", cb.counts.ConsecutiveFailures, "reset_after", cb.cfg.ResetTimeout)
	}
}

func (cb *CircuitBreaker) trip() {
	cb.counts.OpenedAt = cb.cfg.now()
	cb.inFlight = 0
	cb.transitionLocked(StateOpen)
}

// expireLocked moves an open breaker to half-open once its timeout passed.
func (cb *CircuitBreaker) expireLocked() {
	if cb.counts.State == StateOpen && cb.cfg.now().Sub(cb.counts.OpenedAt) >= cb.cfg.ResetTimeout {
		cb.transitionLocked(StateHalfOpen)
		cb.logger.Info("circuit half-open, probing")
	}
}

func (cb *CircuitBreaker) transitionLocked(s State) {
	if cb.counts.State == s {
		return
	}
	cb.counts.State = s
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, s)
	}
}
