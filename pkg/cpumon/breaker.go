package cpumon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/go-cpumon/internal/monitor"
	"github.com/opd-ai/go-cpumon/internal/platform"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed indicates the source is read normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates reads are rejected without touching the source.
	CircuitOpen
	// CircuitHalfOpen indicates a trial read is testing if the source recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a circuit breaker is open and rejecting reads.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig contains configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in half-open state
	// required to close the circuit. Default: 1
	SuccessThreshold int

	// Timeout is how long the circuit stays open before transitioning to half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// OnStateChange is called when the circuit state changes.
	// The callback receives the old state and new state.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns a CircuitBreakerConfig with sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing operation for a while once it has
// failed repeatedly, then lets single trial calls through until one succeeds.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastFailure     time.Time
	trialInFlight   bool
	totalSuccesses  int64
	totalFailures   int64
	totalRejections int64
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	// Apply defaults for zero values
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}

	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// Execute runs fn through the circuit breaker.
// If the circuit is open, it returns ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, ok := cb.allowRequest()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()
	cb.recordResult(err, trial)
	return err
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailure) >= cb.config.Timeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// CircuitBreakerStats contains statistics about circuit breaker operation.
type CircuitBreakerStats struct {
	// State is the current circuit state.
	State CircuitState
	// ConsecutiveFailures is the current run of failures.
	ConsecutiveFailures int
	// TotalSuccesses is the total number of successful operations.
	TotalSuccesses int64
	// TotalFailures is the total number of failed operations.
	TotalFailures int64
	// TotalRejections is the total number of calls rejected due to open circuit.
	TotalRejections int64
	// LastFailure is the time of the last failure.
	LastFailure time.Time
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	state := cb.State()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		State:               state,
		ConsecutiveFailures: cb.failures,
		TotalSuccesses:      cb.totalSuccesses,
		TotalFailures:       cb.totalFailures,
		TotalRejections:     cb.totalRejections,
		LastFailure:         cb.lastFailure,
	}
}

// Reset returns the circuit breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionTo(CircuitClosed)
	cb.failures = 0
	cb.successes = 0
	cb.trialInFlight = false
}

// allowRequest reports whether a call may proceed and whether it is a
// half-open trial.
func (cb *CircuitBreaker) allowRequest() (trial, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, true

	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) < cb.config.Timeout {
			cb.totalRejections++
			return false, false
		}
		cb.transitionTo(CircuitHalfOpen)
		fallthrough

	case CircuitHalfOpen:
		// One trial at a time; the slot is released when it completes.
		if cb.trialInFlight {
			cb.totalRejections++
			return false, false
		}
		cb.trialInFlight = true
		return true, true
	}
	return false, false
}

// recordResult records the result of an operation.
func (cb *CircuitBreaker) recordResult(err error, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialInFlight = false
	}
	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.totalSuccesses++
	cb.failures = 0

	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
			cb.successes = 0
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.totalFailures++
	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open state opens the circuit again
		cb.transitionTo(CircuitOpen)
		cb.successes = 0
	}
}

// transitionTo changes the circuit state. Callers hold cb.mu.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	if cb.config.OnStateChange != nil {
		// Call callback without holding lock to prevent deadlocks
		go cb.config.OnStateChange(oldState, newState)
	}
}

// guardedSource reads its inner source through a circuit breaker so a dead
// remote host is not dialled on every tick.
type guardedSource struct {
	inner   CounterSource
	breaker *CircuitBreaker
}

func newGuardedSource(inner CounterSource, breaker *CircuitBreaker) *guardedSource {
	return &guardedSource{inner: inner, breaker: breaker}
}

// Name reports the inner source's name.
func (g *guardedSource) Name() string {
	return g.inner.Name()
}

// ReadTimes reads the inner source unless the circuit is open.
func (g *guardedSource) ReadTimes(ctx context.Context) (monitor.CPUTimes, []monitor.CPUTimes, error) {
	var (
		total monitor.CPUTimes
		cores []monitor.CPUTimes
	)
	err := g.breaker.Execute(func() error {
		var err error
		total, cores, err = g.inner.ReadTimes(ctx)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return monitor.CPUTimes{}, nil, fmt.Errorf("%w: %s: %w", monitor.ErrCounterSource, g.inner.Name(), err)
	}
	return total, cores, err
}

// Close closes the inner source.
func (g *guardedSource) Close() error {
	return platform.CloseSource(g.inner)
}
