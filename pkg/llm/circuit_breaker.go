package llm

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the circuit breaker's current position.
type CircuitState int

const (
	// CircuitClosed lets generation-service calls flow normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen short-circuits calls after repeated failures.
	CircuitOpen
	// CircuitHalfOpen admits a single probe call to test recovery.
	CircuitHalfOpen
)

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

// CircuitBreakerConfig tunes when the breaker trips and when it re-probes.
type CircuitBreakerConfig struct {
	// Threshold is how many consecutive failures trip the circuit.
	Threshold int
	// ResetAfter is how long the circuit stays open before a probe call
	// is admitted.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults used for evaluator calls.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker guards the generation service. A run of failures trips it
// open so a misbehaving provider does not burn the whole candidate batch;
// after ResetAfter one probe is admitted, and its outcome decides whether
// the circuit closes again.
type CircuitBreaker struct {
	mu               sync.RWMutex
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
	}
}

// Allow reports whether a call may proceed. When the open period has
// elapsed it moves to half-open and admits exactly one probe; further
// callers are rejected until that probe's outcome is recorded.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true, nil

	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return true, nil
		}
		return false, fmt.Errorf(
			"circuit breaker open: generation service failed %d consecutive calls, last failure %v ago",
			cb.consecutiveFails, time.Since(cb.lastFailure).Round(time.Second))

	case CircuitHalfOpen:
		return false, fmt.Errorf("circuit breaker half-open: recovery probe already in flight")

	default:
		return false, fmt.Errorf("circuit breaker in unknown state: %v", cb.state)
	}
}

// RecordSuccess closes the circuit and clears the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure extends the failure run. A failed half-open probe reopens
// the circuit immediately; in the closed state the circuit trips once the
// run reaches the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = time.Now()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		return
	}
	if cb.consecutiveFails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current circuit position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// ConsecutiveFailures returns the length of the current failure run.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveFails
}

// Reset forces the circuit closed. Operator escape hatch; normal recovery
// goes through the half-open probe.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}
