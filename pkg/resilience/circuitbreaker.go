// Package resilience guards store calls with a circuit breaker, timeouts and bounded retries.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed allows all requests through
	StateClosed State = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen lets a probe through to test recovery
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

// ErrCircuitBreakerOpen is returned when the circuit breaker is open
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a failing backend after maxFailures consecutive
// failures and probes it again once timeout has elapsed.
type CircuitBreaker struct {
	maxFailures  int
	timeout      time.Duration
	isFailure    func(error) bool
	state        State
	failures     int
	lastFailTime time.Time
	mu           sync.RWMutex
}

// Option customises a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithFailurePredicate decides which errors count against the breaker.
// Errors for which it returns false are passed through without tripping it.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) {
		cb.isFailure = fn
	}
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(maxFailures int, timeout time.Duration, opts ...Option) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		isFailure:   func(err error) bool { return err != nil },
		state:       StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn if the breaker allows it.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.canExecute() {
		return ErrCircuitBreakerOpen
	}

	err := fn()
	if err != nil && cb.isFailure(err) {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return err
}

func (cb *CircuitBreaker) canExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.lastFailTime) > cb.timeout {
			cb.state = StateHalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailTime = time.Now()
	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
}
