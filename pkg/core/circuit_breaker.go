package core

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while an upstream is considered down.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int32

const (
	// CircuitClosed means calls flow normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen means calls are rejected without reaching the upstream.
	CircuitOpen
	// CircuitHalfOpen means trial calls are let through to probe recovery.
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

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name identifies the guarded upstream in logs and health checks.
	Name string

	// MaxErrors is the number of consecutive failures before opening the circuit.
	MaxErrors int

	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration

	// SuccessThreshold is the number of successful probes needed to close the circuit.
	SuccessThreshold int

	// IsFailure decides whether an error counts against the upstream.
	// Nil counts every non-nil error.
	IsFailure func(err error) bool

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxErrors:        5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker stops calling an upstream after repeated failures.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	state        CircuitState
	errorCount   int
	successCount int
	lastError    time.Time

	mu sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{config: config, state: CircuitClosed}
}

// Name returns the guarded upstream's name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed. An open circuit whose reset
// timeout has passed moves to half-open and lets the call through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if time.Since(cb.lastError) > cb.config.ResetTimeout {
		cb.setState(CircuitHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setState(CircuitClosed)
			cb.successCount = 0
			cb.errorCount = 0
		}
	default:
		cb.errorCount = 0
	}
}

// RecordError records a failed call.
func (cb *CircuitBreaker) RecordError() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastError = time.Now()

	switch cb.state {
	case CircuitClosed:
		cb.errorCount++
		if cb.errorCount >= cb.config.MaxErrors {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
		cb.successCount = 0
	}
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(CircuitClosed)
	cb.errorCount = 0
	cb.successCount = 0
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerMetrics{
		State:        cb.state,
		ErrorCount:   cb.errorCount,
		SuccessCount: cb.successCount,
		LastError:    cb.lastError,
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(newState CircuitState) {
	oldState := cb.state
	cb.state = newState

	if cb.config.OnStateChange != nil && oldState != newState {
		cb.config.OnStateChange(cb.config.Name, oldState, newState)
	}
}

// CircuitBreakerMetrics contains circuit breaker metrics.
type CircuitBreakerMetrics struct {
	State        CircuitState
	ErrorCount   int
	SuccessCount int
	LastError    time.Time
}

func (cb *CircuitBreaker) record(err error) {
	if err == nil {
		cb.RecordSuccess()
		return
	}
	if cb.config.IsFailure != nil && !cb.config.IsFailure(err) {
		cb.RecordSuccess()
		return
	}
	cb.RecordError()
}

// Execute runs a function with circuit breaker protection.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := fn()
	cb.record(err)
	return err
}

// ExecuteWithResult runs a function that returns a value with circuit breaker protection.
func ExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T

	if err := cb.Allow(); err != nil {
		return zero, err
	}

	result, err := fn()
	cb.record(err)
	return result, err
}
