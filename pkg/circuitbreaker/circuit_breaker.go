package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Options tune a circuit breaker. Zero values fall back to defaults.
type Options struct {
	MaxFailures      uint32
	ResetTimeout     time.Duration
	HalfOpenMaxCalls uint32
	// IsFailure decides whether an error counts against the breaker.
	// Errors it rejects are returned to the caller without tripping.
	IsFailure func(error) bool
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
	Logger        *logrus.Logger
}

// CircuitBreaker guards calls to a remote dependency
type CircuitBreaker struct {
	name string
	opts Options

	mu              sync.Mutex
	state           State
	failures        uint32
	lastFailureTime time.Time
	halfOpenCalls   uint32
	successCount    uint32
	requestCount    uint32
	now             func() time.Time
}

// New creates a new circuit breaker
func New(name string, opts Options) *CircuitBreaker {
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 30 * time.Second
	}
	if opts.HalfOpenMaxCalls == 0 {
		opts.HalfOpenMaxCalls = 1
	}
	if opts.IsFailure == nil {
		opts.IsFailure = func(err error) bool { return err != nil }
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	return &CircuitBreaker{
		name:  name,
		opts:  opts,
		state: StateClosed,
		now:   time.Now,
	}
}

// Execute runs fn if the breaker currently admits calls
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	from := cb.state
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.opts.ResetTimeout {
			cb.state = StateHalfOpen
			cb.halfOpenCalls = 0
			cb.successCount = 0
			allowed = true
		}
	case StateHalfOpen:
		allowed = cb.halfOpenCalls < cb.opts.HalfOpenMaxCalls
	}

	if allowed {
		cb.requestCount++
		if cb.state == StateHalfOpen {
			cb.halfOpenCalls++
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	if !allowed {
		return &CircuitBreakerError{Name: cb.name, State: to}
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	from := cb.state

	if err != nil && cb.opts.IsFailure(err) {
		cb.failures++
		cb.lastFailureTime = cb.now()
		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.opts.MaxFailures {
				cb.state = StateOpen
			}
		case StateHalfOpen:
			cb.state = StateOpen
		}
	} else {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
			cb.successCount++
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.opts.HalfOpenMaxCalls {
				cb.state = StateClosed
				cb.failures = 0
				cb.successCount = 0
				cb.halfOpenCalls = 0
			}
		}
	}

	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if from != to {
		entry := cb.opts.Logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           to.String(),
			"failures":        failures,
		})
		if to == StateOpen {
			entry.Warn("Circuit breaker opened due to failures")
		} else {
			entry.Info("Circuit breaker closed after successful recovery")
		}
	}
	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.opts.OnStateChange != nil {
		cb.opts.OnStateChange(cb.name, from, to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requestCount,
		Successes:       cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	Failures        uint32    `json:"failures"`
	Requests        uint32    `json:"requests"`
	Successes       uint32    `json:"successes"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// CircuitBreakerError is returned when the breaker rejects a call
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
