package engine

import (
	"sync"
	"time"

	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of test requests allowed in half-open state.
	HalfOpenMax int
}

// DefaultCircuitBreakerConfig returns a sensible default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// circuitBreaker tracks failure state for a single handler.
type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              CircuitBreakerConfig
}

// CircuitBreakerRegistry manages per-handler circuit breakers. Action and
// notification handler invocations share the same breaker when they resolve
// to the same handler name.
type CircuitBreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[string]*circuitBreaker
	config    CircuitBreakerConfig
	overrides map[string]CircuitBreakerConfig
}

// NewCircuitBreakerRegistry creates a new registry with the given config.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers:  make(map[string]*circuitBreaker),
		config:    config,
		overrides: make(map[string]CircuitBreakerConfig),
	}
}

// SetHandlerConfig overrides the breaker settings for a single handler, so a
// known-flaky integration can trip faster or cool down longer than the
// registry default. Any existing breaker state for the handler is reset.
func (r *CircuitBreakerRegistry) SetHandlerConfig(handlerName string, config CircuitBreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[handlerName] = config
	delete(r.breakers, handlerName)
}

// AllowRequest checks whether a request to the given handler is allowed.
// Returns nil if allowed, or an EngineError if the circuit is open.
func (r *CircuitBreakerRegistry) AllowRequest(handlerName string) error {
	cb := r.getOrCreate(handlerName)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1 // this request counts as the first test request
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit breaker open for handler %q: %d consecutive failures, cooldown remaining",
			handlerName, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"handler":              handlerName,
				"consecutive_failures": cb.consecutiveFailures,
				"state":                cb.state.String(),
				"cooldown_remaining":   (cb.config.Cooldown - time.Since(cb.lastFailureTime)).String(),
			})

	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit breaker half-open for handler %q: max test requests reached", handlerName)
		}
		cb.halfOpenAttempts++
		return nil
	}

	return nil
}

// RecordSuccess records a successful invocation of the handler.
func (r *CircuitBreakerRegistry) RecordSuccess(handlerName string) {
	cb := r.getOrCreate(handlerName)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// RecordFailure records a failed invocation of the handler.
// Returns the new circuit state.
func (r *CircuitBreakerRegistry) RecordFailure(handlerName string) CircuitState {
	cb := r.getOrCreate(handlerName)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == CircuitHalfOpen {
		// Any failure in half-open reopens the circuit.
		cb.state = CircuitOpen
		return CircuitOpen
	}

	if cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
		return CircuitOpen
	}

	return cb.state
}

// GetState returns the current state of the circuit for a handler.
func (r *CircuitBreakerRegistry) GetState(handlerName string) CircuitState {
	cb := r.getOrCreate(handlerName)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}

	return cb.state
}

// GetStats returns diagnostic information about a circuit breaker.
func (r *CircuitBreakerRegistry) GetStats(handlerName string) map[string]any {
	cb := r.getOrCreate(handlerName)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]any{
		"handler":              handlerName,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"failure_threshold":    cb.config.FailureThreshold,
		"cooldown":             cb.config.Cooldown.String(),
	}
}

func (r *CircuitBreakerRegistry) getOrCreate(handlerName string) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[handlerName]
	if !ok {
		config := r.config
		if override, ok := r.overrides[handlerName]; ok {
			config = override
		}
		cb = &circuitBreaker{
			state:  CircuitClosed,
			config: config,
		}
		r.breakers[handlerName] = cb
	}
	return cb
}
