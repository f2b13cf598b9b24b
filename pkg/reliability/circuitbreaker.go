package reliability

import (
	"sync"
	"time"

	"github.com/dmateus/conveyor/pkg/models"
)

// CircuitState is the per-service breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerConfig configures one service's failure tracking.
type CircuitBreakerConfig struct {
	// FailureThreshold opens the circuit once this many failures land
	// inside FailureWindow while closed.
	FailureThreshold int
	FailureWindow    time.Duration
	// SuccessThreshold consecutive half-open successes close the circuit.
	SuccessThreshold int
	// ResetTimeout is how long an open circuit rejects before allowing a
	// half-open probe.
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig is applied to services without explicit
// configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreakerRegistry holds per-service circuits. Circuits are shared by
// every concurrent call to the same service name; all state transitions
// happen under the registry mutex.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	defaults CircuitBreakerConfig
}

type circuit struct {
	state     CircuitState
	failures  []time.Time
	successes int
	openedAt  time.Time
	// probing marks an admitted half-open probe whose outcome is pending.
	// probeStartedAt bounds it: a probe abandoned without an outcome (for
	// example a cancelled run) stops blocking new probes once ResetTimeout
	// elapses, so one lost probe can never wedge the circuit.
	probing        bool
	probeStartedAt time.Time
	cfg            CircuitBreakerConfig
}

func NewCircuitBreakerRegistry(defaults CircuitBreakerConfig) *CircuitBreakerRegistry {
	if defaults.FailureThreshold <= 0 {
		defaults = DefaultCircuitBreakerConfig()
	}

	return &CircuitBreakerRegistry{
		circuits: make(map[string]*circuit),
		defaults: defaults,
	}
}

// Configure sets the breaker parameters for a service, resetting its state
// to closed.
func (r *CircuitBreakerRegistry) Configure(service string, cfg CircuitBreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.circuits[service] = &circuit{state: CircuitClosed, cfg: cfg}
}

func (r *CircuitBreakerRegistry) circuitLocked(service string) *circuit {
	c, ok := r.circuits[service]
	if !ok {
		c = &circuit{state: CircuitClosed, cfg: r.defaults}
		r.circuits[service] = c
	}

	return c
}

// Allow reports whether a request to the service may proceed. An open
// circuit rejects with a retry-after hint until the reset timeout elapses,
// at which point it transitions to half-open and admits exactly one probe.
func (r *CircuitBreakerRegistry) Allow(service string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitLocked(service)
	now := time.Now()

	switch c.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		remaining := c.cfg.ResetTimeout - now.Sub(c.openedAt)
		if remaining > 0 {
			return &models.CircuitOpenError{Service: service, RetryAfter: remaining}
		}

		c.state = CircuitHalfOpen
		c.successes = 0
		c.probing = true
		c.probeStartedAt = now

		return nil

	case CircuitHalfOpen:
		if c.probing {
			remaining := c.cfg.ResetTimeout - now.Sub(c.probeStartedAt)
			if remaining > 0 {
				return &models.CircuitOpenError{Service: service, RetryAfter: remaining}
			}
		}

		c.probing = true
		c.probeStartedAt = now

		return nil
	}

	return nil
}

// RecordSuccess feeds a successful call outcome into the circuit.
func (r *CircuitBreakerRegistry) RecordSuccess(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitLocked(service)

	if c.state != CircuitHalfOpen {
		return
	}

	c.probing = false
	c.successes++

	if c.successes >= c.cfg.SuccessThreshold {
		c.state = CircuitClosed
		c.failures = nil
		c.successes = 0
	}
}

// RecordFailure feeds a failed call outcome into the circuit. Failures in
// the closed state accumulate in a sliding window; one failure while
// half-open reopens the circuit immediately.
func (r *CircuitBreakerRegistry) RecordFailure(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitLocked(service)
	now := time.Now()

	switch c.state {
	case CircuitClosed:
		c.failures = append(c.failures, now)
		c.pruneLocked(now)

		if len(c.failures) >= c.cfg.FailureThreshold {
			c.state = CircuitOpen
			c.openedAt = now
		}

	case CircuitHalfOpen:
		c.state = CircuitOpen
		c.openedAt = now
		c.probing = false
		c.successes = 0
	}
}

// State reports the current circuit state for a service.
func (r *CircuitBreakerRegistry) State(service string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.circuitLocked(service).state
}

// pruneLocked drops failures older than the sliding window.
func (c *circuit) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.cfg.FailureWindow)

	kept := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	c.failures = kept
}
