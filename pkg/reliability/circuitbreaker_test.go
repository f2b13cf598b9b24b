package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateus/conveyor/pkg/models"
)

func testBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Second,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Millisecond,
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	t.Parallel()

	registry := NewCircuitBreakerRegistry(testBreakerConfig())

	for range 2 {
		registry.RecordFailure("api")
	}

	assert.Equal(t, CircuitClosed, registry.State("api"))
	require.NoError(t, registry.Allow("api"))

	registry.RecordFailure("api")
	assert.Equal(t, CircuitOpen, registry.State("api"))

	err := registry.Allow("api")

	var circuitErr *models.CircuitOpenError

	require.ErrorAs(t, err, &circuitErr)
	assert.Equal(t, "api", circuitErr.Service)
	assert.Positive(t, circuitErr.RetryAfter)
}

func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	t.Parallel()

	registry := NewCircuitBreakerRegistry(testBreakerConfig())

	for range 3 {
		registry.RecordFailure("api")
	}

	require.Equal(t, CircuitOpen, registry.State("api"))

	time.Sleep(40 * time.Millisecond)

	// First call after the reset timeout is admitted as the probe.
	require.NoError(t, registry.Allow("api"))
	assert.Equal(t, CircuitHalfOpen, registry.State("api"))

	// A second concurrent call is rejected while the probe is in flight.
	err := registry.Allow("api")

	var circuitErr *models.CircuitOpenError

	require.ErrorAs(t, err, &circuitErr)
}

func TestCircuitBreaker_AbandonedProbeDoesNotWedgeHalfOpen(t *testing.T) {
	t.Parallel()

	registry := NewCircuitBreakerRegistry(testBreakerConfig())

	for range 3 {
		registry.RecordFailure("api")
	}

	time.Sleep(40 * time.Millisecond)

	// The probe is admitted but never records an outcome (a cancelled run).
	require.NoError(t, registry.Allow("api"))
	require.Error(t, registry.Allow("api"))

	// Once the reset timeout elapses again, a fresh probe is admitted and
	// the circuit can still recover.
	time.Sleep(40 * time.Millisecond)

	require.NoError(t, registry.Allow("api"))
	registry.RecordSuccess("api")
	require.NoError(t, registry.Allow("api"))
	registry.RecordSuccess("api")
	assert.Equal(t, CircuitClosed, registry.State("api"))
}

func TestCircuitBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	t.Parallel()

	registry := NewCircuitBreakerRegistry(testBreakerConfig())

	for range 3 {
		registry.RecordFailure("api")
	}

	time.Sleep(40 * time.Millisecond)

	require.NoError(t, registry.Allow("api"))
	registry.RecordSuccess("api")
	assert.Equal(t, CircuitHalfOpen, registry.State("api"))

	require.NoError(t, registry.Allow("api"))
	registry.RecordSuccess("api")
	assert.Equal(t, CircuitClosed, registry.State("api"))

	// Failure history is cleared on close: a single new failure does not
	// reopen the circuit.
	registry.RecordFailure("api")
	assert.Equal(t, CircuitClosed, registry.State("api"))
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()

	registry := NewCircuitBreakerRegistry(testBreakerConfig())

	for range 3 {
		registry.RecordFailure("api")
	}

	time.Sleep(40 * time.Millisecond)

	require.NoError(t, registry.Allow("api"))
	registry.RecordFailure("api")

	assert.Equal(t, CircuitOpen, registry.State("api"))
	require.Error(t, registry.Allow("api"))
}

func TestCircuitBreaker_SlidingWindowPrunesOldFailures(t *testing.T) {
	t.Parallel()

	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    30 * time.Millisecond,
		SuccessThreshold: 1,
		ResetTimeout:     time.Second,
	})

	registry.RecordFailure("api")
	registry.RecordFailure("api")

	// Let both failures fall out of the window.
	time.Sleep(50 * time.Millisecond)

	registry.RecordFailure("api")
	assert.Equal(t, CircuitClosed, registry.State("api"))
}

func TestCircuitBreaker_ServicesAreIsolated(t *testing.T) {
	t.Parallel()

	registry := NewCircuitBreakerRegistry(testBreakerConfig())

	for range 3 {
		registry.RecordFailure("flaky")
	}

	assert.Equal(t, CircuitOpen, registry.State("flaky"))
	assert.Equal(t, CircuitClosed, registry.State("stable"))
	require.NoError(t, registry.Allow("stable"))
}
