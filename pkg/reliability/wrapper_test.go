package reliability

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateus/conveyor/pkg/models"
)

// fakeTool scripts per-call outcomes for pipeline tests.
type fakeTool struct {
	name    string
	calls   atomic.Int32
	handler func(ctx context.Context, call int) (any, error)
}

func (f *fakeTool) Name() string {
	return f.name
}

func (f *fakeTool) Call(ctx context.Context, _ string, _ map[string]any) (any, error) {
	call := int(f.calls.Add(1))

	return f.handler(ctx, call)
}

func testRegistries() (*RateLimiterRegistry, *CircuitBreakerRegistry) {
	limiter := NewRateLimiterRegistry(RateLimitConfig{
		MaxTokens:    1000,
		RefillPerSec: 1000,
		Strategy:     AcquireReject,
		MaxQueueSize: 8,
	})

	breaker := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 100,
		FailureWindow:    time.Minute,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
	})

	return limiter, breaker
}

func testWrapperConfig() WrapperConfig {
	return WrapperConfig{
		MaxRetries:     2,
		Timeout:        time.Second,
		RetryBaseDelay: time.Millisecond,
	}
}

func TestWrapper_SuccessPassesThrough(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{name: "api", handler: func(_ context.Context, _ int) (any, error) {
		return "ok", nil
	}}

	limiter, breaker := testRegistries()

	wrapper, err := Wrap(tool, limiter, breaker, testWrapperConfig(), slog.Default())
	require.NoError(t, err)

	value, retries, err := wrapper.CallWithStats(context.Background(), "get", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Zero(t, retries)
}

func TestWrapper_ValidationRejectsBeforeAnyCall(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{name: "api", handler: func(_ context.Context, _ int) (any, error) {
		return "ok", nil
	}}

	limiter, breaker := testRegistries()

	cfg := testWrapperConfig()
	cfg.InputSchemas = map[string]map[string]any{
		"get": {
			"type":     "object",
			"required": []string{"url"},
		},
	}

	wrapper, err := Wrap(tool, limiter, breaker, cfg, slog.Default())
	require.NoError(t, err)

	_, _, err = wrapper.CallWithStats(context.Background(), "get", map[string]any{})

	var validationErr *models.ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Zero(t, tool.calls.Load(), "validation failure must not reach the tool")
}

func TestWrapper_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{name: "api", handler: func(_ context.Context, call int) (any, error) {
		if call < 3 {
			return nil, errors.New("connection reset")
		}

		return "ok", nil
	}}

	limiter, breaker := testRegistries()

	wrapper, err := Wrap(tool, limiter, breaker, testWrapperConfig(), slog.Default())
	require.NoError(t, err)

	value, retries, err := wrapper.CallWithStats(context.Background(), "get", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 2, retries)
	assert.Equal(t, int32(3), tool.calls.Load())
}

func TestWrapper_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{name: "api", handler: func(_ context.Context, _ int) (any, error) {
		return nil, &models.ToolInvocationError{Tool: "api", Op: "get", Permanent: true, Err: errors.New("404")}
	}}

	limiter, breaker := testRegistries()

	wrapper, err := Wrap(tool, limiter, breaker, testWrapperConfig(), slog.Default())
	require.NoError(t, err)

	_, retries, err := wrapper.CallWithStats(context.Background(), "get", nil)
	require.Error(t, err)
	assert.Zero(t, retries)
	assert.Equal(t, int32(1), tool.calls.Load())
}

func TestWrapper_CircuitOpenDoesNotConsumeRetries(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{name: "api", handler: func(_ context.Context, _ int) (any, error) {
		return "ok", nil
	}}

	limiter, _ := testRegistries()
	breaker := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		FailureWindow:    time.Minute,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
	})

	breaker.RecordFailure("api")
	require.Equal(t, CircuitOpen, breaker.State("api"))

	wrapper, err := Wrap(tool, limiter, breaker, testWrapperConfig(), slog.Default())
	require.NoError(t, err)

	_, retries, err := wrapper.CallWithStats(context.Background(), "get", nil)

	var circuitErr *models.CircuitOpenError

	require.ErrorAs(t, err, &circuitErr)
	assert.Zero(t, retries, "an open circuit must not consume retry slots")
	assert.Zero(t, tool.calls.Load())
}

func TestWrapper_TimeoutProducesTimeoutError(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 2)
	tool := &fakeTool{name: "api", handler: func(ctx context.Context, _ int) (any, error) {
		started <- struct{}{}
		<-ctx.Done()

		return nil, ctx.Err()
	}}

	limiter, breaker := testRegistries()

	cfg := testWrapperConfig()
	cfg.MaxRetries = 0
	cfg.Timeout = 20 * time.Millisecond

	wrapper, err := Wrap(tool, limiter, breaker, cfg, slog.Default())
	require.NoError(t, err)

	_, _, err = wrapper.CallWithStats(context.Background(), "get", nil)

	var timeoutErr *models.TimeoutError

	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, cfg.Timeout, timeoutErr.Timeout)

	<-started
}

func TestWrapper_TimeoutRecordsCircuitFailure(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{name: "api", handler: func(ctx context.Context, _ int) (any, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	}}

	limiter, _ := testRegistries()
	breaker := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		FailureWindow:    time.Minute,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
	})

	cfg := testWrapperConfig()
	cfg.MaxRetries = 0
	cfg.Timeout = 10 * time.Millisecond

	wrapper, err := Wrap(tool, limiter, breaker, cfg, slog.Default())
	require.NoError(t, err)

	_, _, err = wrapper.CallWithStats(context.Background(), "get", nil)
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, breaker.State("api"))
}

func TestWrapper_ParentCancellation(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{name: "api", handler: func(ctx context.Context, _ int) (any, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	}}

	limiter, breaker := testRegistries()

	wrapper, err := Wrap(tool, limiter, breaker, testWrapperConfig(), slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err = wrapper.CallWithStats(ctx, "get", nil)

	var cancelErr *models.CancellationError

	require.ErrorAs(t, err, &cancelErr)
}

func TestWrapper_CancelledProbeDoesNotBlacklistService(t *testing.T) {
	t.Parallel()

	healthy := atomic.Bool{}
	tool := &fakeTool{name: "slow", handler: func(ctx context.Context, _ int) (any, error) {
		if healthy.Load() {
			return "ok", nil
		}

		<-ctx.Done()

		return nil, ctx.Err()
	}}

	limiter, _ := testRegistries()
	breaker := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		FailureWindow:    time.Minute,
		SuccessThreshold: 1,
		ResetTimeout:     20 * time.Millisecond,
	})

	cfg := testWrapperConfig()
	cfg.MaxRetries = 0
	cfg.Timeout = 10 * time.Millisecond

	wrapper, err := Wrap(tool, limiter, breaker, cfg, slog.Default())
	require.NoError(t, err)

	// One timeout failure opens the circuit.
	_, _, err = wrapper.CallWithStats(context.Background(), "get", nil)
	require.Error(t, err)
	require.Equal(t, CircuitOpen, breaker.State("slow"))

	time.Sleep(30 * time.Millisecond)

	// The admitted probe is cancelled mid-call and never records an outcome.
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(2 * time.Millisecond)
		cancel()
	}()

	_, _, err = wrapper.CallWithStats(ctx, "get", nil)

	var cancelErr *models.CancellationError

	require.ErrorAs(t, err, &cancelErr)

	// After the probe deadline elapses, a now-healthy service must be
	// reachable again.
	healthy.Store(true)
	time.Sleep(30 * time.Millisecond)

	value, _, err := wrapper.CallWithStats(context.Background(), "get", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, CircuitClosed, breaker.State("slow"))
}

func TestWrapper_UntypedErrorsAreClassified(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{name: "api", handler: func(_ context.Context, _ int) (any, error) {
		return nil, errors.New("boom")
	}}

	limiter, breaker := testRegistries()

	cfg := testWrapperConfig()
	cfg.MaxRetries = 0

	wrapper, err := Wrap(tool, limiter, breaker, cfg, slog.Default())
	require.NoError(t, err)

	_, _, err = wrapper.CallWithStats(context.Background(), "get", nil)

	var toolErr *models.ToolInvocationError

	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "api", toolErr.Tool)
	assert.False(t, toolErr.Permanent)
}
