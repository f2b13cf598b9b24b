package workflow

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/protocol"
	"github.com/dmateus/conveyor/pkg/registry"
	"github.com/dmateus/conveyor/pkg/reliability"
)

type countingTool struct {
	name  string
	calls int
}

func (c *countingTool) Call(_ context.Context, operation string, inputs map[string]any) (any, error) {
	c.calls++

	return map[string]any{"operation": operation, "inputs": inputs}, nil
}

func (c *countingTool) Name() string {
	return c.name
}

type countingFactory struct {
	tool *countingTool
}

func (f *countingFactory) ID() string {
	return f.tool.name
}

func (f *countingFactory) Create(_ context.Context, _ map[string]any) (protocol.Tool, error) {
	return f.tool, nil
}

func (f *countingFactory) InputSchemas() map[string]map[string]any {
	return nil
}

func newTestInvoker(t *testing.T, tools ...*countingTool) *ToolInvoker {
	t.Helper()

	reg := registry.NewRegistry(slog.Default())
	for _, tool := range tools {
		reg.RegisterTool(&countingFactory{tool: tool}, nil)
	}

	limiter := reliability.NewRateLimiterRegistry(reliability.DefaultRateLimitConfig())
	breaker := reliability.NewCircuitBreakerRegistry(reliability.DefaultCircuitBreakerConfig())

	return NewToolInvoker(reg, limiter, breaker, slog.Default())
}

func TestToolInvoker_RoutesToTool(t *testing.T) {
	t.Parallel()

	tool := &countingTool{name: "crm"}
	invoker := newTestInvoker(t, tool)

	value, err := invoker.Invoke(context.Background(), "crm.lookup", map[string]any{"id": "42"}, nil)
	require.NoError(t, err)

	result := value.(map[string]any)
	assert.Equal(t, "lookup", result["operation"])
	assert.Equal(t, 1, tool.calls)
}

func TestToolInvoker_MalformedActionRejected(t *testing.T) {
	t.Parallel()

	invoker := newTestInvoker(t)

	_, err := invoker.Invoke(context.Background(), "lookup", nil, nil)

	var validationErr *models.ValidationError

	require.ErrorAs(t, err, &validationErr)
}

func TestToolInvoker_UnknownTool(t *testing.T) {
	t.Parallel()

	invoker := newTestInvoker(t)

	_, err := invoker.Invoke(context.Background(), "ghost.lookup", nil, nil)
	require.ErrorContains(t, err, "not registered")
}

func TestToolInvoker_ConfigureToolRebuildsWrapper(t *testing.T) {
	t.Parallel()

	tool := &countingTool{name: "crm"}
	invoker := newTestInvoker(t, tool)

	_, err := invoker.Invoke(context.Background(), "crm.lookup", nil, nil)
	require.NoError(t, err)

	cfg := reliability.DefaultWrapperConfig()
	cfg.MaxRetries = 0
	invoker.ConfigureTool("crm", cfg)

	_, retries, err := invoker.InvokeWithStats(context.Background(), "crm.lookup", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, retries)
	assert.Equal(t, 2, tool.calls)
}
