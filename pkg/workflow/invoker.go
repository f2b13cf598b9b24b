package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/registry"
	"github.com/dmateus/conveyor/pkg/reliability"
)

// ToolInvoker routes external actions ("toolname.operation") to registered
// tool clients. Every client is wrapped with the reliability pipeline
// before its first call; wrappers are cached per tool.
type ToolInvoker struct {
	registry *registry.Registry
	limiter  *reliability.RateLimiterRegistry
	breaker  *reliability.CircuitBreakerRegistry
	defaults reliability.WrapperConfig
	logger   *slog.Logger

	mu      sync.Mutex
	configs map[string]reliability.WrapperConfig
	wrapped map[string]*reliability.Wrapper
}

func NewToolInvoker(
	reg *registry.Registry,
	limiter *reliability.RateLimiterRegistry,
	breaker *reliability.CircuitBreakerRegistry,
	logger *slog.Logger,
) *ToolInvoker {
	return &ToolInvoker{
		registry: reg,
		limiter:  limiter,
		breaker:  breaker,
		defaults: reliability.DefaultWrapperConfig(),
		logger:   logger.With("module", "tool_invoker"),
		configs:  make(map[string]reliability.WrapperConfig),
		wrapped:  make(map[string]*reliability.Wrapper),
	}
}

// ConfigureTool overrides the reliability settings for one tool.
func (i *ToolInvoker) ConfigureTool(name string, cfg reliability.WrapperConfig) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.configs[name] = cfg
	delete(i.wrapped, name)
}

// Invoke satisfies protocol.StepInvoker.
func (i *ToolInvoker) Invoke(ctx context.Context, action string, inputs map[string]any, execCtx *models.ExecutionContext) (any, error) {
	value, _, err := i.InvokeWithStats(ctx, action, inputs, execCtx)

	return value, err
}

// InvokeWithStats additionally reports how many retries the reliability
// wrapper consumed, for checkpointing.
func (i *ToolInvoker) InvokeWithStats(ctx context.Context, action string, inputs map[string]any, _ *models.ExecutionContext) (any, int, error) {
	toolName, operation, ok := strings.Cut(action, ".")
	if !ok {
		return nil, 0, models.NewValidationError(
			fmt.Sprintf("action %q is not of the form tool.operation", action))
	}

	wrapper, err := i.wrapper(ctx, toolName)
	if err != nil {
		return nil, 0, err
	}

	return wrapper.CallWithStats(ctx, operation, inputs)
}

func (i *ToolInvoker) wrapper(ctx context.Context, toolName string) (*reliability.Wrapper, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if wrapper, ok := i.wrapped[toolName]; ok {
		return wrapper, nil
	}

	tool, err := i.registry.Load(ctx, toolName)
	if err != nil {
		return nil, err
	}

	cfg, ok := i.configs[toolName]
	if !ok {
		cfg = i.defaults
	}

	if cfg.InputSchemas == nil {
		cfg.InputSchemas = i.registry.InputSchemas(toolName)
	}

	wrapper, err := reliability.Wrap(tool, i.limiter, i.breaker, cfg, i.logger)
	if err != nil {
		return nil, err
	}

	i.wrapped[toolName] = wrapper

	return wrapper, nil
}
