package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/parallel"
)

// executeParallel runs a spawn or map operation. Tasks see a forked view of
// the parent variables merged with their bindings; concurrent tasks never
// mutate run state, they only return values.
func (e *Engine) executeParallel(ctx context.Context, execCtx *models.ExecutionContext, spec *models.ParallelSpec) (any, error) {
	if spec == nil {
		return nil, models.NewValidationError("parallel step requires a spec")
	}

	timeout, err := parseOptionalDuration(spec.Timeout)
	if err != nil {
		return nil, models.NewValidationError("invalid parallel timeout: " + err.Error())
	}

	taskTimeout, err := parseOptionalDuration(spec.TaskTimeout)
	if err != nil {
		return nil, models.NewValidationError("invalid parallel task_timeout: " + err.Error())
	}

	executor := parallel.NewExecutor(e.taskInvoker(execCtx), e.logger)

	switch spec.Mode {
	case models.ParallelModeSpawn:
		return executor.Spawn(ctx, spec.Tasks, parallel.SpawnOptions{
			Wait:        spec.Wait,
			Timeout:     timeout,
			TaskTimeout: taskTimeout,
			OnError:     spec.OnError,
			Concurrency: spec.Concurrency,
		})

	case models.ParallelModeMap:
		items, err := e.resolveItems(execCtx, spec.Items)
		if err != nil {
			return nil, err
		}

		perItemTimeout := taskTimeout
		if perItemTimeout == 0 {
			perItemTimeout = timeout
		}

		return executor.Map(ctx, items, spec.Task, parallel.MapOptions{
			Concurrency: spec.Concurrency,
			Timeout:     perItemTimeout,
			OnError:     spec.OnError,
		})

	default:
		return nil, models.NewValidationError(
			fmt.Sprintf("unknown parallel mode: %q", spec.Mode))
	}
}

// taskInvoker adapts the engine's action dispatch for concurrent tasks.
// Each invocation resolves the task's inputs against the parent context
// merged with the task bindings.
func (e *Engine) taskInvoker(execCtx *models.ExecutionContext) parallel.TaskInvoker {
	return func(ctx context.Context, action string, inputs map[string]any, bindings map[string]any) (any, error) {
		resolved, err := e.resolver.ResolveInputs(inputs, e.templateData(execCtx, bindings))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve task inputs: %w", err)
		}

		switch {
		case strings.HasPrefix(action, "core."):
			return e.executeCoreAction(action, resolved)

		case strings.HasPrefix(action, "workflow."):
			return e.executeWorkflowAction(ctx, execCtx, action, resolved)

		default:
			return e.invoker.Invoke(ctx, action, resolved, execCtx)
		}
	}
}

func (e *Engine) resolveItems(execCtx *models.ExecutionContext, expression string) ([]any, error) {
	if expression == "" {
		return nil, models.NewValidationError("parallel.map requires an items expression")
	}

	value, err := e.resolver.Resolve(expression, e.templateData(execCtx, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve items: %w", err)
	}

	items, ok := value.([]any)
	if !ok {
		return nil, models.NewValidationError(
			fmt.Sprintf("parallel.map items must resolve to an array, got %T", value))
	}

	return items, nil
}

// parallelSpecFromInputs decodes a parallel.* action's inputs into a spec.
// The mode comes from the action name itself.
func parallelSpecFromInputs(action string, inputs map[string]any) (*models.ParallelSpec, error) {
	var mode models.ParallelMode

	switch action {
	case "parallel.spawn":
		mode = models.ParallelModeSpawn
	case "parallel.map":
		mode = models.ParallelModeMap
	default:
		return nil, models.NewValidationError("unknown parallel action: " + action)
	}

	raw, err := json.Marshal(inputs)
	if err != nil {
		return nil, models.NewValidationError("invalid parallel inputs: " + err.Error())
	}

	spec := &models.ParallelSpec{}
	if err := json.Unmarshal(raw, spec); err != nil {
		return nil, models.NewValidationError("invalid parallel inputs: " + err.Error())
	}

	spec.Mode = mode

	return spec, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	return time.ParseDuration(s)
}
