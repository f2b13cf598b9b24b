// Package workflow contains the execution engine: step sequencing, control
// flow interpretation, built-in actions and checkpointing.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmateus/conveyor/pkg/eventbus"
	"github.com/dmateus/conveyor/pkg/events"
	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/otelhelper"
	"github.com/dmateus/conveyor/pkg/persistence"
	"github.com/dmateus/conveyor/pkg/protocol"
	"github.com/dmateus/conveyor/pkg/template"
)

// OutputsMarkerKey marks a step return value that publishes run outputs
// instead of step-scoped variables.
const OutputsMarkerKey = "__workflow_outputs__"

// Engine drives one workflow run to completion. Steps execute strictly
// sequentially except inside parallel.* actions; the variable map is owned
// by the run and mutated only here.
type Engine struct {
	resolver protocol.TemplateResolver
	invoker  protocol.StepInvoker
	sources  protocol.EventSource
	store    persistence.Persistence
	bus      eventbus.EventBus
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Config wires the engine's collaborators. Resolver, Invoker and Store are
// required; Sources, Bus and Tracer are optional.
type Config struct {
	Resolver protocol.TemplateResolver
	Invoker  protocol.StepInvoker
	Sources  protocol.EventSource
	Store    persistence.Persistence
	Bus      eventbus.EventBus
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		resolver: cfg.Resolver,
		invoker:  cfg.Invoker,
		sources:  cfg.Sources,
		store:    cfg.Store,
		bus:      cfg.Bus,
		tracer:   cfg.Tracer,
		logger:   logger.With("module", "workflow_engine"),
	}
}

// Result is the terminal outcome of one run.
type Result struct {
	RunID    string
	Status   models.ExecutionStatus
	Outputs  map[string]any
	Duration time.Duration
	Err      error
}

// Execute runs every top-level step of the workflow in order. Cancellation
// is cooperative: it is checked before each top-level step, and an
// in-flight step is allowed to finish naturally and is still checkpointed.
func (e *Engine) Execute(ctx context.Context, wf *models.Workflow, inputs map[string]any) (*Result, error) {
	execCtx := &models.ExecutionContext{
		WorkflowID: wf.ID,
		RunID:      generateRunID(),
		Inputs:     inputs,
		Variables:  initialVariables(wf, inputs),
		Outputs:    make(map[string]any),
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}

	logger := e.logger.With("workflow_id", wf.ID, "run_id", execCtx.RunID)
	logger.Info("Starting workflow execution", "steps", len(wf.Steps))

	var span trace.Span

	if e.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
			attribute.String(otelhelper.WorkflowIDKey, wf.ID),
			attribute.String(otelhelper.RunIDKey, execCtx.RunID),
		)
		defer span.End()
	}

	if err := e.store.SaveExecution(ctx, execCtx); err != nil {
		return nil, fmt.Errorf("failed to persist execution %s: %w", execCtx.RunID, err)
	}

	e.publish(ctx, execCtx.RunID, &events.ExecutionStarted{
		BaseEvent:  e.baseEvent(events.ExecutionStartedEvent),
		RunID:      execCtx.RunID,
		WorkflowID: wf.ID,
	})

	runErr := e.runSteps(ctx, execCtx, wf.Steps, true)

	completed := time.Now().UTC()
	execCtx.CompletedAt = &completed

	var cancelErr *models.CancellationError

	switch {
	case runErr == nil:
		execCtx.Status = models.ExecutionStatusCompleted
	case errors.As(runErr, &cancelErr):
		execCtx.Status = models.ExecutionStatusCancelled
		execCtx.Error = runErr.Error()
	default:
		execCtx.Status = models.ExecutionStatusFailed
		execCtx.Error = runErr.Error()
	}

	if span != nil && runErr != nil {
		otelhelper.SetError(span, runErr,
			attribute.String(otelhelper.RunIDKey, execCtx.RunID))
	}

	// The terminal record must survive even when ctx is already cancelled.
	if err := e.store.SaveExecution(context.WithoutCancel(ctx), execCtx); err != nil {
		logger.Error("Failed to persist terminal execution state", "error", err)
	}

	duration := completed.Sub(execCtx.StartedAt)

	e.publish(ctx, execCtx.RunID, &events.ExecutionFinished{
		BaseEvent:  e.baseEvent(events.ExecutionFinishedEvent),
		RunID:      execCtx.RunID,
		WorkflowID: wf.ID,
		Status:     string(execCtx.Status),
		Error:      execCtx.Error,
		DurationMs: duration.Milliseconds(),
	})

	logger.Info("Workflow execution finished", "status", execCtx.Status, "duration", duration)

	return &Result{
		RunID:    execCtx.RunID,
		Status:   execCtx.Status,
		Outputs:  execCtx.Outputs,
		Duration: duration,
		Err:      runErr,
	}, nil
}

// runSteps executes a step list sequentially. Control-flow steps recurse
// into this same routine, so arbitrary nesting composes. Cancellation is
// only observed between top-level steps.
func (e *Engine) runSteps(ctx context.Context, execCtx *models.ExecutionContext, steps []*models.WorkflowStep, topLevel bool) error {
	for index, step := range steps {
		if topLevel {
			if ctx.Err() != nil {
				return &models.CancellationError{RunID: execCtx.RunID}
			}

			execCtx.CurrentStepIndex = index
		}

		if err := e.runStep(ctx, execCtx, index, step); err != nil {
			return err
		}
	}

	return nil
}

// runStep checkpoints one step occurrence around its execution.
func (e *Engine) runStep(ctx context.Context, execCtx *models.ExecutionContext, index int, step *models.WorkflowStep) error {
	checkpoint := &models.Checkpoint{
		ID:        "cp-" + uuid.New().String()[:8],
		RunID:     execCtx.RunID,
		StepIndex: index,
		StepName:  step.Name(),
		Status:    models.CheckpointStatusPending,
		Inputs:    step.Inputs,
		StartedAt: time.Now().UTC(),
	}

	if err := e.store.WriteCheckpoint(ctx, checkpoint); err != nil {
		return fmt.Errorf("failed to write checkpoint for step %s: %w", step.Name(), err)
	}

	e.publish(ctx, execCtx.RunID, &events.StepStarted{
		BaseEvent: e.baseEvent(events.StepStartedEvent),
		RunID:     execCtx.RunID,
		StepIndex: index,
		StepName:  step.Name(),
	})

	// An in-flight step finishes naturally even when the run is cancelled
	// in the meantime; its result is still checkpointed.
	value, retries, err := e.executeStep(context.WithoutCancel(ctx), execCtx, step)

	completed := time.Now().UTC()
	checkpoint.CompletedAt = &completed
	checkpoint.RetryCount = retries

	if err != nil {
		checkpoint.Status = models.CheckpointStatusFailed
		checkpoint.Error = err.Error()
	} else {
		checkpoint.Status = models.CheckpointStatusCompleted
		checkpoint.Outputs = value
	}

	if cpErr := e.store.WriteCheckpoint(context.WithoutCancel(ctx), checkpoint); cpErr != nil {
		e.logger.Error("Failed to finalize checkpoint", "step", step.Name(), "error", cpErr)
	}

	e.publish(ctx, execCtx.RunID, &events.StepFinished{
		BaseEvent:  e.baseEvent(events.StepFinishedEvent),
		RunID:      execCtx.RunID,
		StepIndex:  index,
		StepName:   step.Name(),
		Status:     string(checkpoint.Status),
		Error:      checkpoint.Error,
		DurationMs: completed.Sub(checkpoint.StartedAt).Milliseconds(),
	})

	if err != nil {
		return err
	}

	e.mergeStepValue(execCtx, step, value)

	return nil
}

// executeStep dispatches on the step kind and, for actions, on the action
// namespace.
func (e *Engine) executeStep(ctx context.Context, execCtx *models.ExecutionContext, step *models.WorkflowStep) (any, int, error) {
	switch step.Kind {
	case models.StepKindAction:
		return e.executeAction(ctx, execCtx, step)

	case models.StepKindIf:
		return nil, 0, e.executeIf(ctx, execCtx, step)

	case models.StepKindForEach:
		return nil, 0, e.executeForEach(ctx, execCtx, step)

	case models.StepKindWhile:
		return nil, 0, e.executeWhile(ctx, execCtx, step)

	case models.StepKindSwitch:
		return nil, 0, e.executeSwitch(ctx, execCtx, step)

	case models.StepKindTry:
		return nil, 0, e.executeTry(ctx, execCtx, step)

	case models.StepKindParallel:
		value, err := e.executeParallel(ctx, execCtx, step.Parallel)

		return value, 0, err

	default:
		return nil, 0, models.NewValidationError("unknown step kind: " + string(step.Kind))
	}
}

func (e *Engine) executeAction(ctx context.Context, execCtx *models.ExecutionContext, step *models.WorkflowStep) (any, int, error) {
	// Parallel actions resolve their task inputs per task, against each
	// task's own bindings, so the raw inputs pass through untouched here.
	if strings.HasPrefix(step.ActionName, "parallel.") {
		spec, err := parallelSpecFromInputs(step.ActionName, step.Inputs)
		if err != nil {
			return nil, 0, err
		}

		value, err := e.executeParallel(ctx, execCtx, spec)

		return value, 0, err
	}

	inputs, err := e.resolver.ResolveInputs(step.Inputs, e.templateData(execCtx, nil))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve inputs for step %s: %w", step.Name(), err)
	}

	switch {
	case strings.HasPrefix(step.ActionName, "core."):
		value, err := e.executeCoreAction(step.ActionName, inputs)

		return value, 0, err

	case strings.HasPrefix(step.ActionName, "workflow."):
		value, err := e.executeWorkflowAction(ctx, execCtx, step.ActionName, inputs)

		return value, 0, err

	case strings.HasPrefix(step.ActionName, "event."):
		value, err := e.executeEventAction(ctx, step.ActionName, inputs)

		return value, 0, err

	default:
		if statsInvoker, ok := e.invoker.(interface {
			InvokeWithStats(ctx context.Context, action string, inputs map[string]any, execCtx *models.ExecutionContext) (any, int, error)
		}); ok {
			return statsInvoker.InvokeWithStats(ctx, step.ActionName, inputs, execCtx)
		}

		value, err := e.invoker.Invoke(ctx, step.ActionName, inputs, execCtx)

		return value, 0, err
	}
}

func (e *Engine) executeIf(ctx context.Context, execCtx *models.ExecutionContext, step *models.WorkflowStep) error {
	value, err := e.resolver.Resolve(step.Condition, e.templateData(execCtx, nil))
	if err != nil {
		return fmt.Errorf("failed to resolve condition: %w", err)
	}

	if template.Truthy(value) {
		return e.runSteps(ctx, execCtx, step.ThenSteps, false)
	}

	return e.runSteps(ctx, execCtx, step.ElseSteps, false)
}

func (e *Engine) executeForEach(ctx context.Context, execCtx *models.ExecutionContext, step *models.WorkflowStep) error {
	value, err := e.resolver.Resolve(step.Collection, e.templateData(execCtx, nil))
	if err != nil {
		return fmt.Errorf("failed to resolve collection: %w", err)
	}

	items, ok := value.([]any)
	if !ok {
		return models.NewValidationError(
			fmt.Sprintf("for_each collection must resolve to an array, got %T", value))
	}

	for index, item := range items {
		saved := execCtx.Variables

		execCtx.Variables = execCtx.ForkVariables()
		execCtx.Variables["item"] = item
		execCtx.Variables["itemIndex"] = index

		err := e.runSteps(ctx, execCtx, step.BodySteps, false)

		// Forked bindings never leak back upward.
		execCtx.Variables = saved

		if err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) executeWhile(ctx context.Context, execCtx *models.ExecutionContext, step *models.WorkflowStep) error {
	maxIterations := step.MaxIterations
	if maxIterations <= 0 {
		maxIterations = models.DefaultMaxIterations
	}

	for iteration := 0; ; iteration++ {
		value, err := e.resolver.Resolve(step.Condition, e.templateData(execCtx, nil))
		if err != nil {
			return fmt.Errorf("failed to resolve while condition: %w", err)
		}

		if !template.Truthy(value) {
			return nil
		}

		// Fatal only when the condition is still true after the bound was
		// exhausted; a loop whose condition goes false at exactly the bound
		// completes normally.
		if iteration >= maxIterations {
			return &models.WorkflowFatalError{
				Reason: fmt.Sprintf("while loop exceeded %d iterations", maxIterations),
			}
		}

		if err := e.runSteps(ctx, execCtx, step.BodySteps, false); err != nil {
			return err
		}
	}
}

func (e *Engine) executeSwitch(ctx context.Context, execCtx *models.ExecutionContext, step *models.WorkflowStep) error {
	value, err := e.resolver.Resolve(step.Expression, e.templateData(execCtx, nil))
	if err != nil {
		return fmt.Errorf("failed to resolve switch expression: %w", err)
	}

	key := fmt.Sprintf("%v", value)

	if steps, ok := step.Cases[key]; ok {
		return e.runSteps(ctx, execCtx, steps, false)
	}

	if step.Default != nil {
		return e.runSteps(ctx, execCtx, step.Default, false)
	}

	// No case match and no default is a no-op.
	return nil
}

func (e *Engine) executeTry(ctx context.Context, execCtx *models.ExecutionContext, step *models.WorkflowStep) error {
	err := e.runSteps(ctx, execCtx, step.TrySteps, false)
	if err == nil {
		return nil
	}

	execCtx.Variables["error"] = map[string]any{"message": err.Error()}

	// A failure inside the catch steps propagates normally.
	return e.runSteps(ctx, execCtx, step.CatchSteps, false)
}

// mergeStepValue folds a step's return value into the run state: values
// carrying the outputs marker publish run outputs, everything else lands in
// variables under the step's output variable.
func (e *Engine) mergeStepValue(execCtx *models.ExecutionContext, step *models.WorkflowStep, value any) {
	if outputs, ok := value.(map[string]any); ok {
		if _, marked := outputs[OutputsMarkerKey]; marked {
			for key, v := range outputs {
				if key == OutputsMarkerKey {
					continue
				}

				execCtx.Outputs[key] = v
			}

			return
		}
	}

	if step.OutputVariable != "" {
		execCtx.Variables[step.OutputVariable] = value
	}
}

// templateData builds the expression context. Expressions address run state
// as .vars, .inputs and .run; task bindings shadow same-named variables.
func (e *Engine) templateData(execCtx *models.ExecutionContext, bindings map[string]any) map[string]any {
	vars := execCtx.Variables
	if bindings != nil {
		vars = execCtx.ForkVariables()
		for k, v := range bindings {
			vars[k] = v
		}
	}

	return map[string]any{
		"vars":   vars,
		"inputs": execCtx.Inputs,
		"run": map[string]any{
			"id":          execCtx.RunID,
			"workflow_id": execCtx.WorkflowID,
		},
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.Warn("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) baseEvent(eventType events.EventType) events.BaseEvent {
	id := "evt-" + uuid.New().String()[:8]
	if e.bus != nil {
		id = e.bus.GenerateID()
	}

	return events.BaseEvent{
		ID:        id,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

func initialVariables(wf *models.Workflow, inputs map[string]any) map[string]any {
	variables := make(map[string]any, len(wf.Variables)+len(inputs))

	for k, v := range wf.Variables {
		variables[k] = v
	}

	for k, v := range inputs {
		variables[k] = v
	}

	return variables
}

func generateRunID() string {
	return "run-" + uuid.New().String()[:8]
}
