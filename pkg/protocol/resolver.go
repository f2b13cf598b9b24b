package protocol

import (
	"context"

	"github.com/dmateus/conveyor/pkg/models"
)

// TemplateResolver renders template expressions against run state. It must
// be deterministic and side-effect-free: a sandboxed expression language
// only, never arbitrary host code.
type TemplateResolver interface {
	Resolve(expression string, data map[string]any) (any, error)
	ResolveInputs(inputs map[string]any, data map[string]any) (map[string]any, error)
}

// StepInvoker routes a non-built-in action to its tool client. For real
// tool calls the invoker is reliability-wrapped.
type StepInvoker interface {
	Invoke(ctx context.Context, action string, inputs map[string]any, execCtx *models.ExecutionContext) (any, error)
}
