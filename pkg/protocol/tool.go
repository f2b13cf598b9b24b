// Package protocol defines the interfaces and contracts between the engine
// and its collaborators: tool clients, template resolution, step invocation,
// and event sources.
package protocol

import "context"

// Tool is an external tool/API client. Every method call crosses a process
// boundary and must be reached through the reliability wrapper.
type Tool interface {
	// Name returns the service name used for rate-limiter and circuit
	// breaker state keyed per service.
	Name() string

	// Call performs one operation against the external service.
	Call(ctx context.Context, operation string, input map[string]any) (any, error)
}

// ToolFactory creates tool clients from resolved configuration.
type ToolFactory interface {
	// Create builds a client. Config has secret references already resolved.
	Create(ctx context.Context, config map[string]any) (Tool, error)

	// ID returns the tool name used for registry lookup.
	ID() string

	// InputSchemas returns optional JSON schemas keyed by operation name,
	// enforced by the reliability wrapper before any IO occurs.
	InputSchemas() map[string]map[string]any
}
