package models

import "time"

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// ExecutionContext is the mutable state bag threaded through one run.
// Variables is owned exclusively by the run and mutated only by the engine;
// parallel tasks receive forked copies and never write back directly.
type ExecutionContext struct {
	WorkflowID       string          `json:"workflow_id"`
	RunID            string          `json:"run_id"`
	Inputs           map[string]any  `json:"inputs,omitempty"`
	Variables        map[string]any  `json:"variables,omitempty"`
	Outputs          map[string]any  `json:"outputs,omitempty"`
	Status           ExecutionStatus `json:"status"`
	CurrentStepIndex int             `json:"current_step_index"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// ForkVariables returns a shallow copy of Variables for scoped bindings
// (for_each item scopes, parallel task snapshots). Writes to the fork never
// leak back into the parent map.
func (ec *ExecutionContext) ForkVariables() map[string]any {
	fork := make(map[string]any, len(ec.Variables))
	for k, v := range ec.Variables {
		fork[k] = v
	}

	return fork
}

// ExecutionFilter narrows Executions listings.
type ExecutionFilter struct {
	WorkflowID string
	Status     ExecutionStatus
}
