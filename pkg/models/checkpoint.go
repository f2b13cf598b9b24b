package models

import "time"

// CheckpointStatus is the lifecycle state of one step occurrence.
type CheckpointStatus string

const (
	CheckpointStatusPending   CheckpointStatus = "pending"
	CheckpointStatusCompleted CheckpointStatus = "completed"
	CheckpointStatusFailed    CheckpointStatus = "failed"
)

// Checkpoint is the persisted record of one executed step occurrence,
// kept for history and replay. Loop iterations each get their own.
type Checkpoint struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id"`
	StepIndex   int              `json:"step_index"`
	StepName    string           `json:"step_name"`
	Status      CheckpointStatus `json:"status"`
	Inputs      map[string]any   `json:"inputs,omitempty"`
	Outputs     any              `json:"outputs,omitempty"`
	Error       string           `json:"error,omitempty"`
	RetryCount  int              `json:"retry_count"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}
