// Package models defines the core domain models for workflow execution.
package models

import "time"

// Workflow is an ordered sequence of steps. It is immutable once parsed;
// the engine never mutates it during a run.
type Workflow struct {
	ID          string          `json:"id"                    validate:"required"`
	Name        string          `json:"name"                  validate:"required,min=3"`
	Description string          `json:"description,omitempty"`
	Steps       []*WorkflowStep `json:"steps"                 validate:"required,min=1,dive"`
	Variables   map[string]any  `json:"variables,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at,omitzero"`
	UpdatedAt   time.Time       `json:"updated_at,omitzero"`
}
