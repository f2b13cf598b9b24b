// Package persistence provides the checkpoint/execution storage abstraction.
// Checkpoints are written for history and replay, not for crash recovery of
// an in-flight step.
package persistence

import (
	"context"

	"github.com/dmateus/conveyor/pkg/models"
)

type Persistence interface {
	// WriteCheckpoint upserts one step-occurrence checkpoint by ID. The
	// engine writes a pending record before execution and finalizes it
	// after.
	WriteCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error

	// Checkpoints returns every checkpoint of a run in execution order.
	Checkpoints(ctx context.Context, runID string) ([]*models.Checkpoint, error)

	// SaveExecution upserts the run-level execution record.
	SaveExecution(ctx context.Context, execution *models.ExecutionContext) error

	// ExecutionByID returns one run, or ErrExecutionNotFound.
	ExecutionByID(ctx context.Context, runID string) (*models.ExecutionContext, error)

	// Executions lists runs matching the filter.
	Executions(ctx context.Context, filter models.ExecutionFilter) ([]*models.ExecutionContext, error)

	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
