// Package redis provides Redis persistence for executions and checkpoints.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/persistence"
)

const (
	executionKeyPrefix  = "conveyor:execution:"
	executionIndexKey   = "conveyor:executions"
	checkpointKeyPrefix = "conveyor:checkpoints:"
)

// Persistence implements persistence.Persistence on Redis. Executions are
// JSON strings indexed by a run-ID set; checkpoints live in a per-run hash
// keyed by checkpoint ID so the pending record and its finalization land on
// the same field.
type Persistence struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := goredis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Persistence{
		client: client,
		logger: logger.With("module", "redis_persistence"),
	}, nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Persistence) WriteCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint %s: %w", checkpoint.ID, err)
	}

	err = p.client.HSet(ctx, checkpointKeyPrefix+checkpoint.RunID, checkpoint.ID, data).Err()
	if err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", checkpoint.ID, err)
	}

	return nil
}

func (p *Persistence) Checkpoints(ctx context.Context, runID string) ([]*models.Checkpoint, error) {
	entries, err := p.client.HGetAll(ctx, checkpointKeyPrefix+runID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoints for run %s: %w", runID, err)
	}

	checkpoints := make([]*models.Checkpoint, 0, len(entries))

	for _, raw := range entries {
		var checkpoint models.Checkpoint
		if err := json.Unmarshal([]byte(raw), &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
		}

		checkpoints = append(checkpoints, &checkpoint)
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		if checkpoints[i].StartedAt.Equal(checkpoints[j].StartedAt) {
			return checkpoints[i].StepIndex < checkpoints[j].StepIndex
		}

		return checkpoints[i].StartedAt.Before(checkpoints[j].StartedAt)
	})

	return checkpoints, nil
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.ExecutionContext) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.RunID, err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, executionKeyPrefix+execution.RunID, data, 0)
	pipe.SAdd(ctx, executionIndexKey, execution.RunID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.RunID, err)
	}

	return nil
}

func (p *Persistence) ExecutionByID(ctx context.Context, runID string) (*models.ExecutionContext, error) {
	data, err := p.client.Get(ctx, executionKeyPrefix+runID).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", runID, err)
	}

	var execution models.ExecutionContext
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to parse execution %s: %w", runID, err)
	}

	return &execution, nil
}

func (p *Persistence) Executions(ctx context.Context, filter models.ExecutionFilter) ([]*models.ExecutionContext, error) {
	runIDs, err := p.client.SMembers(ctx, executionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.ExecutionContext, 0, len(runIDs))

	for _, runID := range runIDs {
		execution, err := p.ExecutionByID(ctx, runID)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		if filter.WorkflowID != "" && execution.WorkflowID != filter.WorkflowID {
			continue
		}

		if filter.Status != "" && execution.Status != filter.Status {
			continue
		}

		executions = append(executions, execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}
