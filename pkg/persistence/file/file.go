// Package file provides file-based persistence for executions and
// checkpoints, one JSON document per run.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local filesystem.
// Executions live under <root>/executions, checkpoints under
// <root>/checkpoints keyed by run ID.
type Persistence struct {
	root string
	mu   sync.Mutex
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) WriteCheckpoint(_ context.Context, checkpoint *models.Checkpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	checkpoints, err := p.readCheckpoints(checkpoint.RunID)
	if err != nil {
		return err
	}

	replaced := false

	for i, existing := range checkpoints {
		if existing.ID == checkpoint.ID {
			checkpoints[i] = checkpoint
			replaced = true

			break
		}
	}

	if !replaced {
		checkpoints = append(checkpoints, checkpoint)
	}

	return p.writeJSON(p.checkpointPath(checkpoint.RunID), checkpoints)
}

func (p *Persistence) Checkpoints(_ context.Context, runID string) ([]*models.Checkpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.readCheckpoints(runID)
}

func (p *Persistence) SaveExecution(_ context.Context, execution *models.ExecutionContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.writeJSON(p.executionPath(execution.RunID), execution)
}

func (p *Persistence) ExecutionByID(_ context.Context, runID string) (*models.ExecutionContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.executionPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
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
	dir := os.DirFS(filepath.Join(p.root, "executions"))

	files, err := fs.Glob(dir, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.ExecutionContext, 0, len(files))

	for _, file := range files {
		runID := strings.TrimSuffix(file, ".json")

		execution, err := p.ExecutionByID(ctx, runID)
		if err != nil {
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

func (p *Persistence) readCheckpoints(runID string) ([]*models.Checkpoint, error) {
	data, err := os.ReadFile(p.checkpointPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Checkpoint{}, nil
		}

		return nil, fmt.Errorf("failed to read checkpoints for run %s: %w", runID, err)
	}

	var checkpoints []*models.Checkpoint
	if err := json.Unmarshal(data, &checkpoints); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoints for run %s: %w", runID, err)
	}

	return checkpoints, nil
}

func (p *Persistence) writeJSON(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func (p *Persistence) executionPath(runID string) string {
	return filepath.Join(p.root, "executions", runID+".json")
}

func (p *Persistence) checkpointPath(runID string) string {
	return filepath.Join(p.root, "checkpoints", runID+".json")
}
