// Package postgresql provides PostgreSQL persistence for executions and
// checkpoints.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/persistence"
)

// Persistence implements persistence.Persistence on PostgreSQL. Execution
// and checkpoint payloads are stored as JSONB with a few indexed columns
// for filtering.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Persistence{
		db:     database,
		logger: logger.With("module", "postgresql_persistence"),
	}

	migrationManager := newMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return p, nil
}

func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Persistence) WriteCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint %s: %w", checkpoint.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, run_id, step_index, step_name, status, data, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data
	`, checkpoint.ID, checkpoint.RunID, checkpoint.StepIndex, checkpoint.StepName,
		string(checkpoint.Status), data, checkpoint.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", checkpoint.ID, err)
	}

	return nil
}

func (p *Persistence) Checkpoints(ctx context.Context, runID string) ([]*models.Checkpoint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT data FROM checkpoints WHERE run_id = $1 ORDER BY started_at, step_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints for run %s: %w", runID, err)
	}
	defer rows.Close()

	var checkpoints []*models.Checkpoint

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}

		var checkpoint models.Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
		}

		checkpoints = append(checkpoints, &checkpoint)
	}

	return checkpoints, rows.Err()
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.ExecutionContext) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.RunID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO executions (run_id, workflow_id, status, data, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data
	`, execution.RunID, execution.WorkflowID, string(execution.Status), data, execution.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.RunID, err)
	}

	return nil
}

func (p *Persistence) ExecutionByID(ctx context.Context, runID string) (*models.ExecutionContext, error) {
	var data []byte

	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM executions WHERE run_id = $1`, runID,
	).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to query execution %s: %w", runID, err)
	}

	var execution models.ExecutionContext
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to parse execution %s: %w", runID, err)
	}

	return &execution, nil
}

func (p *Persistence) Executions(ctx context.Context, filter models.ExecutionFilter) ([]*models.ExecutionContext, error) {
	query := `SELECT data FROM executions WHERE 1=1`
	args := []any{}

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY started_at DESC"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.ExecutionContext

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}

		var execution models.ExecutionContext
		if err := json.Unmarshal(data, &execution); err != nil {
			return nil, fmt.Errorf("failed to parse execution: %w", err)
		}

		executions = append(executions, &execution)
	}

	return executions, rows.Err()
}
