package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Save inserts or replaces an execution.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	logJSON, err := json.Marshal(execution.ExecutionLog)
	if err != nil {
		return fmt.Errorf("failed to marshal execution log: %w", err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, user_id, status, execution_log, current_node_id, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			execution_log = EXCLUDED.execution_log,
			current_node_id = EXCLUDED.current_node_id,
			finished_at = EXCLUDED.finished_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.UserID,
		execution.Status,
		logJSON,
		sql.NullString{String: execution.CurrentNodeID, Valid: execution.CurrentNodeID != ""},
		execution.StartedAt,
		execution.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// GetByID retrieves an execution by its ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `
		SELECT id, workflow_id, user_id, status, execution_log, current_node_id, started_at, finished_at
		FROM executions
		WHERE id = $1
	`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// ListByWorkflow retrieves the executions of a workflow, newest first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	query := `
		SELECT id, workflow_id, user_id, status, execution_log, current_node_id, started_at, finished_at
		FROM executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var executions []*models.Execution

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution     models.Execution
		logJSON       []byte
		currentNodeID sql.NullString
		finishedAt    sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.UserID,
		&execution.Status,
		&logJSON,
		&currentNodeID,
		&execution.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(logJSON, &execution.ExecutionLog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution log: %w", err)
	}

	execution.CurrentNodeID = currentNodeID.String

	if finishedAt.Valid {
		execution.FinishedAt = &finishedAt.Time
	}

	return &execution, nil
}
