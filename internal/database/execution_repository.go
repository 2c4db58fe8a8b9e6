package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ExecutionRepository handles workflow execution data operations
type ExecutionRepository struct {
	BaseRepository
	logger *zap.Logger
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *sqlx.DB, logger *zap.Logger) *ExecutionRepository {
	return &ExecutionRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create creates a new workflow execution
func (r *ExecutionRepository) Create(ctx context.Context, exec *WorkflowExecution) error {
	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, tenant_id, filing_id, status, current_step,
			initiated_by, initiated_at, due_date, scheduled_completion_date,
			actual_completion_date, step_status, issues, metrics,
			created_at, updated_at
		) VALUES (
			:id, :workflow_id, :tenant_id, :filing_id, :status, :current_step,
			:initiated_by, :initiated_at, :due_date, :scheduled_completion_date,
			:actual_completion_date, :step_status, :issues, :metrics,
			:created_at, :updated_at
		)`

	exec.CreatedAt = time.Now()
	exec.UpdatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, query, exec)
	if err != nil {
		r.logger.Error("Failed to create workflow execution",
			zap.String("execution_id", exec.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create workflow execution: %w", err)
	}

	r.logger.Info("Workflow execution created",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", exec.WorkflowID),
		zap.String("filing_id", exec.FilingID))
	return nil
}

// GetByID retrieves a workflow execution by ID
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*WorkflowExecution, error) {
	query := `SELECT * FROM workflow_executions WHERE id = $1`

	var exec WorkflowExecution
	err := r.db.GetContext(ctx, &exec, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get workflow execution",
			zap.String("execution_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow execution: %w", err)
	}

	return &exec, nil
}

// Update updates an existing workflow execution
func (r *ExecutionRepository) Update(ctx context.Context, exec *WorkflowExecution) error {
	query := `
		UPDATE workflow_executions SET
			status = :status,
			current_step = :current_step,
			actual_completion_date = :actual_completion_date,
			step_status = :step_status,
			issues = :issues,
			metrics = :metrics,
			updated_at = :updated_at
		WHERE id = :id`

	exec.UpdatedAt = time.Now()

	result, err := r.db.NamedExecContext(ctx, query, exec)
	if err != nil {
		r.logger.Error("Failed to update workflow execution",
			zap.String("execution_id", exec.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update workflow execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("workflow execution not found: %s", exec.ID)
	}

	return nil
}

// GetActiveByFiling retrieves the non-terminal execution targeting a filing,
// if one exists. At most one active execution per filing is an orchestrator
// invariant, so the first match wins.
func (r *ExecutionRepository) GetActiveByFiling(ctx context.Context, filingID string) (*WorkflowExecution, error) {
	query := `
		SELECT * FROM workflow_executions
		WHERE filing_id = $1 AND status NOT IN ('completed', 'failed')
		ORDER BY initiated_at DESC
		LIMIT 1`

	var exec WorkflowExecution
	err := r.db.GetContext(ctx, &exec, query, filingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get active execution by filing",
			zap.String("filing_id", filingID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get active execution by filing: %w", err)
	}

	return &exec, nil
}

// ListByTenant retrieves executions for a tenant, optionally filtered by
// status, most recent first.
func (r *ExecutionRepository) ListByTenant(ctx context.Context, tenantID, status string, limit int) ([]*WorkflowExecution, error) {
	query := `SELECT * FROM workflow_executions WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argIndex := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY initiated_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	var execs []*WorkflowExecution
	err := r.db.SelectContext(ctx, &execs, query, args...)
	if err != nil {
		r.logger.Error("Failed to list executions by tenant",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list executions by tenant: %w", err)
	}

	return execs, nil
}
