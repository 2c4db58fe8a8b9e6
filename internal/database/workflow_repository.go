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

// WorkflowRepository handles workflow template data operations
type WorkflowRepository struct {
	BaseRepository
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sqlx.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create creates a new workflow template
func (r *WorkflowRepository) Create(ctx context.Context, tpl *WorkflowTemplate) error {
	query := `
		INSERT INTO workflow_templates (
			id, tenant_id, name, form_type, jurisdiction, is_active,
			automation_level, schedule, steps, approval, data_sources,
			quality_checks, created_at, updated_at
		) VALUES (
			:id, :tenant_id, :name, :form_type, :jurisdiction, :is_active,
			:automation_level, :schedule, :steps, :approval, :data_sources,
			:quality_checks, :created_at, :updated_at
		)`

	tpl.CreatedAt = time.Now()
	tpl.UpdatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, query, tpl)
	if err != nil {
		r.logger.Error("Failed to create workflow template",
			zap.String("workflow_id", tpl.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create workflow template: %w", err)
	}

	r.logger.Info("Workflow template created",
		zap.String("workflow_id", tpl.ID),
		zap.String("form_type", tpl.FormType))
	return nil
}

// GetByID retrieves a workflow template by ID
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*WorkflowTemplate, error) {
	query := `SELECT * FROM workflow_templates WHERE id = $1`

	var tpl WorkflowTemplate
	err := r.db.GetContext(ctx, &tpl, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get workflow template",
			zap.String("workflow_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow template: %w", err)
	}

	return &tpl, nil
}

// Update updates an existing workflow template
func (r *WorkflowRepository) Update(ctx context.Context, tpl *WorkflowTemplate) error {
	query := `
		UPDATE workflow_templates SET
			name = :name,
			is_active = :is_active,
			automation_level = :automation_level,
			schedule = :schedule,
			steps = :steps,
			approval = :approval,
			data_sources = :data_sources,
			quality_checks = :quality_checks,
			updated_at = :updated_at
		WHERE id = :id`

	tpl.UpdatedAt = time.Now()

	result, err := r.db.NamedExecContext(ctx, query, tpl)
	if err != nil {
		r.logger.Error("Failed to update workflow template",
			zap.String("workflow_id", tpl.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update workflow template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("workflow template not found: %s", tpl.ID)
	}

	return nil
}

// ListActiveByTenant retrieves a tenant's active workflow templates.
func (r *WorkflowRepository) ListActiveByTenant(ctx context.Context, tenantID string) ([]*WorkflowTemplate, error) {
	query := `
		SELECT * FROM workflow_templates
		WHERE tenant_id = $1 AND is_active = true
		ORDER BY created_at DESC`

	var templates []*WorkflowTemplate
	err := r.db.SelectContext(ctx, &templates, query, tenantID)
	if err != nil {
		r.logger.Error("Failed to list workflow templates",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list workflow templates: %w", err)
	}

	return templates, nil
}
