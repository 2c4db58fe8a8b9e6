package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/database"
	"github.com/wealth-ops/filing-engine/internal/filing"
)

// TemplateStore is the persistence contract for workflow templates.
type TemplateStore interface {
	Create(ctx context.Context, tpl *database.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*database.WorkflowTemplate, error)
	Update(ctx context.Context, tpl *database.WorkflowTemplate) error
	ListActiveByTenant(ctx context.Context, tenantID string) ([]*database.WorkflowTemplate, error)
}

// Registry validates and stores workflow templates. Structural problems in a
// template — dangling dependency references, cycles, automated steps with no
// action — are rejected at registration time so executions never have to
// cope with a malformed graph.
type Registry struct {
	logger *zap.Logger
	store  TemplateStore
}

// NewRegistry creates a template registry.
func NewRegistry(logger *zap.Logger, store TemplateStore) *Registry {
	return &Registry{logger: logger, store: store}
}

// Register validates the template and persists it. An empty id is assigned.
func (r *Registry) Register(ctx context.Context, tpl *database.WorkflowTemplate) error {
	if tpl.TenantID == "" {
		return filing.NewPrecondition("template tenant_id is required")
	}
	if len(tpl.Steps) == 0 {
		return filing.NewPrecondition("template %q has no steps", tpl.Name)
	}
	if err := validateGraph(tpl.Steps); err != nil {
		return filing.NewPrecondition("template %q: %v", tpl.Name, err)
	}
	for _, step := range tpl.Steps {
		if step.StepType == database.StepTypeAutomated && step.AutomatedAction == nil {
			return filing.NewPrecondition("automated step %q has no action", step.StepID)
		}
	}

	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if err := r.store.Create(ctx, tpl); err != nil {
		return err
	}

	r.logger.Info("Workflow template registered",
		zap.String("workflow_id", tpl.ID),
		zap.String("tenant_id", tpl.TenantID),
		zap.String("form_type", tpl.FormType),
		zap.Int("steps", len(tpl.Steps)))
	return nil
}

// Get retrieves a template by id.
func (r *Registry) Get(ctx context.Context, workflowID string) (*database.WorkflowTemplate, error) {
	tpl, err := r.store.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, filing.NewNotFound("workflow template", workflowID)
	}
	return tpl, nil
}

// ListActive returns the tenant's active templates.
func (r *Registry) ListActive(ctx context.Context, tenantID string) ([]*database.WorkflowTemplate, error) {
	return r.store.ListActiveByTenant(ctx, tenantID)
}

// Deactivate marks a template inactive so it can no longer be initiated.
// Running executions are unaffected.
func (r *Registry) Deactivate(ctx context.Context, workflowID string) error {
	tpl, err := r.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if !tpl.IsActive {
		return nil
	}
	tpl.IsActive = false
	tpl.UpdatedAt = time.Now()
	return r.store.Update(ctx, tpl)
}
