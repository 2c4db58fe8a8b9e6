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

// FilingRepository handles filing data operations
type FilingRepository struct {
	BaseRepository
	logger *zap.Logger
}

// NewFilingRepository creates a new filing repository
func NewFilingRepository(db *sqlx.DB, logger *zap.Logger) *FilingRepository {
	return &FilingRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create creates a new filing
func (r *FilingRepository) Create(ctx context.Context, filing *Filing) error {
	query := `
		INSERT INTO filings (
			id, tenant_id, form_type, jurisdiction, reporting_period_end,
			due_date, status, form_data, amendment_number, original_filing_id,
			compliance_checks, audit_trail, attachments, submitted_by,
			submitted_at, filed_at, confirmation_number, submission_id,
			created_at, updated_at
		) VALUES (
			:id, :tenant_id, :form_type, :jurisdiction, :reporting_period_end,
			:due_date, :status, :form_data, :amendment_number, :original_filing_id,
			:compliance_checks, :audit_trail, :attachments, :submitted_by,
			:submitted_at, :filed_at, :confirmation_number, :submission_id,
			:created_at, :updated_at
		)`

	filing.CreatedAt = time.Now()
	filing.UpdatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, query, filing)
	if err != nil {
		r.logger.Error("Failed to create filing",
			zap.String("filing_id", filing.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create filing: %w", err)
	}

	r.logger.Info("Filing created",
		zap.String("filing_id", filing.ID),
		zap.String("form_type", filing.FormType),
		zap.String("tenant_id", filing.TenantID))
	return nil
}

// GetByID retrieves a filing by ID
func (r *FilingRepository) GetByID(ctx context.Context, id string) (*Filing, error) {
	query := `SELECT * FROM filings WHERE id = $1`

	var filing Filing
	err := r.db.GetContext(ctx, &filing, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get filing by ID",
			zap.String("filing_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get filing by ID: %w", err)
	}

	return &filing, nil
}

// Update updates an existing filing
func (r *FilingRepository) Update(ctx context.Context, filing *Filing) error {
	query := `
		UPDATE filings SET
			status = :status,
			form_data = :form_data,
			compliance_checks = :compliance_checks,
			audit_trail = :audit_trail,
			attachments = :attachments,
			submitted_by = :submitted_by,
			submitted_at = :submitted_at,
			filed_at = :filed_at,
			confirmation_number = :confirmation_number,
			submission_id = :submission_id,
			updated_at = :updated_at
		WHERE id = :id`

	filing.UpdatedAt = time.Now()

	result, err := r.db.NamedExecContext(ctx, query, filing)
	if err != nil {
		r.logger.Error("Failed to update filing",
			zap.String("filing_id", filing.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update filing: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("filing not found: %s", filing.ID)
	}

	return nil
}

// ListByTenant retrieves filings for a tenant, optionally filtered by status
// and form type, most recent first.
func (r *FilingRepository) ListByTenant(ctx context.Context, tenantID, status, formType string, limit int) ([]*Filing, error) {
	query := `SELECT * FROM filings WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argIndex := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}
	if formType != "" {
		query += fmt.Sprintf(" AND form_type = $%d", argIndex)
		args = append(args, formType)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	var filings []*Filing
	err := r.db.SelectContext(ctx, &filings, query, args...)
	if err != nil {
		r.logger.Error("Failed to list filings by tenant",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list filings by tenant: %w", err)
	}

	return filings, nil
}

// ListAmendments retrieves the amendment chain of an original filing, oldest
// first.
func (r *FilingRepository) ListAmendments(ctx context.Context, originalFilingID string) ([]*Filing, error) {
	query := `
		SELECT * FROM filings
		WHERE original_filing_id = $1
		ORDER BY amendment_number ASC`

	var filings []*Filing
	err := r.db.SelectContext(ctx, &filings, query, originalFilingID)
	if err != nil {
		r.logger.Error("Failed to list amendments",
			zap.String("original_filing_id", originalFilingID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list amendments: %w", err)
	}

	return filings, nil
}
