package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ReminderRepository handles filing reminder data operations
type ReminderRepository struct {
	BaseRepository
	logger *zap.Logger
}

// NewReminderRepository creates a new reminder repository
func NewReminderRepository(db *sqlx.DB, logger *zap.Logger) *ReminderRepository {
	return &ReminderRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create inserts a reminder. Creation is idempotent on the dedupe key: a
// conflicting insert is a no-op and the method reports false, so re-running
// Schedule for the same workflow and due date never duplicates reminders.
func (r *ReminderRepository) Create(ctx context.Context, reminder *FilingReminder) (bool, error) {
	query := `
		INSERT INTO filing_reminders (
			id, tenant_id, workflow_id, execution_id, due_date, reminder_date,
			reminder_type, recipients, dedupe_key, sent, sent_at, created_at
		) VALUES (
			:id, :tenant_id, :workflow_id, :execution_id, :due_date, :reminder_date,
			:reminder_type, :recipients, :dedupe_key, :sent, :sent_at, :created_at
		)
		ON CONFLICT (dedupe_key) DO NOTHING`

	reminder.CreatedAt = time.Now()

	result, err := r.db.NamedExecContext(ctx, query, reminder)
	if err != nil {
		r.logger.Error("Failed to create reminder",
			zap.String("reminder_id", reminder.ID),
			zap.Error(err))
		return false, fmt.Errorf("failed to create reminder: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ListDue retrieves unsent reminders whose reminder date has passed.
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time) ([]*FilingReminder, error) {
	query := `
		SELECT * FROM filing_reminders
		WHERE reminder_date <= $1 AND sent = false
		ORDER BY reminder_date ASC`

	var reminders []*FilingReminder
	err := r.db.SelectContext(ctx, &reminders, query, now)
	if err != nil {
		r.logger.Error("Failed to list due reminders", zap.Error(err))
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}

	return reminders, nil
}

// MarkSent flips a reminder to sent exactly once. The guard on sent = false
// makes the claim safe under concurrent sweeps: only the caller that sees a
// row affected may dispatch.
func (r *ReminderRepository) MarkSent(ctx context.Context, reminderID string, sentAt time.Time) (bool, error) {
	query := `
		UPDATE filing_reminders
		SET sent = true, sent_at = $2
		WHERE id = $1 AND sent = false`

	result, err := r.db.ExecContext(ctx, query, reminderID, sentAt)
	if err != nil {
		r.logger.Error("Failed to mark reminder sent",
			zap.String("reminder_id", reminderID),
			zap.Error(err))
		return false, fmt.Errorf("failed to mark reminder sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ListByExecution retrieves reminders scheduled for a workflow execution.
func (r *ReminderRepository) ListByExecution(ctx context.Context, executionID string) ([]*FilingReminder, error) {
	query := `
		SELECT * FROM filing_reminders
		WHERE execution_id = $1
		ORDER BY reminder_date ASC`

	var reminders []*FilingReminder
	err := r.db.SelectContext(ctx, &reminders, query, executionID)
	if err != nil {
		r.logger.Error("Failed to list reminders by execution",
			zap.String("execution_id", executionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list reminders by execution: %w", err)
	}

	return reminders, nil
}
