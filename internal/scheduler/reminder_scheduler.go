// Package scheduler computes and dispatches due-date-relative filing
// reminders. Scheduling is idempotent per (workflow, reminder date,
// recipients), and dispatch claims each reminder exactly once, so both sides
// tolerate retries and overlapping sweeps.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/config"
	"github.com/wealth-ops/filing-engine/internal/database"
	"github.com/wealth-ops/filing-engine/internal/events"
	"github.com/wealth-ops/filing-engine/internal/metrics"
	"github.com/wealth-ops/filing-engine/internal/notification"
)

// ReminderStore is the persistence contract for reminders.
type ReminderStore interface {
	// Create inserts the reminder unless one with the same dedupe key
	// already exists; it reports whether a row was inserted.
	Create(ctx context.Context, reminder *database.FilingReminder) (bool, error)
	ListDue(ctx context.Context, now time.Time) ([]*database.FilingReminder, error)
	// MarkSent claims the reminder for sending; it reports whether this
	// caller won the claim.
	MarkSent(ctx context.Context, reminderID string, sentAt time.Time) (bool, error)
}

// ReminderScheduler materializes a template's reminder rules into
// FilingReminder rows and sweeps due rows on a cron schedule.
type ReminderScheduler struct {
	config    *config.Config
	logger    *zap.Logger
	store     ReminderStore
	notifier  notification.Notifier
	publisher events.Publisher
	metrics   *metrics.Collector
	cron      *cron.Cron
}

// NewReminderScheduler creates a reminder scheduler. Start must be called to
// begin the background dispatch sweep.
func NewReminderScheduler(
	cfg *config.Config,
	logger *zap.Logger,
	store ReminderStore,
	notifier notification.Notifier,
	publisher events.Publisher,
	collector *metrics.Collector,
) *ReminderScheduler {
	return &ReminderScheduler{
		config:    cfg,
		logger:    logger,
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		metrics:   collector,
		cron:      cron.New(cron.WithSeconds()),
	}
}

// Schedule creates one reminder per rule on the template's schedule, dated
// relative to the execution's due date. Rules within the urgent window are
// tagged urgent. Re-initiating the same workflow for the same due date
// creates no duplicates: the dedupe key covers workflow, reminder date and
// recipients.
func (s *ReminderScheduler) Schedule(ctx context.Context, tpl *database.WorkflowTemplate, exec *database.WorkflowExecution) error {
	for _, rule := range tpl.Schedule.Reminders {
		reminderDate := exec.DueDate.AddDate(0, 0, -rule.DaysBeforeDue)

		reminderType := database.ReminderTypeInitial
		if rule.DaysBeforeDue <= s.config.Scheduler.UrgentThresholdDays {
			reminderType = database.ReminderTypeUrgent
		}

		reminder := &database.FilingReminder{
			ID:           uuid.NewString(),
			TenantID:     exec.TenantID,
			WorkflowID:   tpl.ID,
			ExecutionID:  exec.ID,
			DueDate:      exec.DueDate,
			ReminderDate: reminderDate,
			ReminderType: reminderType,
			Recipients:   rule.RecipientRoles,
			DedupeKey:    dedupeKey(tpl.ID, reminderDate, rule.RecipientRoles),
		}

		created, err := s.store.Create(ctx, reminder)
		if err != nil {
			return fmt.Errorf("failed to schedule reminder: %w", err)
		}
		if !created {
			s.logger.Debug("Reminder already scheduled",
				zap.String("workflow_id", tpl.ID),
				zap.Time("reminder_date", reminderDate))
			continue
		}

		s.metrics.ReminderScheduled()
		s.logger.Info("Reminder scheduled",
			zap.String("reminder_id", reminder.ID),
			zap.String("workflow_id", tpl.ID),
			zap.String("reminder_type", reminderType),
			zap.Time("reminder_date", reminderDate))
	}
	return nil
}

// DispatchDue sends every unsent reminder whose date has arrived. Each
// reminder is claimed through a compare-and-set before sending, so a
// concurrent or repeated sweep sends at most once. Returns the number
// dispatched.
func (s *ReminderScheduler) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due reminders: %w", err)
	}

	dispatched := 0
	for _, reminder := range due {
		claimed, err := s.store.MarkSent(ctx, reminder.ID, now)
		if err != nil {
			s.logger.Error("Failed to claim reminder",
				zap.String("reminder_id", reminder.ID),
				zap.Error(err))
			continue
		}
		if !claimed {
			// Another sweep got there first.
			continue
		}

		if err := s.notifier.NotifyReminder(ctx, reminder); err != nil {
			// The claim stands: at-most-once delivery means a failed send is
			// lost rather than risking a duplicate.
			s.logger.Error("Failed to deliver reminder",
				zap.String("reminder_id", reminder.ID),
				zap.Error(err))
			continue
		}

		dispatched++
		s.metrics.ReminderDispatched()
		s.publisher.Publish(events.EventReminderSent, map[string]interface{}{
			"reminder_id":   reminder.ID,
			"tenant_id":     reminder.TenantID,
			"workflow_id":   reminder.WorkflowID,
			"execution_id":  reminder.ExecutionID,
			"reminder_type": reminder.ReminderType,
			"due_date":      reminder.DueDate,
		})
	}

	if len(due) > 0 {
		s.logger.Info("Reminder sweep finished",
			zap.Int("due", len(due)),
			zap.Int("dispatched", dispatched))
	}
	return dispatched, nil
}

// Start begins the cron-driven dispatch sweep.
func (s *ReminderScheduler) Start() error {
	_, err := s.cron.AddFunc(s.config.Scheduler.DispatchSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Scheduler.DispatchTimeout)
		defer cancel()
		if _, err := s.DispatchDue(ctx, time.Now()); err != nil {
			s.logger.Error("Reminder sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reminder sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Reminder scheduler started",
		zap.String("schedule", s.config.Scheduler.DispatchSchedule))
	return nil
}

// Stop stops the cron scheduler and waits for an in-flight sweep to finish.
func (s *ReminderScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Reminder scheduler stopped")
}

// dedupeKey identifies a reminder by workflow, date and recipient set,
// independent of recipient ordering.
func dedupeKey(workflowID string, reminderDate time.Time, recipients []string) string {
	sorted := append([]string(nil), recipients...)
	sort.Strings(sorted)
	return fmt.Sprintf("%s|%s|%s", workflowID, reminderDate.UTC().Format("2006-01-02"), strings.Join(sorted, ","))
}
