// Package notification delivers filing reminders to the responsible roles.
// Delivery is an external concern behind the Notifier interface; the engine
// only decides who gets told what, and when.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/config"
	"github.com/wealth-ops/filing-engine/internal/database"
)

// Notifier delivers one reminder to its recipients.
type Notifier interface {
	NotifyReminder(ctx context.Context, reminder *database.FilingReminder) error
}

// SendGridNotifier sends reminder emails through SendGrid. Recipient entries
// are email addresses; role names without an @ are expanded to role aliases
// on the configured domain.
type SendGridNotifier struct {
	logger *zap.Logger
	client *sendgrid.Client
	from   *mail.Email
	domain string
}

// NewSendGridNotifier creates a SendGrid-backed notifier.
func NewSendGridNotifier(cfg config.EmailConfig, logger *zap.Logger) *SendGridNotifier {
	domain := ""
	if at := strings.LastIndex(cfg.FromAddress, "@"); at >= 0 {
		domain = cfg.FromAddress[at+1:]
	}
	return &SendGridNotifier{
		logger: logger,
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
		from:   mail.NewEmail(cfg.FromName, cfg.FromAddress),
		domain: domain,
	}
}

// NotifyReminder sends the reminder email to every recipient.
func (n *SendGridNotifier) NotifyReminder(ctx context.Context, reminder *database.FilingReminder) error {
	subject, body := reminderContent(reminder)

	for _, recipient := range reminder.Recipients {
		address := recipient
		if !strings.Contains(address, "@") && n.domain != "" {
			address = address + "@" + n.domain
		}

		message := mail.NewSingleEmail(n.from, subject, mail.NewEmail("", address), body, "")
		response, err := n.client.SendWithContext(ctx, message)
		if err != nil {
			return fmt.Errorf("failed to send reminder to %s: %w", address, err)
		}
		if response.StatusCode >= 400 {
			return fmt.Errorf("sendgrid rejected reminder to %s: status %d", address, response.StatusCode)
		}

		n.logger.Debug("Reminder email sent",
			zap.String("reminder_id", reminder.ID),
			zap.String("recipient", address))
	}
	return nil
}

func reminderContent(reminder *database.FilingReminder) (subject, body string) {
	days := int(time.Until(reminder.DueDate).Hours() / 24)
	if reminder.ReminderType == database.ReminderTypeUrgent {
		subject = fmt.Sprintf("URGENT: regulatory filing due %s", reminder.DueDate.Format("2006-01-02"))
	} else {
		subject = fmt.Sprintf("Upcoming regulatory filing due %s", reminder.DueDate.Format("2006-01-02"))
	}
	body = fmt.Sprintf(
		"A regulatory filing for workflow %s is due on %s (%d days from now).\n\nExecution: %s\n",
		reminder.WorkflowID, reminder.DueDate.Format("2006-01-02"), days, reminder.ExecutionID)
	return subject, body
}

// LogNotifier writes reminders to the log instead of sending email. Used
// when email delivery is disabled.
type LogNotifier struct {
	Logger *zap.Logger
}

// NotifyReminder logs the reminder.
func (n *LogNotifier) NotifyReminder(_ context.Context, reminder *database.FilingReminder) error {
	n.Logger.Info("Filing reminder",
		zap.String("reminder_id", reminder.ID),
		zap.String("workflow_id", reminder.WorkflowID),
		zap.String("reminder_type", reminder.ReminderType),
		zap.Time("due_date", reminder.DueDate),
		zap.Strings("recipients", reminder.Recipients))
	return nil
}
