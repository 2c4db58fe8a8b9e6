package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/wealth-ops/filing-engine/internal/config"
)

// Filing statuses
const (
	FilingStatusDraft    = "draft"
	FilingStatusReview   = "review"
	FilingStatusFiled    = "filed"
	FilingStatusRejected = "rejected"
)

// Workflow execution statuses
const (
	ExecutionStatusPending    = "pending"
	ExecutionStatusInProgress = "in_progress"
	ExecutionStatusCompleted  = "completed"
	ExecutionStatusFailed     = "failed"
)

// Step statuses
const (
	StepStatusPending    = "pending"
	StepStatusInProgress = "in_progress"
	StepStatusCompleted  = "completed"
	StepStatusFailed     = "failed"
	StepStatusSkipped    = "skipped"
)

// Step types
const (
	StepTypeManual    = "manual"
	StepTypeAutomated = "automated"
	StepTypeApproval  = "approval"
)

// Reminder types
const (
	ReminderTypeInitial = "initial"
	ReminderTypeUrgent  = "urgent"
)

// Connect establishes a database connection
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RunMigrations runs database migrations
func RunMigrations(cfg config.DatabaseConfig) error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BaseRepository holds common repository functionality
type BaseRepository struct {
	db *sqlx.DB
}

// Filing represents a single regulatory submission instance
type Filing struct {
	ID                 string               `db:"id" json:"id"`
	TenantID           string               `db:"tenant_id" json:"tenant_id"`
	FormType           string               `db:"form_type" json:"form_type"`
	Jurisdiction       string               `db:"jurisdiction" json:"jurisdiction"`
	ReportingPeriodEnd time.Time            `db:"reporting_period_end" json:"reporting_period_end"`
	DueDate            time.Time            `db:"due_date" json:"due_date"`
	Status             string               `db:"status" json:"status"`
	FormData           JSONMap              `db:"form_data" json:"form_data"`
	AmendmentNumber    int                  `db:"amendment_number" json:"amendment_number"`
	OriginalFilingID   *string              `db:"original_filing_id" json:"original_filing_id,omitempty"`
	ComplianceChecks   ComplianceCheckList  `db:"compliance_checks" json:"compliance_checks"`
	AuditTrail         AuditTrail           `db:"audit_trail" json:"audit_trail"`
	Attachments        pq.StringArray       `db:"attachments" json:"attachments"`
	SubmittedBy        *string              `db:"submitted_by" json:"submitted_by,omitempty"`
	SubmittedAt        *time.Time           `db:"submitted_at" json:"submitted_at,omitempty"`
	FiledAt            *time.Time           `db:"filed_at" json:"filed_at,omitempty"`
	ConfirmationNumber *string              `db:"confirmation_number" json:"confirmation_number,omitempty"`
	SubmissionID       *string              `db:"submission_id" json:"submission_id,omitempty"`
	CreatedAt          time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time            `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the filing can no longer be mutated.
func (f *Filing) IsTerminal() bool {
	return f.Status == FilingStatusFiled
}

// ComplianceCheck records the outcome of one compliance control on a filing,
// including gateway rejections.
type ComplianceCheck struct {
	CheckType string    `json:"check_type"`
	Passed    bool      `json:"passed"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// AuditEntry is one immutable line in a filing's audit trail.
type AuditEntry struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowTemplate is a reusable step-graph blueprint for producing a filing
type WorkflowTemplate struct {
	ID              string           `db:"id" json:"id"`
	TenantID        string           `db:"tenant_id" json:"tenant_id"`
	Name            string           `db:"name" json:"name"`
	FormType        string           `db:"form_type" json:"form_type"`
	Jurisdiction    string           `db:"jurisdiction" json:"jurisdiction"`
	IsActive        bool             `db:"is_active" json:"is_active"`
	AutomationLevel string           `db:"automation_level" json:"automation_level"`
	Schedule        ScheduleSpec     `db:"schedule" json:"schedule"`
	Steps           StepList         `db:"steps" json:"steps"`
	Approval        ApprovalSpec     `db:"approval" json:"approval"`
	DataSources     pq.StringArray   `db:"data_sources" json:"data_sources"`
	QualityChecks   QualityCheckList `db:"quality_checks" json:"quality_checks"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// Step returns the step with the given id, or nil.
func (t *WorkflowTemplate) Step(stepID string) *WorkflowStep {
	for i := range t.Steps {
		if t.Steps[i].StepID == stepID {
			return &t.Steps[i]
		}
	}
	return nil
}

// ScheduleSpec describes when a recurring filing obligation falls due and
// which reminders precede it.
type ScheduleSpec struct {
	Frequency string `json:"frequency"` // quarterly | annually | monthly
	// Days after the reporting period end at which the filing is due.
	DueDateOffsetDays int            `json:"due_date_offset_days"`
	Reminders         []ReminderSpec `json:"reminders,omitempty"`
}

// ReminderSpec is one reminder rule relative to the computed due date.
type ReminderSpec struct {
	DaysBeforeDue  int      `json:"days_before_due"`
	RecipientRoles []string `json:"recipient_roles"`
}

// WorkflowStep is a single step in a workflow template's dependency graph.
type WorkflowStep struct {
	StepID                 string           `json:"step_id"`
	Name                   string           `json:"name"`
	StepType               string           `json:"step_type"` // manual | automated | approval
	AssignedRole           string           `json:"assigned_role,omitempty"`
	AutomatedAction        *AutomatedAction `json:"automated_action,omitempty"`
	EstimatedDurationHours int              `json:"estimated_duration_hours"`
	Dependencies           []string         `json:"dependencies,omitempty"`
}

// AutomatedAction names a registered executor and its parameters.
type AutomatedAction struct {
	ActionType string                 `json:"action_type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// ApprovalSpec describes the approval chain for a template's approval steps.
type ApprovalSpec struct {
	Approvers        []Approver `json:"approvers,omitempty"`
	ParallelApproval bool       `json:"parallel_approval"`
}

// Approver is one role in an approval chain.
type Approver struct {
	Role     string `json:"role"`
	Sequence int    `json:"sequence"`
	Required bool   `json:"required"`
}

// QualityCheck is an expression-based data quality rule evaluated by the
// quality-check executor against collected form data.
type QualityCheck struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Severity   string `json:"severity"` // warning | error
}

// WorkflowExecution is one run of a template against a specific filing
type WorkflowExecution struct {
	ID                      string           `db:"id" json:"id"`
	WorkflowID              string           `db:"workflow_id" json:"workflow_id"`
	TenantID                string           `db:"tenant_id" json:"tenant_id"`
	FilingID                string           `db:"filing_id" json:"filing_id"`
	Status                  string           `db:"status" json:"status"`
	CurrentStep             string           `db:"current_step" json:"current_step"`
	InitiatedBy             string           `db:"initiated_by" json:"initiated_by"`
	InitiatedAt             time.Time        `db:"initiated_at" json:"initiated_at"`
	DueDate                 time.Time        `db:"due_date" json:"due_date"`
	ScheduledCompletionDate time.Time        `db:"scheduled_completion_date" json:"scheduled_completion_date"`
	ActualCompletionDate    *time.Time       `db:"actual_completion_date" json:"actual_completion_date,omitempty"`
	StepStatus              StepStatusMap    `db:"step_status" json:"step_status"`
	Issues                  IssueList        `db:"issues" json:"issues"`
	Metrics                 ExecutionMetrics `db:"metrics" json:"metrics"`
	CreatedAt               time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time        `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the execution has finished, successfully or not.
func (e *WorkflowExecution) IsTerminal() bool {
	return e.Status == ExecutionStatusCompleted || e.Status == ExecutionStatusFailed
}

// StepState tracks the live status of one step within an execution.
type StepState struct {
	Status      string     `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
}

// IsTerminal reports whether the step needs no further action.
func (s *StepState) IsTerminal() bool {
	return s.Status == StepStatusCompleted || s.Status == StepStatusSkipped || s.Status == StepStatusFailed
}

// ExecutionIssue records a problem surfaced while driving an execution.
type ExecutionIssue struct {
	StepID   string    `json:"step_id,omitempty"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raised_at"`
}

// ExecutionMetrics holds derived workflow quality and automation metrics.
type ExecutionMetrics struct {
	TotalDurationMinutes *float64           `json:"total_duration_minutes,omitempty"`
	StepDurationsMinutes map[string]float64 `json:"step_durations_minutes,omitempty"`
	AutomationEfficiency float64            `json:"automation_efficiency"`
	QualityScore         float64            `json:"quality_score"`
}

// FilingReminder is a due-date-relative reminder for an active execution
type FilingReminder struct {
	ID           string         `db:"id" json:"id"`
	TenantID     string         `db:"tenant_id" json:"tenant_id"`
	WorkflowID   string         `db:"workflow_id" json:"workflow_id"`
	ExecutionID  string         `db:"execution_id" json:"execution_id"`
	DueDate      time.Time      `db:"due_date" json:"due_date"`
	ReminderDate time.Time      `db:"reminder_date" json:"reminder_date"`
	ReminderType string         `db:"reminder_type" json:"reminder_type"`
	Recipients   pq.StringArray `db:"recipients" json:"recipients"`
	DedupeKey    string         `db:"dedupe_key" json:"dedupe_key"`
	Sent         bool           `db:"sent" json:"sent"`
	SentAt       *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// JSONB column wrappers. Postgres stores these as jsonb; sqlx needs the
// Valuer/Scanner pair on each concrete type.

// JSONMap is a jsonb object column.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error)  { return jsonbValue(m) }
func (m *JSONMap) Scan(value interface{}) error { return jsonbScan(value, m) }

// ComplianceCheckList is a jsonb array of compliance checks.
type ComplianceCheckList []ComplianceCheck

func (l ComplianceCheckList) Value() (driver.Value, error)  { return jsonbValue(l) }
func (l *ComplianceCheckList) Scan(value interface{}) error { return jsonbScan(value, l) }

// AuditTrail is a jsonb array of audit entries.
type AuditTrail []AuditEntry

func (l AuditTrail) Value() (driver.Value, error)  { return jsonbValue(l) }
func (l *AuditTrail) Scan(value interface{}) error { return jsonbScan(value, l) }

// ScheduleSpec jsonb support.
func (s ScheduleSpec) Value() (driver.Value, error)  { return jsonbValue(s) }
func (s *ScheduleSpec) Scan(value interface{}) error { return jsonbScan(value, s) }

// StepList is a jsonb array of workflow steps.
type StepList []WorkflowStep

func (l StepList) Value() (driver.Value, error)  { return jsonbValue(l) }
func (l *StepList) Scan(value interface{}) error { return jsonbScan(value, l) }

// ApprovalSpec jsonb support.
func (s ApprovalSpec) Value() (driver.Value, error)  { return jsonbValue(s) }
func (s *ApprovalSpec) Scan(value interface{}) error { return jsonbScan(value, s) }

// QualityCheckList is a jsonb array of quality checks.
type QualityCheckList []QualityCheck

func (l QualityCheckList) Value() (driver.Value, error)  { return jsonbValue(l) }
func (l *QualityCheckList) Scan(value interface{}) error { return jsonbScan(value, l) }

// StepStatusMap is a jsonb map of step id to step state.
type StepStatusMap map[string]*StepState

func (m StepStatusMap) Value() (driver.Value, error)  { return jsonbValue(m) }
func (m *StepStatusMap) Scan(value interface{}) error { return jsonbScan(value, m) }

// IssueList is a jsonb array of execution issues.
type IssueList []ExecutionIssue

func (l IssueList) Value() (driver.Value, error)  { return jsonbValue(l) }
func (l *IssueList) Scan(value interface{}) error { return jsonbScan(value, l) }

// ExecutionMetrics jsonb support.
func (m ExecutionMetrics) Value() (driver.Value, error)  { return jsonbValue(m) }
func (m *ExecutionMetrics) Scan(value interface{}) error { return jsonbScan(value, m) }

func jsonbValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb value: %w", err)
	}
	return b, nil
}

func jsonbScan(src interface{}, dst interface{}) error {
	if src == nil {
		return nil
	}
	var data []byte
	switch s := src.(type) {
	case []byte:
		data = s
	case string:
		data = []byte(s)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
