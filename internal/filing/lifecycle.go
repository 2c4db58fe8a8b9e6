package filing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/config"
	"github.com/wealth-ops/filing-engine/internal/database"
	"github.com/wealth-ops/filing-engine/internal/events"
	"github.com/wealth-ops/filing-engine/internal/metrics"
	"github.com/wealth-ops/filing-engine/internal/stats"
	"github.com/wealth-ops/filing-engine/internal/validation"
)

// Store is the persistence contract the lifecycle needs. Implemented by
// database.FilingRepository and by in-memory fakes in tests.
type Store interface {
	Create(ctx context.Context, filing *database.Filing) error
	GetByID(ctx context.Context, id string) (*database.Filing, error)
	Update(ctx context.Context, filing *database.Filing) error
	ListByTenant(ctx context.Context, tenantID, status, formType string, limit int) ([]*database.Filing, error)
}

// PrepareInput is the caller-supplied structure for a new draft filing.
type PrepareInput struct {
	TenantID           string                 `json:"tenant_id"`
	FormType           string                 `json:"form_type"`
	Jurisdiction       string                 `json:"jurisdiction"`
	ReportingPeriodEnd time.Time              `json:"reporting_period_end"`
	DueDate            time.Time              `json:"due_date"`
	FormData           map[string]interface{} `json:"form_data"`
	PreparedBy         string                 `json:"prepared_by"`
}

// Lifecycle drives filings through draft, review, submission and amendment.
// All mutations of a given filing are serialized on a per-id lock, and the
// current status is re-checked under the lock, so concurrent submits cannot
// double-file.
type Lifecycle struct {
	config    *config.Config
	logger    *zap.Logger
	store     Store
	validator *validation.Engine
	gateway   SubmissionGateway
	publisher events.Publisher
	metrics   *metrics.Collector
	locks     KeyedMutex
}

// NewLifecycle creates a filing lifecycle.
func NewLifecycle(
	cfg *config.Config,
	logger *zap.Logger,
	store Store,
	validator *validation.Engine,
	gateway SubmissionGateway,
	publisher events.Publisher,
	collector *metrics.Collector,
) *Lifecycle {
	return &Lifecycle{
		config:    cfg,
		logger:    logger,
		store:     store,
		validator: validator,
		gateway:   gateway,
		publisher: publisher,
		metrics:   collector,
	}
}

// Prepare constructs a draft filing from caller-supplied structured input,
// deriving summary aggregates from itemized line data where the caller has
// not supplied them.
func (l *Lifecycle) Prepare(ctx context.Context, input PrepareInput) (*database.Filing, error) {
	if input.TenantID == "" {
		return nil, NewPrecondition("tenant_id is required")
	}
	if !l.validator.Supports(input.FormType) {
		return nil, NewPrecondition("unsupported form type: %s", input.FormType)
	}
	if input.FormData == nil {
		input.FormData = map[string]interface{}{}
	}

	deriveAggregates(input.FormType, input.FormData)

	now := time.Now()
	filing := &database.Filing{
		ID:                 uuid.NewString(),
		TenantID:           input.TenantID,
		FormType:           input.FormType,
		Jurisdiction:       input.Jurisdiction,
		ReportingPeriodEnd: input.ReportingPeriodEnd,
		DueDate:            input.DueDate,
		Status:             database.FilingStatusDraft,
		FormData:           database.JSONMap(input.FormData),
		ComplianceChecks:   database.ComplianceCheckList{},
		AuditTrail: database.AuditTrail{{
			Action:    "prepared",
			Actor:     input.PreparedBy,
			Timestamp: now,
		}},
		Attachments: []string{},
	}

	if err := l.store.Create(ctx, filing); err != nil {
		return nil, err
	}

	l.metrics.FilingCreated(filing.FormType)
	l.publisher.Publish(events.EventFilingPrepared, filingEventPayload(filing))

	return filing, nil
}

// Get retrieves a filing by id.
func (l *Lifecycle) Get(ctx context.Context, filingID string) (*database.Filing, error) {
	filing, err := l.store.GetByID(ctx, filingID)
	if err != nil {
		return nil, err
	}
	if filing == nil {
		return nil, NewNotFound("filing", filingID)
	}
	return filing, nil
}

// Validate runs the form type's rule set against the filing's current form
// data and, as a side effect, derives the filing status: a valid filing at
// or above the completion cutoff moves to review, anything else stays (or
// returns to) draft. Terminal filings cannot be re-validated.
func (l *Lifecycle) Validate(ctx context.Context, filingID string) (*validation.Result, error) {
	unlock := l.locks.Lock(filingID)
	defer unlock()

	filing, err := l.Get(ctx, filingID)
	if err != nil {
		return nil, err
	}
	if filing.Status != database.FilingStatusDraft && filing.Status != database.FilingStatusReview {
		return nil, NewPrecondition("filing %s is %s and cannot be re-validated", filingID, filing.Status)
	}

	result, err := l.validator.Validate(filing.FormType, filing.Jurisdiction, filing.FormData)
	if err != nil {
		return nil, err
	}

	derived := database.FilingStatusDraft
	if result.IsValid && result.CompletionPercentage >= l.config.Filing.ReviewCompletionPercent {
		derived = database.FilingStatusReview
	}

	if derived != filing.Status {
		filing.Status = derived
		l.appendAudit(filing, "validated", "system",
			fmt.Sprintf("status derived as %s (%.1f%% complete, %d errors)",
				derived, result.CompletionPercentage, len(result.Errors)))
		if err := l.store.Update(ctx, filing); err != nil {
			return nil, err
		}
	}

	l.metrics.FilingValidated(filing.FormType, result.IsValid)
	l.publisher.Publish(events.EventFilingValidated, filingEventPayload(filing))

	return result, nil
}

// Submit re-validates and, if the filing is submittable, sends it through
// the submission gateway. Gateway rejection is recorded on the filing as a
// rejected status plus a compliance-check entry, not surfaced as an error,
// so the caller always observes a terminal, inspectable state.
func (l *Lifecycle) Submit(ctx context.Context, filingID, submittedBy string, opts SubmitOptions) (*database.Filing, error) {
	unlock := l.locks.Lock(filingID)
	defer unlock()

	filing, err := l.Get(ctx, filingID)
	if err != nil {
		return nil, err
	}
	if filing.Status != database.FilingStatusDraft && filing.Status != database.FilingStatusReview {
		return nil, NewPrecondition("filing %s is %s and cannot be submitted", filingID, filing.Status)
	}

	// Fail fast before any network call: invalid data and unmet reporting
	// thresholds never reach the gateway.
	result, err := l.validator.Validate(filing.FormType, filing.Jurisdiction, filing.FormData)
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		return nil, &ValidationError{Result: result}
	}
	if !result.ThresholdAnalysis.ReportingThresholdMet {
		return nil, NewPrecondition(
			"monetary aggregate %.2f is below the reporting threshold %.2f",
			result.ThresholdAnalysis.MonetaryAggregate,
			result.ThresholdAnalysis.ReportingThreshold)
	}

	now := time.Now()
	receipt := l.gateway.Submit(ctx, filing.FormData, opts)
	l.metrics.FilingSubmitted(filing.FormType, receipt.Success, receipt.ProcessingTime)

	filing.SubmittedBy = &submittedBy
	filing.SubmittedAt = &now

	if !receipt.Success {
		filing.Status = database.FilingStatusRejected
		detail := "submission rejected"
		if len(receipt.Errors) > 0 {
			detail = fmt.Sprintf("submission rejected: %v", receipt.Errors)
		}
		filing.ComplianceChecks = append(filing.ComplianceChecks, database.ComplianceCheck{
			CheckType: "gateway_submission",
			Passed:    false,
			Detail:    detail,
			CheckedAt: now,
		})
		l.appendAudit(filing, "rejected", submittedBy, detail)

		if err := l.store.Update(ctx, filing); err != nil {
			return nil, err
		}
		l.publisher.Publish(events.EventFilingRejected, filingEventPayload(filing))

		l.logger.Warn("Filing rejected by gateway",
			zap.String("filing_id", filing.ID),
			zap.Strings("errors", receipt.Errors))
		return filing, nil
	}

	filing.Status = database.FilingStatusFiled
	filing.FiledAt = &now
	if receipt.ConfirmationNumber != "" {
		filing.ConfirmationNumber = &receipt.ConfirmationNumber
	}
	if receipt.SubmissionID != "" {
		filing.SubmissionID = &receipt.SubmissionID
	}
	filing.ComplianceChecks = append(filing.ComplianceChecks, database.ComplianceCheck{
		CheckType: "gateway_submission",
		Passed:    true,
		Detail:    fmt.Sprintf("confirmation %s", receipt.ConfirmationNumber),
		CheckedAt: now,
	})
	l.appendAudit(filing, "filed", submittedBy,
		fmt.Sprintf("filed with confirmation %s", receipt.ConfirmationNumber))

	if err := l.store.Update(ctx, filing); err != nil {
		return nil, err
	}
	l.publisher.Publish(events.EventFilingFiled, filingEventPayload(filing))

	l.logger.Info("Filing filed",
		zap.String("filing_id", filing.ID),
		zap.String("confirmation_number", receipt.ConfirmationNumber),
		zap.Duration("gateway_latency", receipt.ProcessingTime))
	return filing, nil
}

// Amend creates a new draft filing from an original: form data is copied,
// changes applied, identity and submission state reset, and both records
// gain a linking audit entry. The original is otherwise untouched.
func (l *Lifecycle) Amend(ctx context.Context, originalID string, changes map[string]interface{}, reason, amendedBy string) (*database.Filing, error) {
	unlock := l.locks.Lock(originalID)
	defer unlock()

	original, err := l.Get(ctx, originalID)
	if err != nil {
		return nil, err
	}

	formData, err := copyFormData(original.FormData)
	if err != nil {
		return nil, fmt.Errorf("failed to copy form data: %w", err)
	}
	for key, value := range changes {
		formData[key] = value
	}

	now := time.Now()
	amendment := &database.Filing{
		ID:                 uuid.NewString(),
		TenantID:           original.TenantID,
		FormType:           original.FormType,
		Jurisdiction:       original.Jurisdiction,
		ReportingPeriodEnd: original.ReportingPeriodEnd,
		DueDate:            original.DueDate,
		Status:             database.FilingStatusDraft,
		FormData:           formData,
		AmendmentNumber:    original.AmendmentNumber + 1,
		OriginalFilingID:   &originalID,
		ComplianceChecks:   database.ComplianceCheckList{},
		AuditTrail: database.AuditTrail{{
			Action:    "amendment_created",
			Actor:     amendedBy,
			Detail:    fmt.Sprintf("amends %s: %s", originalID, reason),
			Timestamp: now,
		}},
		Attachments: []string{},
	}

	if err := l.store.Create(ctx, amendment); err != nil {
		return nil, err
	}

	l.appendAudit(original, "amended", amendedBy,
		fmt.Sprintf("amendment %s created: %s", amendment.ID, reason))
	if err := l.store.Update(ctx, original); err != nil {
		return nil, err
	}

	l.metrics.FilingCreated(amendment.FormType)
	l.publisher.Publish(events.EventFilingAmended, map[string]interface{}{
		"filing_id":          amendment.ID,
		"original_filing_id": originalID,
		"tenant_id":          amendment.TenantID,
		"amendment_number":   amendment.AmendmentNumber,
		"reason":             reason,
	})

	return amendment, nil
}

// MergeFormData merges collected data into a non-terminal filing's form data
// and derives any still-missing summary aggregates. Used by automated
// data-collection steps.
func (l *Lifecycle) MergeFormData(ctx context.Context, filingID string, data map[string]interface{}, actor string) (*database.Filing, error) {
	unlock := l.locks.Lock(filingID)
	defer unlock()

	filing, err := l.Get(ctx, filingID)
	if err != nil {
		return nil, err
	}
	if filing.Status != database.FilingStatusDraft && filing.Status != database.FilingStatusReview {
		return nil, NewPrecondition("filing %s is %s and cannot accept new data", filingID, filing.Status)
	}

	if filing.FormData == nil {
		filing.FormData = database.JSONMap{}
	}
	keys := make([]string, 0, len(data))
	for key, value := range data {
		filing.FormData[key] = value
		keys = append(keys, key)
	}
	deriveAggregates(filing.FormType, filing.FormData)

	l.appendAudit(filing, "data_collected", actor, fmt.Sprintf("merged fields: %v", keys))
	if err := l.store.Update(ctx, filing); err != nil {
		return nil, err
	}
	return filing, nil
}

func (l *Lifecycle) appendAudit(filing *database.Filing, action, actor, detail string) {
	filing.AuditTrail = append(filing.AuditTrail, database.AuditEntry{
		Action:    action,
		Actor:     actor,
		Detail:    detail,
		Timestamp: time.Now(),
	})
	if max := l.config.Filing.AuditTrailMaxEntries; max > 0 && len(filing.AuditTrail) > max {
		filing.AuditTrail = filing.AuditTrail[len(filing.AuditTrail)-max:]
	}
}

func filingEventPayload(filing *database.Filing) map[string]interface{} {
	return map[string]interface{}{
		"filing_id": filing.ID,
		"tenant_id": filing.TenantID,
		"form_type": filing.FormType,
		"status":    filing.Status,
	}
}

// copyFormData deep-copies form data through a JSON round trip so an
// amendment can never alias the original's nested structures.
func copyFormData(data database.JSONMap) (database.JSONMap, error) {
	if data == nil {
		return database.JSONMap{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out database.JSONMap
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// deriveAggregates fills in summary totals the caller omitted, computed from
// itemized sub-records.
func deriveAggregates(formType string, data map[string]interface{}) {
	switch formType {
	case validation.Form13F:
		deriveTotal(data, "holdings", "value", "total_value")
	case validation.FormPF:
		deriveTotal(data, "funds", "aum", "total_aum")
	case validation.FormADV:
		deriveTotal(data, "accounts", "aum", "regulatory_aum")
	}
}

func deriveTotal(data map[string]interface{}, sliceField, valueField, totalField string) {
	if _, present := data[totalField]; present {
		return
	}
	records, ok := data[sliceField].([]interface{})
	var maps []map[string]interface{}
	if ok {
		for _, r := range records {
			if m, isMap := r.(map[string]interface{}); isMap {
				maps = append(maps, m)
			}
		}
	} else if typed, isTyped := data[sliceField].([]map[string]interface{}); isTyped {
		maps = typed
	} else {
		return
	}

	values := make([]float64, 0, len(maps))
	for _, m := range maps {
		switch v := m[valueField].(type) {
		case float64:
			values = append(values, v)
		case int:
			values = append(values, float64(v))
		}
	}
	data[totalField] = stats.Sum(values)
}

// KeyedMutex serializes operations per entity id. The zero value is ready to
// use.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for the key and returns the unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*entityLock)
	}
	lock, exists := k.locks[key]
	if !exists {
		lock = &entityLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
