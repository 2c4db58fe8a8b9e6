package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/database"
	"github.com/wealth-ops/filing-engine/internal/filing"
	"github.com/wealth-ops/filing-engine/internal/validation"
)

// fakeFilingService returns canned filings and records lifecycle calls.
type fakeFilingService struct {
	filing           *database.Filing
	validationResult *validation.Result
	submitResult     *database.Filing
	merged           map[string]interface{}
	submitCalls      int
}

func (f *fakeFilingService) Get(_ context.Context, _ string) (*database.Filing, error) {
	return f.filing, nil
}

func (f *fakeFilingService) Validate(_ context.Context, _ string) (*validation.Result, error) {
	return f.validationResult, nil
}

func (f *fakeFilingService) Submit(_ context.Context, _, _ string, _ filing.SubmitOptions) (*database.Filing, error) {
	f.submitCalls++
	return f.submitResult, nil
}

func (f *fakeFilingService) MergeFormData(_ context.Context, _ string, data map[string]interface{}, _ string) (*database.Filing, error) {
	f.merged = data
	return f.filing, nil
}

func qualityCheckRequest(checks ...database.QualityCheck) ActionRequest {
	return ActionRequest{
		TenantID: "tenant-1",
		FilingID: "filing-1",
		Actor:    "automation",
		Template: &database.WorkflowTemplate{QualityChecks: checks},
		Step:     &database.WorkflowStep{StepID: "quality"},
	}
}

func TestQualityCheckExecutor(t *testing.T) {
	ctx := context.Background()
	service := &fakeFilingService{
		filing: &database.Filing{
			FormType: "form_13f",
			Status:   database.FilingStatusDraft,
			FormData: database.JSONMap{
				"summary": map[string]interface{}{"total_value": 250000000.0},
				"holdings": []interface{}{
					map[string]interface{}{"cusip": "0378331005"},
				},
			},
		},
	}
	executor := &QualityCheckExecutor{logger: zap.NewNop(), filings: service}

	t.Run("passing checks succeed", func(t *testing.T) {
		result, err := executor.Execute(ctx, qualityCheckRequest(
			database.QualityCheck{
				Name:       "has holdings",
				Expression: `len(form_data.holdings) > 0`,
				Severity:   "error",
			},
			database.QualityCheck{
				Name:       "total present",
				Expression: `form_data.summary.total_value > 0`,
				Severity:   "error",
			},
		))
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Contains(t, result.Notes, "2 checks evaluated")
	})

	t.Run("error-severity failure blocks", func(t *testing.T) {
		result, err := executor.Execute(ctx, qualityCheckRequest(
			database.QualityCheck{
				Name:       "implausible total",
				Expression: `form_data.summary.total_value < 1000000.0`,
				Severity:   "error",
			},
		))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Notes, "implausible total")
	})

	t.Run("warning-severity failure reports but does not block", func(t *testing.T) {
		result, err := executor.Execute(ctx, qualityCheckRequest(
			database.QualityCheck{
				Name:       "many holdings expected",
				Expression: `len(form_data.holdings) > 100`,
				Severity:   "warning",
			},
		))
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Contains(t, result.Notes, "warnings: many holdings expected")
	})

	t.Run("non-boolean expression is a failure", func(t *testing.T) {
		result, err := executor.Execute(ctx, qualityCheckRequest(
			database.QualityCheck{
				Name:       "broken check",
				Expression: `form_data.summary.total_value`,
				Severity:   "error",
			},
		))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Notes, "broken check")
	})

	t.Run("undefined variables evaluate without compile errors", func(t *testing.T) {
		result, err := executor.Execute(ctx, qualityCheckRequest(
			database.QualityCheck{
				Name:       "optional section",
				Expression: `no_such_variable == nil`,
				Severity:   "error",
			},
		))
		require.NoError(t, err)
		assert.True(t, result.Success)
	})
}

func TestValidationGateExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("valid filing passes the gate", func(t *testing.T) {
		service := &fakeFilingService{
			validationResult: &validation.Result{IsValid: true, CompletionPercentage: 100},
		}
		executor := &ValidationGateExecutor{filings: service}

		result, err := executor.Execute(ctx, ActionRequest{FilingID: "filing-1"})
		require.NoError(t, err)
		assert.True(t, result.Success)
	})

	t.Run("invalid filing blocks the gate", func(t *testing.T) {
		service := &fakeFilingService{
			validationResult: &validation.Result{
				IsValid: false,
				Errors: []validation.FieldError{
					{Section: "cover_page", Field: "cik", Message: "required"},
				},
				CompletionPercentage: 80,
			},
		}
		executor := &ValidationGateExecutor{filings: service}

		result, err := executor.Execute(ctx, ActionRequest{FilingID: "filing-1"})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Notes, "1 errors")
	})
}

func TestSubmitFilingExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("filed status is success with confirmation artifact", func(t *testing.T) {
		confirmation := "CONF-001"
		service := &fakeFilingService{
			submitResult: &database.Filing{
				Status:             database.FilingStatusFiled,
				ConfirmationNumber: &confirmation,
			},
		}
		executor := &SubmitFilingExecutor{filings: service}

		result, err := executor.Execute(ctx, ActionRequest{FilingID: "filing-1", Actor: "automation"})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Contains(t, result.Artifacts, "confirmation:CONF-001")
	})

	t.Run("gateway rejection is an unsuccessful result, not an error", func(t *testing.T) {
		service := &fakeFilingService{
			submitResult: &database.Filing{Status: database.FilingStatusRejected},
		}
		executor := &SubmitFilingExecutor{filings: service}

		result, err := executor.Execute(ctx, ActionRequest{FilingID: "filing-1", Actor: "automation"})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Notes, database.FilingStatusRejected)
	})
}

func TestCollectDataExecutor(t *testing.T) {
	ctx := context.Background()
	service := &fakeFilingService{filing: &database.Filing{}}
	executor := &CollectDataExecutor{logger: zap.NewNop(), filings: service}

	t.Run("merges parameterized data and records sources", func(t *testing.T) {
		result, err := executor.Execute(ctx, ActionRequest{
			FilingID: "filing-1",
			Actor:    "automation",
			Template: &database.WorkflowTemplate{DataSources: []string{"custodian_feed", "portfolio_db"}},
			Parameters: map[string]interface{}{
				"data": map[string]interface{}{"cover_page": map[string]interface{}{"cik": "0001234567"}},
			},
		})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.ElementsMatch(t, []string{"source:custodian_feed", "source:portfolio_db"}, result.Artifacts)
		assert.Contains(t, service.merged, "cover_page")
	})

	t.Run("step parameters override template sources", func(t *testing.T) {
		result, err := executor.Execute(ctx, ActionRequest{
			FilingID: "filing-1",
			Template: &database.WorkflowTemplate{DataSources: []string{"custodian_feed"}},
			Parameters: map[string]interface{}{
				"sources": []interface{}{"manual_upload"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"source:manual_upload"}, result.Artifacts)
	})
}

func TestBuiltinExecutorRegistry(t *testing.T) {
	registry := NewBuiltinExecutorRegistry(zap.NewNop(), &fakeFilingService{})

	for _, actionType := range []string{ActionCollectData, ActionQualityChecks, ActionValidationGate, ActionSubmitFiling} {
		executor, err := registry.Resolve(actionType)
		require.NoError(t, err)
		assert.Equal(t, actionType, executor.ActionType())
	}

	_, err := registry.Resolve("no_such_action")
	assert.Error(t, err)
}
