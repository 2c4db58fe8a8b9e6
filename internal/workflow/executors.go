package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/database"
	"github.com/wealth-ops/filing-engine/internal/filing"
	"github.com/wealth-ops/filing-engine/internal/validation"
)

// Built-in automated action types.
const (
	ActionCollectData    = "collect_data"
	ActionQualityChecks  = "quality_checks"
	ActionValidationGate = "validation_gate"
	ActionSubmitFiling   = "submit_filing"
)

// ActionRequest is the context an executor receives for one automated step.
type ActionRequest struct {
	TenantID   string
	FilingID   string
	Actor      string
	Template   *database.WorkflowTemplate
	Step       *database.WorkflowStep
	Parameters map[string]interface{}
}

// ActionResult is the outcome of one automated step execution. A result with
// Success == false and no error means the action ran but its business check
// did not pass.
type ActionResult struct {
	Success   bool
	Notes     string
	Artifacts []string
}

// Executor runs one kind of automated step action.
type Executor interface {
	ActionType() string
	Execute(ctx context.Context, req ActionRequest) (*ActionResult, error)
}

// FilingService is the slice of the filing lifecycle the built-in executors
// drive.
type FilingService interface {
	Get(ctx context.Context, filingID string) (*database.Filing, error)
	Validate(ctx context.Context, filingID string) (*validation.Result, error)
	Submit(ctx context.Context, filingID, submittedBy string, opts filing.SubmitOptions) (*database.Filing, error)
	MergeFormData(ctx context.Context, filingID string, data map[string]interface{}, actor string) (*database.Filing, error)
}

// ExecutorRegistry resolves action type strings to executors. The registry is
// populated at startup; Register after that point is safe but unusual.
type ExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewExecutorRegistry creates an empty executor registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{executors: make(map[string]Executor)}
}

// NewBuiltinExecutorRegistry creates a registry with the built-in executors
// registered against the given filing service.
func NewBuiltinExecutorRegistry(logger *zap.Logger, filings FilingService) *ExecutorRegistry {
	registry := NewExecutorRegistry()
	registry.Register(&CollectDataExecutor{logger: logger, filings: filings})
	registry.Register(&QualityCheckExecutor{logger: logger, filings: filings})
	registry.Register(&ValidationGateExecutor{filings: filings})
	registry.Register(&SubmitFilingExecutor{filings: filings})
	return registry
}

// Register adds an executor, replacing any previous executor for the same
// action type.
func (r *ExecutorRegistry) Register(executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[executor.ActionType()] = executor
}

// Resolve returns the executor for the action type.
func (r *ExecutorRegistry) Resolve(actionType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, exists := r.executors[actionType]
	if !exists {
		return nil, fmt.Errorf("no executor registered for action type %q", actionType)
	}
	return executor, nil
}

// CollectDataExecutor merges step-parameterized data into the target filing.
// The sources named on the template (or overridden per step) are recorded as
// artifacts so reviewers can see where the numbers came from.
type CollectDataExecutor struct {
	logger  *zap.Logger
	filings FilingService
}

func (e *CollectDataExecutor) ActionType() string { return ActionCollectData }

func (e *CollectDataExecutor) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	sources := req.Template.DataSources
	if override, ok := req.Parameters["sources"].([]interface{}); ok {
		sources = sources[:0:0]
		for _, s := range override {
			if name, isString := s.(string); isString {
				sources = append(sources, name)
			}
		}
	}

	data, _ := req.Parameters["data"].(map[string]interface{})
	if len(data) > 0 {
		if _, err := e.filings.MergeFormData(ctx, req.FilingID, data, req.Actor); err != nil {
			return nil, err
		}
	}

	artifacts := make([]string, 0, len(sources))
	for _, source := range sources {
		artifacts = append(artifacts, "source:"+source)
	}

	e.logger.Debug("Data collection completed",
		zap.String("filing_id", req.FilingID),
		zap.Strings("sources", sources),
		zap.Int("fields", len(data)))

	return &ActionResult{
		Success:   true,
		Notes:     fmt.Sprintf("collected %d fields from %d sources", len(data), len(sources)),
		Artifacts: artifacts,
	}, nil
}

// QualityCheckExecutor evaluates the template's expression-based quality
// rules against the filing's form data. Error-severity failures make the
// step unsuccessful; warning-severity failures are reported in the notes but
// do not block.
type QualityCheckExecutor struct {
	logger  *zap.Logger
	filings FilingService

	mu       sync.Mutex
	programs map[string]*vm.Program
}

func (e *QualityCheckExecutor) ActionType() string { return ActionQualityChecks }

func (e *QualityCheckExecutor) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	target, err := e.filings.Get(ctx, req.FilingID)
	if err != nil {
		return nil, err
	}

	env := map[string]interface{}{
		"form_data": map[string]interface{}(target.FormData),
		"form_type": target.FormType,
		"status":    target.Status,
	}

	var failures, warnings []string
	for _, check := range req.Template.QualityChecks {
		passed, evalErr := e.evaluate(check.Expression, env)
		if evalErr != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", check.Name, evalErr))
			continue
		}
		if passed {
			continue
		}
		if check.Severity == "warning" {
			warnings = append(warnings, check.Name)
		} else {
			failures = append(failures, check.Name)
		}
	}

	notes := fmt.Sprintf("%d checks evaluated", len(req.Template.QualityChecks))
	if len(warnings) > 0 {
		notes += "; warnings: " + strings.Join(warnings, ", ")
	}
	if len(failures) > 0 {
		notes += "; failed: " + strings.Join(failures, ", ")
		return &ActionResult{Success: false, Notes: notes}, nil
	}
	return &ActionResult{Success: true, Notes: notes}, nil
}

// evaluate compiles (and caches) the expression and runs it against the
// environment. A quality expression must evaluate to a boolean.
func (e *QualityCheckExecutor) evaluate(expression string, env map[string]interface{}) (bool, error) {
	e.mu.Lock()
	if e.programs == nil {
		e.programs = make(map[string]*vm.Program)
	}
	program, cached := e.programs[expression]
	e.mu.Unlock()

	if !cached {
		compiled, err := expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return false, fmt.Errorf("compile: %w", err)
		}
		e.mu.Lock()
		e.programs[expression] = compiled
		e.mu.Unlock()
		program = compiled
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}
	passed, isBool := output.(bool)
	if !isBool {
		return false, fmt.Errorf("expression returned %T, want bool", output)
	}
	return passed, nil
}

// ValidationGateExecutor runs full form validation against the target filing
// and blocks the workflow when the filing is not yet valid.
type ValidationGateExecutor struct {
	filings FilingService
}

func (e *ValidationGateExecutor) ActionType() string { return ActionValidationGate }

func (e *ValidationGateExecutor) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	result, err := e.filings.Validate(ctx, req.FilingID)
	if err != nil {
		return nil, err
	}
	notes := fmt.Sprintf("%d errors, %d warnings, %.1f%% complete",
		len(result.Errors), len(result.Warnings), result.CompletionPercentage)
	return &ActionResult{Success: result.IsValid, Notes: notes}, nil
}

// SubmitFilingExecutor drives the filing submission through the lifecycle.
// A gateway rejection is an unsuccessful result, not an error.
type SubmitFilingExecutor struct {
	filings FilingService
}

func (e *SubmitFilingExecutor) ActionType() string { return ActionSubmitFiling }

func (e *SubmitFilingExecutor) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	opts := filing.SubmitOptions{}
	if test, ok := req.Parameters["test_filing"].(bool); ok {
		opts.TestFiling = test
	}
	if expedited, ok := req.Parameters["expedited_processing"].(bool); ok {
		opts.ExpeditedProcessing = expedited
	}

	submitted, err := e.filings.Submit(ctx, req.FilingID, req.Actor, opts)
	if err != nil {
		return nil, err
	}
	if submitted.Status != database.FilingStatusFiled {
		return &ActionResult{
			Success: false,
			Notes:   fmt.Sprintf("submission rejected, filing status %s", submitted.Status),
		}, nil
	}
	confirmation := ""
	if submitted.ConfirmationNumber != nil {
		confirmation = *submitted.ConfirmationNumber
	}
	return &ActionResult{
		Success:   true,
		Notes:     fmt.Sprintf("filed with confirmation %s", confirmation),
		Artifacts: []string{"confirmation:" + confirmation},
	}, nil
}
