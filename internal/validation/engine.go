package validation

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/config"
)

// Supported form types. The validator registry is closed: adding a form type
// means adding a validator here, not dispatching on arbitrary strings.
const (
	Form13F  = "form_13f"
	FormPF   = "form_pf"
	FormADV  = "form_adv"
	Rule606  = "rule_606"
)

// FormValidator is one form type's rule set. Implementations must evaluate
// every rule (no short-circuiting) so a single pass surfaces all violations.
type FormValidator interface {
	FormType() string
	Validate(data map[string]interface{}, rctx RuleContext) *Result
}

// RuleContext carries the tunable constants a rule set needs.
type RuleContext struct {
	Jurisdiction string
	// Monetary aggregate at which the reporting obligation activates.
	ReportingThreshold float64
	// Monetary aggregate at which optional sections become mandatory.
	SectionThreshold float64
	// Relative tolerance for cross-field reconciliation, e.g. 0.01.
	ReconciliationTolerance float64
	// HHI level above which concentration draws a warning.
	ConcentrationHHI float64
}

// Engine validates filing form data against per-form-type rule sets
type Engine struct {
	config     *config.Config
	logger     *zap.Logger
	validators map[string]FormValidator
}

// NewEngine creates a validation engine with the built-in form validators
// registered.
func NewEngine(cfg *config.Config, logger *zap.Logger) *Engine {
	engine := &Engine{
		config:     cfg,
		logger:     logger,
		validators: make(map[string]FormValidator),
	}

	for _, v := range []FormValidator{
		&form13FValidator{},
		&formPFValidator{},
		&formADVValidator{},
		&rule606Validator{},
	} {
		engine.validators[v.FormType()] = v
	}

	return engine
}

// Supports reports whether a validator is registered for the form type.
func (e *Engine) Supports(formType string) bool {
	_, exists := e.validators[formType]
	return exists
}

// SupportedFormTypes returns the registered form types.
func (e *Engine) SupportedFormTypes() []string {
	types := make([]string, 0, len(e.validators))
	for t := range e.validators {
		types = append(types, t)
	}
	return types
}

// Validate runs the form type's rule set against the form data and returns
// the full result. Unknown form types are a caller error, not a validation
// finding.
func (e *Engine) Validate(formType, jurisdiction string, data map[string]interface{}) (*Result, error) {
	validator, exists := e.validators[formType]
	if !exists {
		return nil, fmt.Errorf("unsupported form type: %s", formType)
	}

	rctx := RuleContext{
		Jurisdiction:            jurisdiction,
		ReportingThreshold:      e.config.ReportingThreshold(formType, jurisdiction),
		SectionThreshold:        e.config.SectionThreshold(formType, jurisdiction),
		ReconciliationTolerance: e.config.Filing.ReconciliationTolerance,
		ConcentrationHHI:        e.config.Thresholds.ConcentrationHHI,
	}

	result := validator.Validate(data, rctx)
	result.IsValid = len(result.Errors) == 0

	e.logger.Debug("Form data validated",
		zap.String("form_type", formType),
		zap.String("jurisdiction", jurisdiction),
		zap.Bool("is_valid", result.IsValid),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Float64("completion", result.CompletionPercentage))

	return result, nil
}

// completionPercentage computes max(0, (required-errors)/required*100). The
// denominator is recomputed per call because required field counts scale
// with repeated sub-records.
func completionPercentage(requiredFields, errorCount int) float64 {
	if requiredFields == 0 {
		return 100
	}
	pct := float64(requiredFields-errorCount) / float64(requiredFields) * 100
	return math.Max(0, pct)
}
