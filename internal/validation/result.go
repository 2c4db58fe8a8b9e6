package validation

// Severities for validation findings
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// FieldError is a rule violation that blocks submission.
type FieldError struct {
	Section  string `json:"section"`
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// FieldWarning is a finding the filer should review but that does not block
// submission.
type FieldWarning struct {
	Section string `json:"section"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ThresholdAnalysis carries the derived flags for monetary/size thresholds
// that change reporting obligations.
type ThresholdAnalysis struct {
	MonetaryAggregate     float64  `json:"monetary_aggregate"`
	ReportingThreshold    float64  `json:"reporting_threshold"`
	ReportingThresholdMet bool     `json:"reporting_threshold_met"`
	SectionThreshold      float64  `json:"section_threshold,omitempty"`
	RequiredSections      []string `json:"required_sections,omitempty"`
}

// Result is the outcome of validating a filing's form data. It is a pure
// function of the form data: the same input always yields the same result.
type Result struct {
	IsValid              bool              `json:"is_valid"`
	Errors               []FieldError      `json:"errors"`
	Warnings             []FieldWarning    `json:"warnings"`
	CompletionPercentage float64           `json:"completion_percentage"`
	ThresholdAnalysis    ThresholdAnalysis `json:"threshold_analysis"`
}
