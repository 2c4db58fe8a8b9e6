package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// checker accumulates findings for one validation pass and tracks the
// dynamic required-field count used for the completion percentage.
type checker struct {
	errors   []FieldError
	warnings []FieldWarning
	required int
}

func (c *checker) addError(section, field, message string) {
	c.errors = append(c.errors, FieldError{
		Section:  section,
		Field:    field,
		Message:  message,
		Severity: SeverityError,
	})
}

func (c *checker) addWarning(section, field, message string) {
	c.warnings = append(c.warnings, FieldWarning{
		Section: section,
		Field:   field,
		Message: message,
	})
}

// requireString registers a required string field and returns its value, or
// "" with an error recorded when missing or blank.
func (c *checker) requireString(data map[string]interface{}, section, field string) string {
	c.required++
	v, ok := data[field]
	if !ok {
		c.addError(section, field, fmt.Sprintf("%s is required", field))
		return ""
	}
	s, ok := v.(string)
	if !ok || s == "" {
		c.addError(section, field, fmt.Sprintf("%s must be a non-empty string", field))
		return ""
	}
	return s
}

// requirePattern registers a required string field that must match the
// pattern.
func (c *checker) requirePattern(data map[string]interface{}, section, field string, pattern *regexp.Regexp, hint string) string {
	s := c.requireString(data, section, field)
	if s == "" {
		return ""
	}
	if !pattern.MatchString(s) {
		c.addError(section, field, fmt.Sprintf("%s must be %s", field, hint))
		return ""
	}
	return s
}

// requireNumber registers a required numeric field and returns its value with
// a presence flag.
func (c *checker) requireNumber(data map[string]interface{}, section, field string) (float64, bool) {
	c.required++
	v, ok := data[field]
	if !ok {
		c.addError(section, field, fmt.Sprintf("%s is required", field))
		return 0, false
	}
	n, ok := toFloat(v)
	if !ok {
		c.addError(section, field, fmt.Sprintf("%s must be numeric", field))
		return 0, false
	}
	return n, true
}

// requirePositiveNumber is requireNumber plus a > 0 constraint.
func (c *checker) requirePositiveNumber(data map[string]interface{}, section, field string) (float64, bool) {
	n, ok := c.requireNumber(data, section, field)
	if !ok {
		return 0, false
	}
	if n <= 0 {
		c.addError(section, field, fmt.Sprintf("%s must be greater than zero", field))
		return n, false
	}
	return n, true
}

// result assembles the final Result; the threshold analysis is filled in by
// the caller.
func (c *checker) result(analysis ThresholdAnalysis) *Result {
	res := &Result{
		IsValid:              len(c.errors) == 0,
		Errors:               c.errors,
		Warnings:             c.warnings,
		CompletionPercentage: completionPercentage(c.required, len(c.errors)),
		ThresholdAnalysis:    analysis,
	}
	if res.Errors == nil {
		res.Errors = []FieldError{}
	}
	if res.Warnings == nil {
		res.Warnings = []FieldWarning{}
	}
	return res
}

// objectSlice extracts a repeated sub-record field ([]map) tolerating both
// []interface{} (decoded JSON) and []map[string]interface{} (in-process).
func objectSlice(data map[string]interface{}, field string) ([]map[string]interface{}, bool) {
	v, ok := data[field]
	if !ok {
		return nil, false
	}
	switch s := v.(type) {
	case []map[string]interface{}:
		return s, true
	case []interface{}:
		records := make([]map[string]interface{}, 0, len(s))
		for _, item := range s {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, false
			}
			records = append(records, m)
		}
		return records, true
	default:
		return nil, false
	}
}

// object extracts a nested object field.
func object(data map[string]interface{}, field string) (map[string]interface{}, bool) {
	v, ok := data[field]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func numberSlice(v interface{}) ([]float64, bool) {
	switch s := v.(type) {
	case []float64:
		return s, true
	case []interface{}:
		out := make([]float64, 0, len(s))
		for _, item := range s {
			f, ok := toFloat(item)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	default:
		return nil, false
	}
}
