package validation

import (
	"fmt"
	"regexp"

	"github.com/wealth-ops/filing-engine/internal/stats"
)

var (
	cikPattern   = regexp.MustCompile(`^\d{10}$`)
	cusipPattern = regexp.MustCompile(`^[0-9A-Z]{9}$`)
)

// form13FValidator validates quarterly institutional ownership disclosures.
// The reporting obligation activates once the aggregate holdings value
// crosses the 13(f) threshold; below it the filing draws a warning only.
type form13FValidator struct{}

func (v *form13FValidator) FormType() string { return Form13F }

func (v *form13FValidator) Validate(data map[string]interface{}, rctx RuleContext) *Result {
	c := &checker{}

	c.requirePattern(data, "cover_page", "cik", cikPattern, "a 10-digit CIK")
	c.requireString(data, "cover_page", "manager_name")
	c.requireString(data, "cover_page", "reporting_period")
	totalValue, hasTotal := c.requireNumber(data, "summary", "total_value")

	holdings, hasHoldings := objectSlice(data, "holdings")
	c.required++
	if !hasHoldings || len(holdings) == 0 {
		c.addError("holdings", "holdings", "at least one holding is required")
	}

	holdingValues := make([]float64, 0, len(holdings))
	for i, holding := range holdings {
		section := fmt.Sprintf("holdings[%d]", i)
		c.requireString(holding, section, "issuer")
		c.requirePattern(holding, section, "cusip", cusipPattern, "a 9-character alphanumeric CUSIP")
		value, ok := c.requirePositiveNumber(holding, section, "value")
		c.requirePositiveNumber(holding, section, "shares")
		if ok {
			holdingValues = append(holdingValues, value)
		}
	}

	aggregate := stats.Sum(holdingValues)

	// Reported total must reconcile with the itemized holdings within the
	// tolerance band. The total being absent entirely is already an error.
	if hasTotal && len(holdingValues) > 0 {
		if !stats.WithinTolerance(totalValue, aggregate, rctx.ReconciliationTolerance) {
			c.addWarning("summary", "total_value",
				fmt.Sprintf("reported total %.2f differs from sum of holdings %.2f by more than %.0f%%",
					totalValue, aggregate, rctx.ReconciliationTolerance*100))
		}
	}

	analysis := ThresholdAnalysis{
		MonetaryAggregate:     aggregate,
		ReportingThreshold:    rctx.ReportingThreshold,
		ReportingThresholdMet: rctx.ReportingThreshold == 0 || aggregate >= rctx.ReportingThreshold,
	}

	if !analysis.ReportingThresholdMet {
		c.addWarning("summary", "total_value",
			fmt.Sprintf("aggregate holdings value %.2f is below the 13(f) reporting threshold %.2f; filing is voluntary",
				aggregate, rctx.ReportingThreshold))
	} else if rctx.ReportingThreshold > 0 {
		// Above the threshold the other-managers section is mandatory.
		analysis.RequiredSections = append(analysis.RequiredSections, "other_managers")
		other, ok := object(data, "other_managers")
		c.required++
		if !ok {
			c.addError("other_managers", "other_managers",
				"other_managers section is required above the 13(f) threshold")
		} else {
			c.requireString(other, "other_managers", "disclosure_basis")
		}
	}

	return c.result(analysis)
}
