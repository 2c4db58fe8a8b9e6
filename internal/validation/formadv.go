package validation

import (
	"fmt"

	"github.com/wealth-ops/filing-engine/internal/stats"
)

// formADVValidator validates adviser registration filings. Custody of client
// assets cascades the custody section into the required set.
type formADVValidator struct{}

func (v *formADVValidator) FormType() string { return FormADV }

func (v *formADVValidator) Validate(data map[string]interface{}, rctx RuleContext) *Result {
	c := &checker{}

	c.requirePattern(data, "identifying", "crd_number", crdPattern, "a numeric CRD identifier")
	c.requireString(data, "identifying", "firm_name")
	c.requireString(data, "identifying", "principal_office_state")
	regulatoryAUM, hasAUM := c.requireNumber(data, "item_5", "regulatory_aum")

	accounts, hasAccounts := objectSlice(data, "accounts")
	c.required++
	if !hasAccounts || len(accounts) == 0 {
		c.addError("item_5", "accounts", "at least one account category is required")
	}

	accountAUMs := make([]float64, 0, len(accounts))
	for i, account := range accounts {
		section := fmt.Sprintf("accounts[%d]", i)
		c.requireString(account, section, "account_type")
		c.requirePositiveNumber(account, section, "count")
		aum, ok := c.requireNumber(account, section, "aum")
		if ok {
			accountAUMs = append(accountAUMs, aum)
		}
	}

	aggregate := stats.Sum(accountAUMs)

	if hasAUM && len(accountAUMs) > 0 {
		if !stats.WithinTolerance(regulatoryAUM, aggregate, rctx.ReconciliationTolerance) {
			c.addWarning("item_5", "regulatory_aum",
				fmt.Sprintf("regulatory AUM %.2f differs from sum of account AUM %.2f by more than %.0f%%",
					regulatoryAUM, aggregate, rctx.ReconciliationTolerance*100))
		}
	}

	analysis := ThresholdAnalysis{
		MonetaryAggregate:     aggregate,
		ReportingThreshold:    rctx.ReportingThreshold,
		ReportingThresholdMet: rctx.ReportingThreshold == 0 || aggregate >= rctx.ReportingThreshold,
	}

	if !analysis.ReportingThresholdMet {
		c.addWarning("item_5", "regulatory_aum",
			fmt.Sprintf("regulatory AUM %.2f is below the registration threshold %.2f; state registration may apply instead",
				aggregate, rctx.ReportingThreshold))
	}

	// Custody cascade: holding client assets makes the custody section
	// mandatory.
	if custody, ok := object(data, "custody"); ok {
		if hasCustody, _ := custody["has_custody"].(bool); hasCustody {
			analysis.RequiredSections = append(analysis.RequiredSections, "custody")
			c.requireString(custody, "custody", "qualified_custodian")
			c.requireString(custody, "custody", "surprise_exam_date")
		}
	}

	return c.result(analysis)
}
