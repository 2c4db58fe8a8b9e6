package validation

import (
	"fmt"
	"regexp"

	"github.com/wealth-ops/filing-engine/internal/stats"
)

var crdPattern = regexp.MustCompile(`^\d{1,10}$`)

// Risk statistic bounds for private fund reports. Dispersion above the bound
// is reportable but suspicious; annualized returns outside the plausibility
// band are treated as data errors.
const (
	maxMonthlyReturnDispersion = 0.15
	minPlausibleAnnualReturn   = -0.95
	maxPlausibleAnnualReturn   = 10.0
	monthsPerYear              = 12
)

// formPFValidator validates private-fund risk reports. The obligation
// activates at the private-fund adviser threshold; the large-adviser section
// becomes mandatory above the section threshold.
type formPFValidator struct{}

func (v *formPFValidator) FormType() string { return FormPF }

func (v *formPFValidator) Validate(data map[string]interface{}, rctx RuleContext) *Result {
	c := &checker{}

	c.requirePattern(data, "adviser", "adviser_crd", crdPattern, "a numeric CRD identifier")
	c.requireString(data, "adviser", "adviser_name")
	totalAUM, hasTotal := c.requireNumber(data, "adviser", "total_aum")

	funds, hasFunds := objectSlice(data, "funds")
	c.required++
	if !hasFunds || len(funds) == 0 {
		c.addError("funds", "funds", "at least one fund is required")
	}

	fundAUMs := make([]float64, 0, len(funds))
	for i, fund := range funds {
		section := fmt.Sprintf("funds[%d]", i)
		c.requireString(fund, section, "fund_id")
		c.requireString(fund, section, "fund_name")
		aum, ok := c.requirePositiveNumber(fund, section, "aum")
		if ok {
			fundAUMs = append(fundAUMs, aum)
		}

		// Risk metrics are derived from the monthly return series; the series
		// itself is required for the risk section.
		c.required++
		returnsRaw, present := fund["monthly_returns"]
		if !present {
			c.addError(section, "monthly_returns", "monthly_returns series is required")
			continue
		}
		returns, ok := numberSlice(returnsRaw)
		if !ok {
			c.addError(section, "monthly_returns", "monthly_returns must be a numeric series")
			continue
		}

		if dispersion := stats.Dispersion(returns); dispersion > maxMonthlyReturnDispersion {
			c.addWarning(section, "monthly_returns",
				fmt.Sprintf("monthly return dispersion %.4f exceeds %.2f; verify the series", dispersion, maxMonthlyReturnDispersion))
		}
		annualized := stats.AnnualizedReturn(returns, monthsPerYear)
		if annualized < minPlausibleAnnualReturn || annualized > maxPlausibleAnnualReturn {
			c.addError(section, "monthly_returns",
				fmt.Sprintf("annualized return %.4f is outside the plausible range", annualized))
		}

		if benchRaw, present := fund["benchmark_returns"]; present {
			if bench, ok := numberSlice(benchRaw); ok {
				te := stats.TrackingError(returns, bench, monthsPerYear)
				if te > maxMonthlyReturnDispersion {
					c.addWarning(section, "benchmark_returns",
						fmt.Sprintf("tracking error %.4f vs benchmark exceeds %.2f", te, maxMonthlyReturnDispersion))
				}
			} else {
				c.addWarning(section, "benchmark_returns", "benchmark_returns is not a numeric series; tracking error skipped")
			}
		}
	}

	aggregate := stats.Sum(fundAUMs)

	if hasTotal && len(fundAUMs) > 0 {
		if !stats.WithinTolerance(totalAUM, aggregate, rctx.ReconciliationTolerance) {
			c.addWarning("adviser", "total_aum",
				fmt.Sprintf("reported total AUM %.2f differs from sum of fund AUM %.2f by more than %.0f%%",
					totalAUM, aggregate, rctx.ReconciliationTolerance*100))
		}
	}

	if hhi := stats.HHI(fundAUMs); hhi > rctx.ConcentrationHHI && len(fundAUMs) > 1 {
		c.addWarning("funds", "aum",
			fmt.Sprintf("fund AUM concentration HHI %.0f exceeds %.0f", hhi, rctx.ConcentrationHHI))
	}

	analysis := ThresholdAnalysis{
		MonetaryAggregate:     aggregate,
		ReportingThreshold:    rctx.ReportingThreshold,
		ReportingThresholdMet: rctx.ReportingThreshold == 0 || aggregate >= rctx.ReportingThreshold,
		SectionThreshold:      rctx.SectionThreshold,
	}

	if !analysis.ReportingThresholdMet {
		c.addWarning("adviser", "total_aum",
			fmt.Sprintf("aggregate fund AUM %.2f is below the private-fund reporting threshold %.2f; filing is voluntary",
				aggregate, rctx.ReportingThreshold))
	}

	// Large advisers owe the stress-metrics section.
	if rctx.SectionThreshold > 0 && aggregate >= rctx.SectionThreshold {
		analysis.RequiredSections = append(analysis.RequiredSections, "large_adviser")
		large, ok := object(data, "large_adviser")
		c.required++
		if !ok {
			c.addError("large_adviser", "large_adviser",
				"large_adviser section is required above the large-adviser threshold")
		} else {
			c.requireNumber(large, "large_adviser", "gross_notional_exposure")
			c.requireNumber(large, "large_adviser", "liquidity_days_to_liquidate")
		}
	}

	return c.result(analysis)
}
