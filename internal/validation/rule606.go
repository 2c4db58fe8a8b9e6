package validation

import (
	"fmt"
	"math"

	"github.com/wealth-ops/filing-engine/internal/stats"
)

// Routing percentage columns reported per venue; each must be present and in
// [0, 100], and the non-directed column must sum to 100 across venues.
var routingPercentFields = []string{
	"non_directed_pct",
	"market_order_pct",
	"marketable_limit_pct",
	"non_marketable_limit_pct",
	"other_order_pct",
}

// rule606Validator validates quarterly order-routing execution-quality
// reports. There is no monetary reporting threshold; the obligation is
// unconditional for broker-dealers routing customer orders.
type rule606Validator struct{}

func (v *rule606Validator) FormType() string { return Rule606 }

func (v *rule606Validator) Validate(data map[string]interface{}, rctx RuleContext) *Result {
	c := &checker{}

	c.requireString(data, "cover", "broker_dealer")
	c.requireString(data, "cover", "quarter")

	venues, hasVenues := objectSlice(data, "venues")
	c.required++
	if !hasVenues || len(venues) == 0 {
		c.addError("venues", "venues", "at least one routing venue is required")
	}

	nonDirectedShares := make([]float64, 0, len(venues))
	nonDirectedSum := 0.0
	for i, venue := range venues {
		section := fmt.Sprintf("venues[%d]", i)
		c.requireString(venue, section, "venue_name")
		for _, field := range routingPercentFields {
			pct, ok := c.requireNumber(venue, section, field)
			if ok && (pct < 0 || pct > 100) {
				c.addError(section, field, fmt.Sprintf("%s must be between 0 and 100", field))
			}
			if ok && field == "non_directed_pct" {
				nonDirectedShares = append(nonDirectedShares, pct)
				nonDirectedSum += pct
			}
		}
	}

	// Venue shares must account for all non-directed order flow; the band is
	// one percentage point to absorb rounding.
	if len(nonDirectedShares) > 0 && math.Abs(nonDirectedSum-100) > 1 {
		c.addWarning("venues", "non_directed_pct",
			fmt.Sprintf("non-directed routing percentages sum to %.2f; expected 100", nonDirectedSum))
	}

	if hhi := stats.HHI(nonDirectedShares); hhi > rctx.ConcentrationHHI && len(nonDirectedShares) > 1 {
		c.addWarning("venues", "non_directed_pct",
			fmt.Sprintf("venue concentration HHI %.0f exceeds %.0f", hhi, rctx.ConcentrationHHI))
	}

	analysis := ThresholdAnalysis{
		MonetaryAggregate:     nonDirectedSum,
		ReportingThreshold:    rctx.ReportingThreshold,
		ReportingThresholdMet: rctx.ReportingThreshold == 0 || nonDirectedSum >= rctx.ReportingThreshold,
	}

	return c.result(analysis)
}
