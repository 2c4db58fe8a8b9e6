package validation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Filing: config.FilingConfig{
			ReviewCompletionPercent: 95,
			ReconciliationTolerance: 0.01,
		},
		Thresholds: config.ThresholdsConfig{
			Reporting: map[string]float64{
				"form_13f.default": 100_000_000,
				"form_pf.default":  150_000_000,
				"form_adv.default": 25_000_000,
				"rule_606.default": 0,
			},
			Section: map[string]float64{
				"form_pf.default": 1_500_000_000,
			},
			ConcentrationHHI: 2500,
		},
	}
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(testConfig(), zap.NewNop())
}

func valid13FData(total float64, holdingCount int) map[string]interface{} {
	holdings := make([]map[string]interface{}, holdingCount)
	per := total / float64(holdingCount)
	for i := range holdings {
		holdings[i] = map[string]interface{}{
			"issuer": fmt.Sprintf("Issuer %d", i),
			"cusip":  fmt.Sprintf("03783310%d", i),
			"value":  per,
			"shares": 1000.0,
		}
	}
	return map[string]interface{}{
		"cik":              "0001234567",
		"manager_name":     "Granite Peak Advisors",
		"reporting_period": "2024-Q2",
		"total_value":      total,
		"holdings":         holdings,
		"other_managers": map[string]interface{}{
			"disclosure_basis": "shared investment discretion",
		},
	}
}

func TestEngineUnknownFormType(t *testing.T) {
	engine := testEngine(t)
	_, err := engine.Validate("form_unknown", "US", map[string]interface{}{})
	assert.Error(t, err)
}

func TestEngineSupports(t *testing.T) {
	engine := testEngine(t)
	assert.True(t, engine.Supports(Form13F))
	assert.True(t, engine.Supports(Rule606))
	assert.False(t, engine.Supports("form_unknown"))
	assert.Len(t, engine.SupportedFormTypes(), 4)
}

func TestForm13FValidation(t *testing.T) {
	engine := testEngine(t)

	t.Run("complete filing above threshold is valid", func(t *testing.T) {
		result, err := engine.Validate(Form13F, "US", valid13FData(250_000_000, 4))
		require.NoError(t, err)

		assert.True(t, result.IsValid)
		assert.Empty(t, result.Errors)
		assert.Equal(t, 100.0, result.CompletionPercentage)
		assert.True(t, result.ThresholdAnalysis.ReportingThresholdMet)
		assert.InDelta(t, 250_000_000, result.ThresholdAnalysis.MonetaryAggregate, 1)
		assert.Contains(t, result.ThresholdAnalysis.RequiredSections, "other_managers")
	})

	t.Run("missing required fields surface as errors, all at once", func(t *testing.T) {
		result, err := engine.Validate(Form13F, "US", map[string]interface{}{})
		require.NoError(t, err)

		assert.False(t, result.IsValid)
		// cik, manager_name, reporting_period, total_value, holdings
		assert.GreaterOrEqual(t, len(result.Errors), 5)
		assert.Less(t, result.CompletionPercentage, 100.0)
	})

	t.Run("malformed identifiers are format errors", func(t *testing.T) {
		data := valid13FData(250_000_000, 2)
		data["cik"] = "12345" // not 10 digits
		result, err := engine.Validate(Form13F, "US", data)
		require.NoError(t, err)

		assert.False(t, result.IsValid)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "cik", result.Errors[0].Field)
	})

	t.Run("below threshold is a warning with threshold not met", func(t *testing.T) {
		data := valid13FData(50_000_000, 2)
		delete(data, "other_managers")
		result, err := engine.Validate(Form13F, "US", data)
		require.NoError(t, err)

		assert.True(t, result.IsValid, "a voluntary filing is still structurally valid")
		assert.False(t, result.ThresholdAnalysis.ReportingThresholdMet)
		assert.NotEmpty(t, result.Warnings)
		assert.NotContains(t, result.ThresholdAnalysis.RequiredSections, "other_managers")
	})

	t.Run("missing cascaded section above threshold is an error", func(t *testing.T) {
		data := valid13FData(250_000_000, 2)
		delete(data, "other_managers")
		result, err := engine.Validate(Form13F, "US", data)
		require.NoError(t, err)

		assert.False(t, result.IsValid)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "other_managers", result.Errors[0].Section)
	})

	t.Run("reconciliation mismatch is a warning not an error", func(t *testing.T) {
		data := valid13FData(250_000_000, 2)
		data["total_value"] = 300_000_000.0 // 20% off the itemized sum
		result, err := engine.Validate(Form13F, "US", data)
		require.NoError(t, err)

		assert.True(t, result.IsValid)
		require.NotEmpty(t, result.Warnings)
		assert.Equal(t, "total_value", result.Warnings[0].Field)
	})

	t.Run("validation is idempotent", func(t *testing.T) {
		data := valid13FData(250_000_000, 3)
		first, err := engine.Validate(Form13F, "US", data)
		require.NoError(t, err)
		second, err := engine.Validate(Form13F, "US", data)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("isValid tracks the error count exactly", func(t *testing.T) {
		for _, data := range []map[string]interface{}{
			{},
			valid13FData(250_000_000, 1),
			valid13FData(10, 1),
		} {
			result, err := engine.Validate(Form13F, "US", data)
			require.NoError(t, err)
			assert.Equal(t, len(result.Errors) == 0, result.IsValid)
		}
	})
}

func validPFData(totalAUM float64, fundCount int) map[string]interface{} {
	funds := make([]map[string]interface{}, fundCount)
	per := totalAUM / float64(fundCount)
	for i := range funds {
		funds[i] = map[string]interface{}{
			"fund_id":         fmt.Sprintf("F-%03d", i),
			"fund_name":       fmt.Sprintf("Fund %d", i),
			"aum":             per,
			"monthly_returns": []float64{0.01, -0.005, 0.02, 0.015, -0.01, 0.008},
		}
	}
	return map[string]interface{}{
		"adviser_crd":  "123456",
		"adviser_name": "Harborlight Capital",
		"total_aum":    totalAUM,
		"funds":        funds,
	}
}

func TestFormPFValidation(t *testing.T) {
	engine := testEngine(t)

	t.Run("complete filing is valid", func(t *testing.T) {
		result, err := engine.Validate(FormPF, "US", validPFData(500_000_000, 4))
		require.NoError(t, err)

		assert.True(t, result.IsValid)
		assert.True(t, result.ThresholdAnalysis.ReportingThresholdMet)
		assert.Empty(t, result.ThresholdAnalysis.RequiredSections)
	})

	t.Run("large adviser owes the stress section", func(t *testing.T) {
		data := validPFData(2_000_000_000, 4)
		result, err := engine.Validate(FormPF, "US", data)
		require.NoError(t, err)

		assert.False(t, result.IsValid)
		assert.Contains(t, result.ThresholdAnalysis.RequiredSections, "large_adviser")

		data["large_adviser"] = map[string]interface{}{
			"gross_notional_exposure":     3_500_000_000.0,
			"liquidity_days_to_liquidate": 12.0,
		}
		result, err = engine.Validate(FormPF, "US", data)
		require.NoError(t, err)
		assert.True(t, result.IsValid)
	})

	t.Run("implausible annualized return is an error", func(t *testing.T) {
		data := validPFData(500_000_000, 1)
		funds := data["funds"].([]map[string]interface{})
		funds[0]["monthly_returns"] = []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
		result, err := engine.Validate(FormPF, "US", data)
		require.NoError(t, err)

		assert.False(t, result.IsValid)
	})

	t.Run("volatile returns draw a dispersion warning", func(t *testing.T) {
		data := validPFData(500_000_000, 1)
		funds := data["funds"].([]map[string]interface{})
		funds[0]["monthly_returns"] = []float64{0.3, -0.35, 0.28, -0.3, 0.25, -0.2}
		result, err := engine.Validate(FormPF, "US", data)
		require.NoError(t, err)

		assert.NotEmpty(t, result.Warnings)
	})

	t.Run("concentrated fund AUM draws an HHI warning", func(t *testing.T) {
		data := validPFData(500_000_000, 2)
		funds := data["funds"].([]map[string]interface{})
		funds[0]["aum"] = 495_000_000.0
		funds[1]["aum"] = 5_000_000.0
		result, err := engine.Validate(FormPF, "US", data)
		require.NoError(t, err)

		found := false
		for _, w := range result.Warnings {
			if w.Section == "funds" {
				found = true
			}
		}
		assert.True(t, found, "expected a concentration warning")
	})
}

func TestFormADVValidation(t *testing.T) {
	engine := testEngine(t)

	data := func() map[string]interface{} {
		return map[string]interface{}{
			"crd_number":             "987654",
			"firm_name":              "Stillwater Advisory",
			"principal_office_state": "NY",
			"regulatory_aum":         120_000_000.0,
			"accounts": []map[string]interface{}{
				{"account_type": "individual", "count": 85.0, "aum": 80_000_000.0},
				{"account_type": "pension", "count": 4.0, "aum": 40_000_000.0},
			},
		}
	}

	t.Run("complete filing is valid", func(t *testing.T) {
		result, err := engine.Validate(FormADV, "US", data())
		require.NoError(t, err)
		assert.True(t, result.IsValid)
		assert.True(t, result.ThresholdAnalysis.ReportingThresholdMet)
	})

	t.Run("custody cascade requires custodian details", func(t *testing.T) {
		d := data()
		d["custody"] = map[string]interface{}{"has_custody": true}
		result, err := engine.Validate(FormADV, "US", d)
		require.NoError(t, err)

		assert.False(t, result.IsValid)
		assert.Contains(t, result.ThresholdAnalysis.RequiredSections, "custody")

		d["custody"] = map[string]interface{}{
			"has_custody":         true,
			"qualified_custodian": "First Federal Trust",
			"surprise_exam_date":  "2024-03-15",
		}
		result, err = engine.Validate(FormADV, "US", d)
		require.NoError(t, err)
		assert.True(t, result.IsValid)
	})

	t.Run("no custody means no cascade", func(t *testing.T) {
		d := data()
		d["custody"] = map[string]interface{}{"has_custody": false}
		result, err := engine.Validate(FormADV, "US", d)
		require.NoError(t, err)
		assert.True(t, result.IsValid)
		assert.Empty(t, result.ThresholdAnalysis.RequiredSections)
	})
}

func TestRule606Validation(t *testing.T) {
	engine := testEngine(t)

	venue := func(name string, nonDirected float64) map[string]interface{} {
		return map[string]interface{}{
			"venue_name":               name,
			"non_directed_pct":         nonDirected,
			"market_order_pct":         40.0,
			"marketable_limit_pct":     30.0,
			"non_marketable_limit_pct": 20.0,
			"other_order_pct":          10.0,
		}
	}

	data := func(venues ...map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{
			"broker_dealer": "Meridian Securities",
			"quarter":       "2024-Q2",
			"venues":        venues,
		}
	}

	t.Run("balanced report is valid with no threshold gate", func(t *testing.T) {
		result, err := engine.Validate(Rule606, "US", data(
			venue("NYSE", 40), venue("NASDAQ", 35), venue("IEX", 25)))
		require.NoError(t, err)

		assert.True(t, result.IsValid)
		assert.True(t, result.ThresholdAnalysis.ReportingThresholdMet)
	})

	t.Run("out-of-range percentage is an error", func(t *testing.T) {
		result, err := engine.Validate(Rule606, "US", data(venue("NYSE", 140)))
		require.NoError(t, err)
		assert.False(t, result.IsValid)
	})

	t.Run("shares not summing to 100 draw a warning", func(t *testing.T) {
		result, err := engine.Validate(Rule606, "US", data(
			venue("NYSE", 40), venue("NASDAQ", 30)))
		require.NoError(t, err)

		assert.True(t, result.IsValid)
		assert.NotEmpty(t, result.Warnings)
	})

	t.Run("concentrated routing draws an HHI warning", func(t *testing.T) {
		result, err := engine.Validate(Rule606, "US", data(
			venue("NYSE", 97), venue("NASDAQ", 3)))
		require.NoError(t, err)

		found := false
		for _, w := range result.Warnings {
			if w.Section == "venues" && w.Field == "non_directed_pct" {
				found = true
			}
		}
		assert.True(t, found)
	})
}
