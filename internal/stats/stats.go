// Package stats provides the derived financial statistics that feed filing
// validation and workflow quality checks: return dispersion, annualized
// return, tracking error and the Herfindahl-Hirschman concentration index.
//
// All functions are pure and operate on plain float64 series; callers own
// the interpretation of units (returns are fractional, e.g. 0.02 = 2%).
package stats

import "math"

// Mean returns the arithmetic mean of the series, or 0 for an empty series.
func Mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// Dispersion returns the population standard deviation of the series.
// A series of fewer than two observations has no dispersion.
func Dispersion(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	mean := Mean(series)
	sumSq := 0.0
	for _, v := range series {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(series)))
}

// AnnualizedReturn compounds a series of periodic fractional returns and
// annualizes the result given the number of periods per year. Returns 0 for
// an empty series or non-positive periodsPerYear.
func AnnualizedReturn(periodicReturns []float64, periodsPerYear int) float64 {
	if len(periodicReturns) == 0 || periodsPerYear <= 0 {
		return 0
	}
	compounded := 1.0
	for _, r := range periodicReturns {
		compounded *= 1 + r
	}
	if compounded <= 0 {
		// Total loss or worse; annualization is undefined, report -100%.
		return -1
	}
	exponent := float64(periodsPerYear) / float64(len(periodicReturns))
	return math.Pow(compounded, exponent) - 1
}

// TrackingError returns the annualized standard deviation of active returns
// (portfolio minus benchmark) for two series of equal length. Mismatched or
// short series yield 0.
func TrackingError(portfolio, benchmark []float64, periodsPerYear int) float64 {
	if len(portfolio) != len(benchmark) || len(portfolio) < 2 || periodsPerYear <= 0 {
		return 0
	}
	active := make([]float64, len(portfolio))
	for i := range portfolio {
		active[i] = portfolio[i] - benchmark[i]
	}
	return Dispersion(active) * math.Sqrt(float64(periodsPerYear))
}

// HHI returns the Herfindahl-Hirschman index for a set of absolute values:
// the sum of squared percentage shares. A fully concentrated set scores
// 10000; an empty or zero-valued set scores 0.
func HHI(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		if v > 0 {
			total += v
		}
	}
	if total == 0 {
		return 0
	}
	hhi := 0.0
	for _, v := range values {
		if v <= 0 {
			continue
		}
		share := v / total * 100
		hhi += share * share
	}
	return hhi
}

// Sum returns the sum of the series.
func Sum(series []float64) float64 {
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum
}

// WithinTolerance reports whether reported and computed agree within a
// relative tolerance of the larger magnitude. Two zero values agree; a zero
// against a non-zero value does not.
func WithinTolerance(reported, computed, tolerance float64) bool {
	larger := math.Max(math.Abs(reported), math.Abs(computed))
	if larger == 0 {
		return true
	}
	return math.Abs(reported-computed)/larger <= tolerance
}
