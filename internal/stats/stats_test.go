package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
	assert.InDelta(t, 0.015, Mean([]float64{0.01, 0.02}), 1e-12)
}

func TestDispersion(t *testing.T) {
	t.Run("short series has no dispersion", func(t *testing.T) {
		assert.Equal(t, 0.0, Dispersion(nil))
		assert.Equal(t, 0.0, Dispersion([]float64{0.05}))
	})

	t.Run("constant series", func(t *testing.T) {
		assert.Equal(t, 0.0, Dispersion([]float64{0.02, 0.02, 0.02}))
	})

	t.Run("population standard deviation", func(t *testing.T) {
		// mean 3, squared deviations 4+0+4 => sqrt(8/3)
		assert.InDelta(t, math.Sqrt(8.0/3.0), Dispersion([]float64{1, 3, 5}), 1e-12)
	})
}

func TestAnnualizedReturn(t *testing.T) {
	t.Run("empty series", func(t *testing.T) {
		assert.Equal(t, 0.0, AnnualizedReturn(nil, 12))
	})

	t.Run("full year of monthly returns compounds directly", func(t *testing.T) {
		monthly := make([]float64, 12)
		for i := range monthly {
			monthly[i] = 0.01
		}
		expected := math.Pow(1.01, 12) - 1
		assert.InDelta(t, expected, AnnualizedReturn(monthly, 12), 1e-12)
	})

	t.Run("partial year is scaled up", func(t *testing.T) {
		// 6 months at 1% annualizes to (1.01^6)^2 - 1
		half := []float64{0.01, 0.01, 0.01, 0.01, 0.01, 0.01}
		expected := math.Pow(math.Pow(1.01, 6), 2) - 1
		assert.InDelta(t, expected, AnnualizedReturn(half, 12), 1e-12)
	})

	t.Run("total loss reports -100%", func(t *testing.T) {
		assert.Equal(t, -1.0, AnnualizedReturn([]float64{-1.0, 0.05}, 12))
	})
}

func TestTrackingError(t *testing.T) {
	t.Run("identical series track perfectly", func(t *testing.T) {
		series := []float64{0.01, -0.02, 0.03}
		assert.Equal(t, 0.0, TrackingError(series, series, 12))
	})

	t.Run("mismatched lengths yield zero", func(t *testing.T) {
		assert.Equal(t, 0.0, TrackingError([]float64{0.01, 0.02}, []float64{0.01}, 12))
	})

	t.Run("constant active return has no tracking error", func(t *testing.T) {
		portfolio := []float64{0.02, 0.03, 0.04}
		benchmark := []float64{0.01, 0.02, 0.03}
		assert.InDelta(t, 0.0, TrackingError(portfolio, benchmark, 12), 1e-12)
	})

	t.Run("annualized by sqrt of periods", func(t *testing.T) {
		portfolio := []float64{0.02, 0.00}
		benchmark := []float64{0.00, 0.00}
		// active = {0.02, 0}, population stddev = 0.01
		assert.InDelta(t, 0.01*math.Sqrt(12), TrackingError(portfolio, benchmark, 12), 1e-12)
	})
}

func TestHHI(t *testing.T) {
	t.Run("empty set", func(t *testing.T) {
		assert.Equal(t, 0.0, HHI(nil))
	})

	t.Run("single position is fully concentrated", func(t *testing.T) {
		assert.InDelta(t, 10000.0, HHI([]float64{42}), 1e-9)
	})

	t.Run("equal split", func(t *testing.T) {
		// four equal positions: 4 * 25^2 = 2500
		assert.InDelta(t, 2500.0, HHI([]float64{10, 10, 10, 10}), 1e-9)
	})

	t.Run("negative values ignored", func(t *testing.T) {
		assert.InDelta(t, 10000.0, HHI([]float64{100, -50}), 1e-9)
	})
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, WithinTolerance(0, 0, 0.01))
	assert.False(t, WithinTolerance(0, 100, 0.01))
	assert.True(t, WithinTolerance(100, 100.5, 0.01))
	assert.False(t, WithinTolerance(100, 102, 0.01))
	assert.True(t, WithinTolerance(-100, -100.5, 0.01))
}

func TestSum(t *testing.T) {
	assert.Equal(t, 0.0, Sum(nil))
	assert.InDelta(t, 6.6, Sum([]float64{1.1, 2.2, 3.3}), 1e-12)
}
