package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Filing: FilingConfig{
			ReviewCompletionPercent: 95,
			ReconciliationTolerance: 0.01,
			AuditTrailMaxEntries:    500,
		},
		Workflow:  WorkflowConfig{CompletionBufferDays: 5},
		Scheduler: SchedulerConfig{UrgentThresholdDays: 7},
		Thresholds: ThresholdsConfig{
			Reporting: map[string]float64{
				"form_13f.default": 100_000_000,
				"form_13f.uk":      50_000_000,
				"form_pf.default":  150_000_000,
			},
			Section: map[string]float64{
				"form_pf.default": 1_500_000_000,
			},
			ConcentrationHHI: 2500,
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8086, cfg.Server.HTTPPort)
	assert.Equal(t, 95.0, cfg.Filing.ReviewCompletionPercent)
	assert.Equal(t, 7, cfg.Scheduler.UrgentThresholdDays)
	assert.Equal(t, 100_000_000.0, cfg.ReportingThreshold("form_13f", "US"))
	assert.Equal(t, 1_500_000_000.0, cfg.SectionThreshold("form_pf", "US"))
}

func TestReportingThreshold(t *testing.T) {
	cfg := validConfig()

	t.Run("jurisdiction-specific value wins", func(t *testing.T) {
		assert.Equal(t, 50_000_000.0, cfg.ReportingThreshold("form_13f", "UK"))
	})

	t.Run("falls back to form default", func(t *testing.T) {
		assert.Equal(t, 100_000_000.0, cfg.ReportingThreshold("form_13f", "US"))
	})

	t.Run("unknown form has no threshold", func(t *testing.T) {
		assert.Equal(t, 0.0, cfg.ReportingThreshold("form_xyz", "US"))
	})

	t.Run("jurisdiction lookup is case-insensitive", func(t *testing.T) {
		assert.Equal(t, 50_000_000.0, cfg.ReportingThreshold("form_13f", "uk"))
	})
}

func TestSectionThreshold(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 1_500_000_000.0, cfg.SectionThreshold("form_pf", "US"))
	assert.Equal(t, 0.0, cfg.SectionThreshold("form_13f", "US"))
}

func TestValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("review completion percent out of range", func(t *testing.T) {
		cfg := validConfig()
		cfg.Filing.ReviewCompletionPercent = 0
		assert.Error(t, cfg.Validate())

		cfg.Filing.ReviewCompletionPercent = 101
		assert.Error(t, cfg.Validate())
	})

	t.Run("reconciliation tolerance out of range", func(t *testing.T) {
		cfg := validConfig()
		cfg.Filing.ReconciliationTolerance = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("kafka enabled requires brokers", func(t *testing.T) {
		cfg := validConfig()
		cfg.Kafka.Enabled = true
		assert.Error(t, cfg.Validate())

		cfg.Kafka.Brokers = []string{"localhost:9092"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("negative buffer days rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Workflow.CompletionBufferDays = -1
		assert.Error(t, cfg.Validate())
	})
}
