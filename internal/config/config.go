package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the filing engine service
type Config struct {
	Environment string           `mapstructure:"environment"`
	Debug       bool             `mapstructure:"debug"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Filing      FilingConfig     `mapstructure:"filing"`
	Workflow    WorkflowConfig   `mapstructure:"workflow"`
	Scheduler   SchedulerConfig  `mapstructure:"scheduler"`
	Gateway     GatewayConfig    `mapstructure:"gateway"`
	Email       EmailConfig      `mapstructure:"email"`
	Thresholds  ThresholdsConfig `mapstructure:"thresholds"`
	Logging     LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// KafkaConfig contains Kafka configuration for event publishing
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	QueueSize    int           `mapstructure:"queue_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// FilingConfig contains filing lifecycle configuration
type FilingConfig struct {
	// Completion percentage at which a valid draft moves to review.
	ReviewCompletionPercent float64 `mapstructure:"review_completion_percent"`
	// Tolerance for cross-field reconciliation checks, as a fraction (0.01 = 1%).
	ReconciliationTolerance float64 `mapstructure:"reconciliation_tolerance"`
	AuditTrailMaxEntries    int     `mapstructure:"audit_trail_max_entries"`
}

// WorkflowConfig contains workflow orchestration configuration
type WorkflowConfig struct {
	// Buffer subtracted from the statutory due date, in addition to the
	// cumulative estimated step durations, when computing the scheduled
	// completion date of a new execution.
	CompletionBufferDays int           `mapstructure:"completion_buffer_days"`
	StepTimeout          time.Duration `mapstructure:"step_timeout"`
	QualityCheckTimeout  time.Duration `mapstructure:"quality_check_timeout"`
}

// SchedulerConfig contains reminder scheduler configuration
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Cron expression for the reminder dispatch sweep.
	DispatchSchedule string `mapstructure:"dispatch_schedule"`
	// Days-before-due at or below which a reminder is tagged urgent.
	UrgentThresholdDays int           `mapstructure:"urgent_threshold_days"`
	DispatchTimeout     time.Duration `mapstructure:"dispatch_timeout"`
}

// GatewayConfig contains regulator submission gateway configuration
type GatewayConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	APIKey          string        `mapstructure:"api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
	TestMode        bool          `mapstructure:"test_mode"`
}

// EmailConfig contains reminder email delivery configuration
type EmailConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	FromAddress    string `mapstructure:"from_address"`
	FromName       string `mapstructure:"from_name"`
}

// ThresholdsConfig contains reporting threshold constants, tunable per
// form type and jurisdiction. Keys are "<form_type>.<jurisdiction>" with a
// "<form_type>.default" fallback.
type ThresholdsConfig struct {
	Reporting map[string]float64 `mapstructure:"reporting"`
	// Section-cascade thresholds, e.g. the large-adviser cutoff on Form PF.
	Section map[string]float64 `mapstructure:"section"`
	// HHI level above which venue concentration draws a warning.
	ConcentrationHHI float64 `mapstructure:"concentration_hhi"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/filing-engine")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FILING_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Config file is optional; defaults plus environment cover everything.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Filing.ReviewCompletionPercent <= 0 || c.Filing.ReviewCompletionPercent > 100 {
		return fmt.Errorf("filing.review_completion_percent must be in (0, 100]: %v", c.Filing.ReviewCompletionPercent)
	}
	if c.Filing.ReconciliationTolerance < 0 || c.Filing.ReconciliationTolerance >= 1 {
		return fmt.Errorf("filing.reconciliation_tolerance must be in [0, 1): %v", c.Filing.ReconciliationTolerance)
	}
	if c.Workflow.CompletionBufferDays < 0 {
		return fmt.Errorf("workflow.completion_buffer_days must not be negative: %d", c.Workflow.CompletionBufferDays)
	}
	if c.Scheduler.UrgentThresholdDays < 0 {
		return fmt.Errorf("scheduler.urgent_threshold_days must not be negative: %d", c.Scheduler.UrgentThresholdDays)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty when kafka is enabled")
	}
	return nil
}

// ReportingThreshold returns the reporting threshold for a form type and
// jurisdiction, falling back to the form type's default, then zero (no
// threshold configured means the obligation is unconditional).
func (c *Config) ReportingThreshold(formType, jurisdiction string) float64 {
	return lookupThreshold(c.Thresholds.Reporting, formType, jurisdiction)
}

// SectionThreshold returns the section-cascade threshold for a form type and
// jurisdiction, with the same fallback behavior as ReportingThreshold.
func (c *Config) SectionThreshold(formType, jurisdiction string) float64 {
	return lookupThreshold(c.Thresholds.Section, formType, jurisdiction)
}

func lookupThreshold(m map[string]float64, formType, jurisdiction string) float64 {
	if m == nil {
		return 0
	}
	if v, ok := m[formType+"."+strings.ToLower(jurisdiction)]; ok {
		return v
	}
	return m[formType+".default"]
}

// setDefaults sets default configuration values
func setDefaults() {
	// General
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8086)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "filing_engine")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Kafka
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "filing-events")
	viper.SetDefault("kafka.queue_size", 1024)
	viper.SetDefault("kafka.batch_timeout", "1s")
	viper.SetDefault("kafka.write_timeout", "10s")

	// Filing
	viper.SetDefault("filing.review_completion_percent", 95.0)
	viper.SetDefault("filing.reconciliation_tolerance", 0.01)
	viper.SetDefault("filing.audit_trail_max_entries", 500)

	// Workflow
	viper.SetDefault("workflow.completion_buffer_days", 5)
	viper.SetDefault("workflow.step_timeout", "5m")
	viper.SetDefault("workflow.quality_check_timeout", "30s")

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.dispatch_schedule", "0 */15 * * * *")
	viper.SetDefault("scheduler.urgent_threshold_days", 7)
	viper.SetDefault("scheduler.dispatch_timeout", "5m")

	// Gateway
	viper.SetDefault("gateway.endpoint", "https://filings.regulator.example/api/v1/submissions")
	viper.SetDefault("gateway.timeout", "60s")
	viper.SetDefault("gateway.rate_limit_per_min", 30)
	viper.SetDefault("gateway.test_mode", true)

	// Email
	viper.SetDefault("email.enabled", false)
	viper.SetDefault("email.from_address", "compliance@wealth-ops.example")
	viper.SetDefault("email.from_name", "Filing Engine")

	// Reporting thresholds per form type and jurisdiction. Amounts in USD.
	viper.SetDefault("thresholds.reporting", map[string]float64{
		"form_13f.default": 100_000_000,
		"form_pf.default":  150_000_000,
		"form_adv.default": 25_000_000,
		"rule_606.default": 0,
	})
	viper.SetDefault("thresholds.section", map[string]float64{
		"form_pf.default": 1_500_000_000,
	})
	viper.SetDefault("thresholds.concentration_hhi", 2500.0)

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
