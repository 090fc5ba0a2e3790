// Package config provides configuration management for the citation harvest service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the citation harvest service.
type Config struct {
	// Server contains HTTP server settings for the reporting API.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Temporal contains Temporal workflow orchestration settings.
	Temporal TemporalConfig `mapstructure:"temporal"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains Kafka settings for harvest lifecycle events.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Source contains citation-index search source settings.
	Source SourceConfig `mapstructure:"source"`
	// Harvester contains harvest engine settings.
	Harvester HarvesterConfig `mapstructure:"harvester"`
	// Planner contains query partition planner settings.
	Planner PlannerConfig `mapstructure:"planner"`
	// Tracker contains harvest target tracker settings.
	Tracker TrackerConfig `mapstructure:"tracker"`
	// Authorship contains authorship-filter client settings.
	Authorship AuthorshipConfig `mapstructure:"authorship"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from HARVEST_DATABASE_PASSWORD).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum idle time of a connection.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the period between pool health checks.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the timeout for establishing a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the directory containing SQL migrations.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun runs pending migrations at startup when true.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// TemporalConfig holds Temporal client configuration.
type TemporalConfig struct {
	// HostPort is the Temporal frontend address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue is the task queue for harvest workflows.
	TaskQueue string `mapstructure:"task_queue"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the output format (json, console, pretty).
	Format string `mapstructure:"format"`
	// Output is the output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line number to log entries.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the time format for timestamps.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed.
	Enabled bool `mapstructure:"enabled"`
	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`
}

// KafkaConfig holds Kafka publisher and listener settings.
type KafkaConfig struct {
	// Enabled controls whether harvest events are published.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// EventsTopic is the topic for harvest lifecycle events.
	EventsTopic string `mapstructure:"events_topic"`
	// CommandsTopic is the topic for operator commands (e.g. target reset).
	CommandsTopic string `mapstructure:"commands_topic"`
	// GroupID is the consumer group for the command listener.
	GroupID string `mapstructure:"group_id"`
}

// SourceConfig holds settings for the external citation-index source.
type SourceConfig struct {
	// BaseURL is the search endpoint base URL.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is an optional API key (loaded from HARVEST_SOURCE_API_KEY).
	APIKey string `mapstructure:"-"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second against the source.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is the rate limiter burst.
	BurstSize int `mapstructure:"burst_size"`
	// PageSize is the number of records per result page.
	PageSize int `mapstructure:"page_size"`
	// ResultCap is the maximum results the source exposes per query.
	// Scopes expected to exceed this are partitioned by the planner.
	ResultCap int `mapstructure:"result_cap"`
	// UserAgent is the User-Agent header sent with requests.
	UserAgent string `mapstructure:"user_agent"`
}

// HarvesterConfig holds harvest engine settings.
type HarvesterConfig struct {
	// MaxConcurrentTargets bounds how many targets harvest at once.
	MaxConcurrentTargets int `mapstructure:"max_concurrent_targets"`
	// MaxPages bounds pages fetched per target before giving up.
	MaxPages int `mapstructure:"max_pages"`
	// MaxRetries is the per-page transient retry budget.
	MaxRetries int `mapstructure:"max_retries"`
	// InitialBackoff is the first backoff delay after a transient failure.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// MaxBackoff caps the exponential backoff delay.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	// BlockCooldown is the process-wide pause after a detected block.
	BlockCooldown time.Duration `mapstructure:"block_cooldown"`
	// EmptyPageLimit is how many consecutive pages without new records
	// are treated as pagination exhaustion.
	EmptyPageLimit int `mapstructure:"empty_page_limit"`
	// ResumeStaleAfter is how long an in_progress target's lease must be
	// stale before the sweep re-drives it. Must exceed the longest silent
	// stretch of a live harvest (block cooldown plus max backoff).
	ResumeStaleAfter time.Duration `mapstructure:"resume_stale_after"`
}

// PlannerConfig holds query partition planner settings.
type PlannerConfig struct {
	// BatchSize is the number of positive terms per partition sub-query.
	// Smaller batches keep each sub-query further under the result cap but
	// increase the structurally unrecoverable residual gap.
	BatchSize int `mapstructure:"batch_size"`
}

// TrackerConfig holds harvest target tracker settings.
type TrackerConfig struct {
	// StallThreshold is the number of consecutive same-offset failures
	// that stall a target.
	StallThreshold int `mapstructure:"stall_threshold"`
	// EditionReviewThreshold is the stall count at which an edition is
	// flagged for manual review and automatic retries halt.
	EditionReviewThreshold int `mapstructure:"edition_review_threshold"`
	// ClaimStaleAfter is the claim lease: an in_progress target can only
	// be re-claimed after this long without a progress write.
	ClaimStaleAfter time.Duration `mapstructure:"claim_stale_after"`
}

// AuthorshipConfig holds authorship-filter client settings.
type AuthorshipConfig struct {
	// Enabled controls whether the post-ingestion filter runs.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL is the verifier service base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the per-call timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// MinConfidence is the confidence below which a verdict is treated
	// as uncertain regardless of label.
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/citation-harvest-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv("HARVEST_DATABASE_PASSWORD")
	cfg.Source.APIKey = os.Getenv("HARVEST_SOURCE_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "harvest")
	v.SetDefault("database.name", "citation_harvest_service")
	// Default to "require" for production security. Use HARVEST_DATABASE_SSL_MODE=disable locally.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Temporal defaults
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "citation-harvest")
	v.SetDefault("temporal.task_queue", "citation-harvest-tasks")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "harvest.events")
	v.SetDefault("kafka.commands_topic", "harvest.commands")
	v.SetDefault("kafka.group_id", "citation-harvest-service")

	// Source defaults
	v.SetDefault("source.base_url", "https://scholar.example.org/api")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.rate_limit", 1.0)
	v.SetDefault("source.burst_size", 1)
	v.SetDefault("source.page_size", 100)
	v.SetDefault("source.result_cap", 1000)
	v.SetDefault("source.user_agent", "Helixir-CitationHarvest/1.0")

	// Harvester defaults
	v.SetDefault("harvester.max_concurrent_targets", 4)
	v.SetDefault("harvester.max_pages", 100)
	v.SetDefault("harvester.max_retries", 3)
	v.SetDefault("harvester.initial_backoff", "2s")
	v.SetDefault("harvester.max_backoff", "2m")
	v.SetDefault("harvester.block_cooldown", "15m")
	v.SetDefault("harvester.empty_page_limit", 2)
	v.SetDefault("harvester.resume_stale_after", "30m")

	// Planner defaults
	v.SetDefault("planner.batch_size", 3)

	// Tracker defaults
	v.SetDefault("tracker.stall_threshold", 3)
	v.SetDefault("tracker.edition_review_threshold", 5)
	v.SetDefault("tracker.claim_stale_after", "30m")

	// Authorship filter defaults
	v.SetDefault("authorship.enabled", false)
	v.SetDefault("authorship.base_url", "http://localhost:8090")
	v.SetDefault("authorship.timeout", "60s")
	v.SetDefault("authorship.min_confidence", 0.6)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Source.PageSize <= 0 {
		return fmt.Errorf("source page_size must be positive")
	}
	if c.Source.ResultCap < c.Source.PageSize {
		return fmt.Errorf("source result_cap (%d) must be >= page_size (%d)", c.Source.ResultCap, c.Source.PageSize)
	}
	if c.Source.RateLimit <= 0 {
		return fmt.Errorf("source rate_limit must be positive")
	}

	if c.Harvester.MaxConcurrentTargets <= 0 {
		return fmt.Errorf("harvester max_concurrent_targets must be positive")
	}
	if c.Harvester.MaxPages <= 0 {
		return fmt.Errorf("harvester max_pages must be positive")
	}
	if c.Harvester.InitialBackoff <= 0 || c.Harvester.MaxBackoff < c.Harvester.InitialBackoff {
		return fmt.Errorf("harvester backoff bounds invalid: initial=%s max=%s", c.Harvester.InitialBackoff, c.Harvester.MaxBackoff)
	}
	if c.Harvester.EmptyPageLimit <= 0 {
		return fmt.Errorf("harvester empty_page_limit must be positive")
	}

	if c.Planner.BatchSize <= 0 {
		return fmt.Errorf("planner batch_size must be positive")
	}

	if c.Tracker.StallThreshold <= 0 {
		return fmt.Errorf("tracker stall_threshold must be positive")
	}
	if c.Tracker.EditionReviewThreshold <= 0 {
		return fmt.Errorf("tracker edition_review_threshold must be positive")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	if c.Authorship.Enabled {
		if c.Authorship.BaseURL == "" {
			return fmt.Errorf("authorship base_url is required when the filter is enabled")
		}
		if c.Authorship.MinConfidence < 0 || c.Authorship.MinConfidence > 1 {
			return fmt.Errorf("authorship min_confidence must be between 0 and 1")
		}
	}

	return nil
}
