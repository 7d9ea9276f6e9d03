// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Forms         FormsConfig             `mapstructure:"forms"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress   string `mapstructure:"broker_address"`
	ReviewProcessID string `mapstructure:"review_process_id"`
	MaxJobsActive   int    `mapstructure:"max_jobs_active"`
	Timeout         int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout  int    `mapstructure:"request_timeout"` // milliseconds
}

// Enabled reports whether the reviewer workflow side channel is configured.
func (c CamundaConfig) Enabled() bool {
	return c.BrokerAddress != ""
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// Configured is false when no remote store was set up; submissions then run in degraded sync.
func (p PostgresConfig) Configured() bool {
	return p.Host != "" && p.Database != ""
}

type ElasticsearchConfig struct {
	Addresses         []string `mapstructure:"addresses"`
	Username          string   `mapstructure:"username"`
	Password          string   `mapstructure:"password"`
	AnnouncementIndex string   `mapstructure:"announcement_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FormsConfig drives the application form engine.
type FormsConfig struct {
	DraftKey          string `mapstructure:"draft_key"`
	SubmissionPrefix  string `mapstructure:"submission_prefix"`
	BroadcastChannel  string `mapstructure:"broadcast_channel"`
	StepRegistryPath  string `mapstructure:"step_registry_path"`
	MaxValueBytes     int    `mapstructure:"max_value_bytes"`
	PollIntervalMs    int    `mapstructure:"poll_interval_ms"`
	RemoteTimeoutMs   int    `mapstructure:"remote_timeout_ms"`
	StrictSubmission  bool   `mapstructure:"strict_submission"`
	MinReferenceCount int    `mapstructure:"min_reference_count"`
}

// PollInterval returns the remote poll period.
func (f FormsConfig) PollInterval() time.Duration {
	return GetDuration(f.PollIntervalMs)
}

// RemoteTimeout bounds a single remote write.
func (f FormsConfig) RemoteTimeout() time.Duration {
	return GetDuration(f.RemoteTimeoutMs)
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// NotificationConfig holds settings for the applicant notification service.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
