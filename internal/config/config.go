// Package config defines the configuration structures of the renewal back
// office. No I/O lives in this file, only plain data types and validation.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	Mode               string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// RedisConfig holds Redis connection parameters. Redis backs the batch id
// sequence and the worker job locks; when disabled a snowflake generator is
// used instead and jobs run unguarded.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds Apache Kafka producer/consumer parameters.
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	GroupID     string   `mapstructure:"group_id"`
	ClientID    string   `mapstructure:"client_id"`
	Acks        string   `mapstructure:"acks"` // "all" | "one" | "none"
	MaxRetries  int      `mapstructure:"max_retries"`
	BatchSize   int      `mapstructure:"batch_size"`
	Compression string   `mapstructure:"compression"`
}

// RabbitMQConfig holds AMQP parameters for the notification transport.
type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

// MinIOConfig holds MinIO / S3-compatible object-storage parameters.
type MinIOConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	Region        string        `mapstructure:"region"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// WorkerConfig holds background-worker execution parameters.
type WorkerConfig struct {
	HealthPort      int           `mapstructure:"health_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level       string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// RenewalConfig holds the business settings of the renewal pipeline.
type RenewalConfig struct {
	// GraceSurchargeFactor multiplies the fee of tasks paid late inside a
	// grace period. 1.0 means no surcharge.
	GraceSurchargeFactor float64 `mapstructure:"grace_surcharge_factor"`
	// DefaultVATRate applies when the client has no specific rate.
	DefaultVATRate        float64  `mapstructure:"default_vat_rate"`
	SendConcurrency       int      `mapstructure:"send_concurrency"`
	CSVCaptions           []string `mapstructure:"csv_captions"`
	NotificationTransport string   `mapstructure:"notification_transport"` // "kafka" | "amqp" | "log"
	SenderAddress         string   `mapstructure:"sender_address"`
	DefaultLocale         string   `mapstructure:"default_locale"`
	ReminderSchedule      string   `mapstructure:"reminder_schedule"`
	DashboardSchedule     string   `mapstructure:"dashboard_schedule"`
	ReminderHorizonDays   int      `mapstructure:"reminder_horizon_days"`
	ArchiveExports        bool     `mapstructure:"archive_exports"`
	// BatchIDSource selects the transition batch id generator:
	// "sql" (renewal_batch_seq), "redis" (shared INCR counter) or "snowflake".
	BatchIDSource     string        `mapstructure:"batch_id_source"`
	SnowflakeNode     int64         `mapstructure:"snowflake_node"`
	DashboardCacheTTL time.Duration `mapstructure:"dashboard_cache_ttl"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
	Renewal  RenewalConfig  `mapstructure:"renewal"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a fully-populated Config and
// returns the first problem found.
func (c *Config) Validate() error {
	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	// Database
	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("config: database.db_name is required")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("config: database.max_conns must be ≥ 1, got %d", c.Database.MaxConns)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("config: database.min_conns %d exceeds max_conns %d", c.Database.MinConns, c.Database.MaxConns)
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis is enabled")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}

	// Kafka
	if c.Kafka.Enabled || c.Renewal.NotificationTransport == "kafka" {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
	}

	// RabbitMQ
	if c.Renewal.NotificationTransport == "amqp" && c.RabbitMQ.URL == "" {
		return fmt.Errorf("config: rabbitmq.url is required for the amqp notification transport")
	}

	// MinIO
	if c.MinIO.Enabled && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		return fmt.Errorf("config: minio.endpoint and minio.bucket are required when minio is enabled")
	}

	// Renewal
	if c.Renewal.GraceSurchargeFactor <= 0 {
		return fmt.Errorf("config: renewal.grace_surcharge_factor must be > 0, got %v", c.Renewal.GraceSurchargeFactor)
	}
	if c.Renewal.DefaultVATRate < 0 || c.Renewal.DefaultVATRate >= 1 {
		return fmt.Errorf("config: renewal.default_vat_rate %v is out of range [0, 1)", c.Renewal.DefaultVATRate)
	}
	if c.Renewal.SendConcurrency < 1 {
		return fmt.Errorf("config: renewal.send_concurrency must be ≥ 1, got %d", c.Renewal.SendConcurrency)
	}
	if len(c.Renewal.CSVCaptions) != len(DefaultCSVCaptions) {
		return fmt.Errorf("config: renewal.csv_captions must list %d captions, got %d", len(DefaultCSVCaptions), len(c.Renewal.CSVCaptions))
	}
	switch c.Renewal.NotificationTransport {
	case "kafka", "amqp", "log":
	default:
		return fmt.Errorf("config: renewal.notification_transport %q is invalid; expected kafka|amqp|log", c.Renewal.NotificationTransport)
	}
	switch c.Renewal.BatchIDSource {
	case "sql", "snowflake":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("config: renewal.batch_id_source redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("config: renewal.batch_id_source %q is invalid; expected sql|redis|snowflake", c.Renewal.BatchIDSource)
	}
	if c.Renewal.SnowflakeNode < 0 || c.Renewal.SnowflakeNode > 1023 {
		return fmt.Errorf("config: renewal.snowflake_node %d is out of range [0, 1023]", c.Renewal.SnowflakeNode)
	}
	if c.Renewal.ReminderHorizonDays < 1 {
		return fmt.Errorf("config: renewal.reminder_horizon_days must be ≥ 1, got %d", c.Renewal.ReminderHorizonDays)
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}

// DSN renders the PostgreSQL connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}
