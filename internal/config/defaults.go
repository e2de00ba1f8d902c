package config

import (
	"time"

	"github.com/spf13/viper"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerPort            = 8080
	DefaultServerMode            = "release"
	DefaultServerReadTimeout     = 15 * time.Second
	DefaultServerWriteTimeout    = 60 * time.Second
	DefaultServerShutdownTimeout = 20 * time.Second

	DefaultDBHost          = "localhost"
	DefaultDBPort          = 5432
	DefaultDBUser          = "keyip"
	DefaultDBName          = "keyip_renewals"
	DefaultDBSSLMode       = "disable"
	DefaultDBMaxConns      = 20
	DefaultDBMinConns      = 2
	DefaultDBConnLifetime  = time.Hour
	DefaultDBConnIdleTime  = 15 * time.Minute
	DefaultDBMigrationPath = "file://migrations"

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisPoolSize  = 10
	DefaultRedisKeyPrefix = "keyip:"

	DefaultKafkaBroker   = "localhost:9092"
	DefaultKafkaGroupID  = "keyip-renewals"
	DefaultKafkaClientID = "keyip-renewals"
	DefaultKafkaAcks     = "all"

	DefaultRabbitMQExchange   = "keyip.notifications"
	DefaultRabbitMQRoutingKey = "renewal.notification"

	DefaultMinIOEndpoint      = "localhost:9000"
	DefaultMinIOBucket        = "renewal-exports"
	DefaultMinIOPresignExpiry = 24 * time.Hour

	DefaultWorkerHealthPort      = 8081
	DefaultWorkerShutdownTimeout = 30 * time.Second
	DefaultWorkerLockTTL         = 5 * time.Minute

	DefaultMetricsNamespace = "keyip"
	DefaultMetricsPath      = "/metrics"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultGraceSurchargeFactor  = 1.0
	DefaultVATRate               = 0.2
	DefaultSendConcurrency       = 4
	DefaultNotificationTransport = "log"
	DefaultLocale                = "en"
	DefaultReminderSchedule      = "0 7 * * 1-5"
	DefaultDashboardSchedule     = "@every 5m"
	DefaultReminderHorizonDays   = 60
	DefaultBatchIDSource         = "sql"
	DefaultDashboardCacheTTL     = 30 * time.Second
)

// DefaultCSVCaptions is the header row of the spreadsheet export, in column
// order.
var DefaultCSVCaptions = []string{
	"ID", "Country", "Caseref", "Title", "Client", "Detail", "Due date", "Grace",
	"Step", "Invoice step", "Cost", "Fee", "VAT", "Total", "Total with VAT",
}

// ─────────────────────────────────────────────────────────────────────────────
// ApplyDefaults
// ─────────────────────────────────────────────────────────────────────────────

// ApplyDefaults fills every zero-value field in cfg with its default. Values
// already set are left untouched.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = DefaultDBUser
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = DefaultDBSSLMode
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.MinConns == 0 {
		cfg.Database.MinConns = DefaultDBMinConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = DefaultDBConnLifetime
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = DefaultDBConnIdleTime
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = DefaultDBMigrationPath
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultRedisPoolSize
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = DefaultKafkaClientID
	}
	if cfg.Kafka.Acks == "" {
		cfg.Kafka.Acks = DefaultKafkaAcks
	}

	// ── RabbitMQ ──────────────────────────────────────────────────────────────
	if cfg.RabbitMQ.Exchange == "" {
		cfg.RabbitMQ.Exchange = DefaultRabbitMQExchange
	}
	if cfg.RabbitMQ.RoutingKey == "" {
		cfg.RabbitMQ.RoutingKey = DefaultRabbitMQRoutingKey
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}
	if cfg.MinIO.PresignExpiry == 0 {
		cfg.MinIO.PresignExpiry = DefaultMinIOPresignExpiry
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.HealthPort == 0 {
		cfg.Worker.HealthPort = DefaultWorkerHealthPort
	}
	if cfg.Worker.ShutdownTimeout == 0 {
		cfg.Worker.ShutdownTimeout = DefaultWorkerShutdownTimeout
	}
	if cfg.Worker.LockTTL == 0 {
		cfg.Worker.LockTTL = DefaultWorkerLockTTL
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Renewal ───────────────────────────────────────────────────────────────
	if cfg.Renewal.GraceSurchargeFactor == 0 {
		cfg.Renewal.GraceSurchargeFactor = DefaultGraceSurchargeFactor
	}
	if cfg.Renewal.SendConcurrency == 0 {
		cfg.Renewal.SendConcurrency = DefaultSendConcurrency
	}
	if len(cfg.Renewal.CSVCaptions) == 0 {
		cfg.Renewal.CSVCaptions = append([]string(nil), DefaultCSVCaptions...)
	}
	if cfg.Renewal.NotificationTransport == "" {
		cfg.Renewal.NotificationTransport = DefaultNotificationTransport
	}
	if cfg.Renewal.DefaultLocale == "" {
		cfg.Renewal.DefaultLocale = DefaultLocale
	}
	if cfg.Renewal.ReminderSchedule == "" {
		cfg.Renewal.ReminderSchedule = DefaultReminderSchedule
	}
	if cfg.Renewal.DashboardSchedule == "" {
		cfg.Renewal.DashboardSchedule = DefaultDashboardSchedule
	}
	if cfg.Renewal.ReminderHorizonDays == 0 {
		cfg.Renewal.ReminderHorizonDays = DefaultReminderHorizonDays
	}
	if cfg.Renewal.BatchIDSource == "" {
		cfg.Renewal.BatchIDSource = DefaultBatchIDSource
	}
	if cfg.Renewal.DashboardCacheTTL == 0 {
		cfg.Renewal.DashboardCacheTTL = DefaultDashboardCacheTTL
	}
}

// registerDefaults makes every key known to viper so KEYIP_* variables are
// honoured by Unmarshal even when the key is absent from the file.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.mode", DefaultServerMode)
	v.SetDefault("server.read_timeout", DefaultServerReadTimeout)
	v.SetDefault("server.write_timeout", DefaultServerWriteTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultServerShutdownTimeout)
	v.SetDefault("server.cors_allowed_origins", []string{})

	v.SetDefault("database.host", DefaultDBHost)
	v.SetDefault("database.port", DefaultDBPort)
	v.SetDefault("database.user", DefaultDBUser)
	v.SetDefault("database.password", "")
	v.SetDefault("database.db_name", DefaultDBName)
	v.SetDefault("database.ssl_mode", DefaultDBSSLMode)
	v.SetDefault("database.max_conns", DefaultDBMaxConns)
	v.SetDefault("database.min_conns", DefaultDBMinConns)
	v.SetDefault("database.migration_path", DefaultDBMigrationPath)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{DefaultKafkaBroker})
	v.SetDefault("kafka.group_id", DefaultKafkaGroupID)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", DefaultRabbitMQExchange)

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", DefaultMinIOEndpoint)
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", DefaultMinIOBucket)
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("worker.health_port", DefaultWorkerHealthPort)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	v.SetDefault("renewal.grace_surcharge_factor", DefaultGraceSurchargeFactor)
	v.SetDefault("renewal.default_vat_rate", DefaultVATRate)
	v.SetDefault("renewal.send_concurrency", DefaultSendConcurrency)
	v.SetDefault("renewal.csv_captions", DefaultCSVCaptions)
	v.SetDefault("renewal.notification_transport", DefaultNotificationTransport)
	v.SetDefault("renewal.sender_address", "")
	v.SetDefault("renewal.default_locale", DefaultLocale)
	v.SetDefault("renewal.reminder_schedule", DefaultReminderSchedule)
	v.SetDefault("renewal.dashboard_schedule", DefaultDashboardSchedule)
	v.SetDefault("renewal.reminder_horizon_days", DefaultReminderHorizonDays)
	v.SetDefault("renewal.archive_exports", false)
	v.SetDefault("renewal.batch_id_source", DefaultBatchIDSource)
	v.SetDefault("renewal.snowflake_node", 0)
	v.SetDefault("renewal.dashboard_cache_ttl", DefaultDashboardCacheTTL)
}
