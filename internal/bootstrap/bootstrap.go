// Package bootstrap builds the infrastructure clients and renewal services
// shared by the API server, the worker and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	appRenewal "github.com/turtacn/keyip-renewals/internal/application/renewal"
	"github.com/turtacn/keyip-renewals/internal/config"
	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/database/postgres"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/database/postgres/repositories"
	redisclient "github.com/turtacn/keyip-renewals/internal/infrastructure/database/redis"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/idgen"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/messaging/logsender"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/messaging/rabbitmq"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/prometheus"
	minioclient "github.com/turtacn/keyip-renewals/internal/infrastructure/storage/minio"
	"github.com/turtacn/keyip-renewals/internal/interfaces/http/handlers"
)

// NewLogger builds the process logger and its level handle from cfg.
func NewLogger(cfg config.LogConfig) (logging.Logger, *logging.LevelHandle, error) {
	return logging.NewLoggerWithLevel(logging.LogConfig{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Infrastructure
// ─────────────────────────────────────────────────────────────────────────────

// Infrastructure holds the external clients of one process. Optional clients
// are nil when disabled by configuration.
type Infrastructure struct {
	Postgres *postgres.Connection
	Redis    *redisclient.Client
	Producer *kafka.Producer
	AMQP     *rabbitmq.NotificationPublisher
	MinIO    *minioclient.Client

	logger logging.Logger
}

// NewInfrastructure connects every client enabled in cfg. On failure the
// clients opened so far are closed.
func NewInfrastructure(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{logger: logger}

	pg, err := postgres.NewConnection(ctx, cfg.Database, logger.Named("postgres"))
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	infra.Postgres = pg

	if cfg.Redis.Enabled {
		rc, err := redisclient.NewClient(cfg.Redis, logger.Named("redis"))
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		infra.Redis = rc
	}

	if cfg.Kafka.Enabled || cfg.Renewal.NotificationTransport == "kafka" {
		p, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), logger.Named("kafka"))
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		infra.Producer = p
	}

	if cfg.Renewal.NotificationTransport == "amqp" {
		pub, err := rabbitmq.NewNotificationPublisher(cfg.RabbitMQ, logger.Named("amqp"))
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		infra.AMQP = pub
	}

	if cfg.MinIO.Enabled {
		mc, err := minioclient.NewClient(ctx, cfg.MinIO, logger.Named("minio"))
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("minio: %w", err)
		}
		infra.MinIO = mc
	}

	logger.Info("Infrastructure initialized",
		logging.Bool("redis", infra.Redis != nil),
		logging.Bool("kafka", infra.Producer != nil),
		logging.Bool("amqp", infra.AMQP != nil),
		logging.Bool("minio", infra.MinIO != nil),
	)
	return infra, nil
}

// Close releases every open client in reverse order of creation.
func (i *Infrastructure) Close() {
	if i.MinIO != nil {
		_ = i.MinIO.Close()
	}
	if i.AMQP != nil {
		if err := i.AMQP.Close(); err != nil {
			i.logger.Warn("Closing AMQP publisher failed", logging.Err(err))
		}
	}
	if i.Producer != nil {
		if err := i.Producer.Close(); err != nil {
			i.logger.Warn("Closing Kafka producer failed", logging.Err(err))
		}
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.Postgres != nil {
		i.Postgres.Close()
	}
}

// HealthCheckers lists one readiness check per open client.
func (i *Infrastructure) HealthCheckers() []handlers.HealthChecker {
	var checks []handlers.HealthChecker
	if i.Postgres != nil {
		checks = append(checks, handlers.CheckFunc{ComponentName: "postgres", Fn: i.Postgres.HealthCheck})
	}
	if i.Redis != nil {
		checks = append(checks, handlers.CheckFunc{ComponentName: "redis", Fn: i.Redis.HealthCheck})
	}
	if i.MinIO != nil {
		checks = append(checks, handlers.CheckFunc{ComponentName: "minio", Fn: i.MinIO.HealthCheck})
	}
	return checks
}

// ─────────────────────────────────────────────────────────────────────────────
// Services
// ─────────────────────────────────────────────────────────────────────────────

// Services bundles the renewal use cases wired over one Infrastructure.
type Services struct {
	Fees     *appRenewal.FeeCalculator
	Pipeline appRenewal.PipelineService
	Workflow appRenewal.WorkflowService
	Comms    appRenewal.CommunicationService
	Exports  appRenewal.ExportService

	// MatterEvents is the store the worker appends consumed abandon events to.
	MatterEvents domainRenewal.MatterEventStore
	BatchIDs     domainRenewal.BatchIDGenerator
}

// NewServices wires the renewal services. metrics may be nil.
func NewServices(ctx context.Context, cfg *config.Config, infra *Infrastructure, metrics appRenewal.Metrics, logger logging.Logger) (*Services, error) {
	pool := infra.Postgres.Pool()
	repoLog := logging.KV{L: logger.Named("repository")}
	appLog := logging.KV{L: logger.Named("renewal")}

	tasks := repositories.NewTaskRepository(pool, repoLog)
	clients := repositories.NewClientRepository(pool, repoLog)
	schedule := repositories.NewFeeScheduleRepository(pool, repoLog)
	logs := repositories.NewTransitionLogRepository(pool, repoLog)
	matterEvents := repositories.NewMatterEventRepository(pool, repoLog)

	ids, err := NewBatchIDGenerator(ctx, cfg.Renewal, infra, repositories.NewBatchSequence(pool))
	if err != nil {
		return nil, err
	}

	fees := appRenewal.NewFeeCalculator(schedule, appLog, FeeCalculatorConfig(cfg.Renewal))

	var sink domainRenewal.EventSink = StoreSink{Store: matterEvents}
	if infra.Producer != nil {
		sink = kafka.NewEventSink(infra.Producer, cfg.Kafka.ClientID, logger.Named("events"))
	}

	workflow := appRenewal.NewWorkflowService(tasks, ids, appLog,
		appRenewal.WithEventSink(sink),
		appRenewal.WithWorkflowMetrics(metricsOrNoop(metrics)),
	)

	pipeline := appRenewal.NewPipelineService(tasks, logs, fees, metrics, appLog)
	if infra.Redis != nil {
		cache := redisclient.NewRedisCache(infra.Redis, logger.Named("cache"))
		pipeline = appRenewal.WithCachedDashboard(pipeline, cache, cfg.Renewal.DashboardCacheTTL)
	}

	sender, err := notificationSender(cfg, infra, logger)
	if err != nil {
		return nil, err
	}
	comms := appRenewal.NewCommunicationService(tasks, clients, fees, workflow, sender, ids, metrics, appLog,
		appRenewal.BatcherConfig{
			Concurrency:   cfg.Renewal.SendConcurrency,
			SenderAddress: cfg.Renewal.SenderAddress,
			DefaultLocale: cfg.Renewal.DefaultLocale,
		})

	var archive domainRenewal.ExportArchive
	if infra.MinIO != nil && cfg.Renewal.ArchiveExports {
		archive = minioclient.NewExportArchive(infra.MinIO, logger.Named("archive"))
	}
	exports := appRenewal.NewExportService(tasks, fees, workflow, archive, metrics, appLog,
		appRenewal.ExporterConfig{
			Captions: cfg.Renewal.CSVCaptions,
			Archive:  archive != nil,
		})

	return &Services{
		Fees:         fees,
		Pipeline:     pipeline,
		Workflow:     workflow,
		Comms:        comms,
		Exports:      exports,
		MatterEvents: matterEvents,
		BatchIDs:     ids,
	}, nil
}

// FeeCalculatorConfig converts the float settings of the renewal section.
func FeeCalculatorConfig(cfg config.RenewalConfig) appRenewal.FeeCalculatorConfig {
	return appRenewal.FeeCalculatorConfig{
		GraceSurchargeFactor: decimal.NewFromFloat(cfg.GraceSurchargeFactor),
		DefaultVATRate:       decimal.NewFromFloat(cfg.DefaultVATRate),
		Concurrency:          cfg.SendConcurrency * 2,
	}
}

// NewBatchIDGenerator selects the batch id source. The redis counter is
// seeded from the SQL sequence so it never reissues an id already logged.
func NewBatchIDGenerator(ctx context.Context, cfg config.RenewalConfig, infra *Infrastructure, sqlSeq domainRenewal.BatchIDGenerator) (domainRenewal.BatchIDGenerator, error) {
	switch strings.ToLower(cfg.BatchIDSource) {
	case "", "sql":
		return sqlSeq, nil
	case "snowflake":
		sf, err := idgen.NewSnowflake(cfg.SnowflakeNode)
		if err != nil {
			return nil, fmt.Errorf("batch ids: %w", err)
		}
		return sf, nil
	case "redis":
		if infra == nil || infra.Redis == nil {
			return nil, fmt.Errorf("batch ids: redis source selected but redis is disabled")
		}
		seq := redisclient.NewSequence(infra.Redis)
		if sqlSeq != nil {
			floor, err := sqlSeq.NextBatchID(ctx)
			if err != nil {
				return nil, fmt.Errorf("batch ids: read sql floor: %w", err)
			}
			if err := seq.Seed(ctx, floor); err != nil {
				return nil, err
			}
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("batch ids: unknown source %q", cfg.BatchIDSource)
	}
}

func notificationSender(cfg *config.Config, infra *Infrastructure, logger logging.Logger) (domainRenewal.NotificationSender, error) {
	switch cfg.Renewal.NotificationTransport {
	case "kafka":
		if infra.Producer == nil {
			return nil, fmt.Errorf("notifications: kafka transport selected but no producer is configured")
		}
		return kafka.NewNotificationPublisher(infra.Producer, cfg.Kafka.ClientID, logger.Named("notifications")), nil
	case "amqp":
		if infra.AMQP == nil {
			return nil, fmt.Errorf("notifications: amqp transport selected but no publisher is configured")
		}
		return infra.AMQP, nil
	default:
		return logsender.New(logger), nil
	}
}

func metricsOrNoop(m appRenewal.Metrics) appRenewal.Metrics {
	if m == nil {
		return appRenewal.NoopMetrics()
	}
	return m
}

// StoreSink writes matter events straight to the store when no broker sits
// between the workflow and the event log.
type StoreSink struct {
	Store domainRenewal.MatterEventStore
}

func (s StoreSink) Publish(ctx context.Context, events ...domainRenewal.MatterEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.Store.Append(ctx, events...)
}

// MetricsFromConfig builds the collector and renewal metrics, or nils when
// metrics are disabled.
func MetricsFromConfig(cfg config.MetricsConfig, service string, logger logging.Logger) (prometheus.MetricsCollector, *prometheus.RenewalMetrics, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
		ConstLabels:          map[string]string{"service": service},
	}, logger.Named("metrics"))
	if err != nil {
		return nil, nil, err
	}
	return collector, prometheus.NewRenewalMetrics(collector), nil
}

// AppMetrics returns m as the application metrics receiver, or nil.
func AppMetrics(m *prometheus.RenewalMetrics) appRenewal.Metrics {
	if m == nil {
		return nil
	}
	return m
}

// StartUptime updates the uptime gauge every interval until ctx ends.
func StartUptime(ctx context.Context, m *prometheus.RenewalMetrics, service string, interval time.Duration) {
	if m == nil {
		return
	}
	start := time.Now()
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.ServiceUptime.WithLabelValues(service).Set(time.Since(start).Seconds())
			}
		}
	}()
}
