// Command worker runs the scheduled renewal jobs and persists matter events
// consumed from Kafka.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/keyip-renewals/internal/bootstrap"
	"github.com/turtacn/keyip-renewals/internal/config"
	redisclient "github.com/turtacn/keyip-renewals/internal/infrastructure/database/redis"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/internal/worker"
)

const serviceName = "renewal-worker"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file (environment only when empty)")
	runNow := flag.String("run", "", "run one job immediately and exit (reminder_sweep, stage_gauges)")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadOrEnv(*configPath)
	if err != nil {
		return err
	}

	logger, level, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger = logger.Named("worker")

	if *configPath != "" {
		err := config.Watch(*configPath, func(next *config.Config) {
			level.SetLevel(next.Log.Level)
		}, func(err error) {
			logger.Warn("Ignoring invalid configuration change", logging.Err(err))
		})
		if err != nil {
			logger.Warn("Configuration watch disabled", logging.Err(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, metrics, err := bootstrap.MetricsFromConfig(cfg.Metrics, serviceName, logger)
	if err != nil {
		return err
	}

	infra, err := bootstrap.NewInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	svc, err := bootstrap.NewServices(ctx, cfg, infra, bootstrap.AppMetrics(metrics), logger)
	if err != nil {
		return err
	}

	var guard worker.Guard = worker.LocalGuard
	if infra.Redis != nil {
		guard = worker.LockGuard(redisclient.NewLockFactory(infra.Redis, logger.Named("lock")), cfg.Worker.LockTTL)
	}
	scheduler := worker.NewScheduler(guard, metrics, logger.Named("scheduler"), cfg.Worker.LockTTL)

	horizon := time.Duration(cfg.Renewal.ReminderHorizonDays) * 24 * time.Hour
	jobs := []worker.Job{
		worker.ReminderJob(cfg.Renewal.ReminderSchedule, horizon, svc.Pipeline, svc.Comms, logger.Named("reminders")),
		worker.GaugeJob(cfg.Renewal.DashboardSchedule, svc.Pipeline),
	}

	if *runNow != "" {
		for _, job := range jobs {
			if job.Name == *runNow {
				return scheduler.RunOnce(ctx, job)
			}
		}
		return fmt.Errorf("unknown job %q", *runNow)
	}

	for _, job := range jobs {
		if err := scheduler.Add(job); err != nil {
			return err
		}
	}

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled && infra.Producer != nil {
		consumer, err = kafka.NewConsumer(
			kafka.ConsumerConfigFrom(cfg.Kafka, kafka.TopicRenewalAbandoned),
			infra.Producer,
			logger.Named("consumer"),
		)
		if err != nil {
			return err
		}
		consumer.Subscribe(kafka.TopicRenewalAbandoned, kafka.MatterEventHandler(svc.MatterEvents, logger.Named("events")))
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	}

	ops := worker.OpsConfig{
		Port:        cfg.Worker.HealthPort,
		MetricsPath: cfg.Metrics.Path,
		Checks:      infra.HealthCheckers(),
	}
	if collector != nil {
		ops.Metrics = collector.Handler()
	}
	opsServer := worker.NewOpsServer(ops, logger.Named("ops"))
	opsServer.Start()

	scheduler.Start()
	bootstrap.StartUptime(ctx, metrics, serviceName, 15*time.Second)
	logger.Info("Renewal worker started",
		logging.Bool("consumer", consumer != nil),
		logging.Int("health_port", cfg.Worker.HealthPort),
	)

	<-ctx.Done()
	logger.Info("Shutting down renewal worker")

	timeout := cfg.Worker.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("Closing consumer failed", logging.Err(err))
		}
	}
	if err := opsServer.Stop(shutdownCtx); err != nil {
		logger.Warn("Ops server shutdown failed", logging.Err(err))
	}
	logger.Info("Renewal worker stopped")
	return nil
}
