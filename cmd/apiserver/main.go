// Command apiserver serves the renewal back-office HTTP API.
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
	"github.com/turtacn/keyip-renewals/internal/infrastructure/database/postgres"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/turtacn/keyip-renewals/internal/interfaces/http"
	"github.com/turtacn/keyip-renewals/internal/interfaces/http/handlers"
	"github.com/turtacn/keyip-renewals/internal/interfaces/http/middleware"
)

const serviceName = "renewal-api"

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file (environment only when empty)")
	migrate := flag.Bool("migrate", false, "apply pending schema migrations before serving")
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

	if *configPath != "" {
		err := config.Watch(*configPath, func(next *config.Config) {
			level.SetLevel(next.Log.Level)
			logger.Info("Configuration reloaded", logging.String("log_level", next.Log.Level))
		}, func(err error) {
			logger.Warn("Ignoring invalid configuration change", logging.Err(err))
		})
		if err != nil {
			logger.Warn("Configuration watch disabled", logging.Err(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *migrate {
		if err := postgres.RunMigrations(cfg.Database.DSN(), postgres.EmbeddedSource); err != nil {
			return err
		}
		logger.Info("Schema migrations applied")
	}

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

	health := handlers.NewHealthHandler(version, infra.HealthCheckers()...)
	if metrics != nil {
		health.WithObserver(func(component string, up bool) {
			prometheus.RecordHealth(metrics, component, up)
		})
	}

	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		corsCfg.AllowedOrigins = cfg.Server.CORSAllowedOrigins
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		RenewalHandler:   handlers.NewRenewalHandler(svc.Pipeline, svc.Workflow, svc.Comms, svc.Exports, logger.Named("http")),
		HealthHandler:    health,
		CORS:             &corsCfg,
		Logger:           logger.Named("access"),
		Metrics:          metrics,
		MetricsCollector: collector,
		MetricsPath:      cfg.Metrics.Path,
	})
	server := httpserver.NewServer(cfg.Server, router, logger)
	bootstrap.StartUptime(ctx, metrics, serviceName, 15*time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	logger.Info("Renewal API started",
		logging.String("addr", server.Addr()),
		logging.String("version", version),
		logging.String("mode", cfg.Server.Mode),
	)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down renewal API")
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", logging.Err(err))
		return err
	}
	logger.Info("Renewal API stopped")
	return nil
}
