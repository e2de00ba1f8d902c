// Command renewctl is the operator command line of the renewal pipeline.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/turtacn/keyip-renewals/internal/bootstrap"
	"github.com/turtacn/keyip-renewals/internal/config"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/database/postgres"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	deps := cli.Dependencies{
		LoadConfig:  loadConfig,
		NewRuntime:  newRuntime,
		NewMigrator: newMigrator,
	}
	if err := cli.Execute(deps); err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return config.LoadOrEnv(path)
}

func newRuntime(ctx context.Context, cfg *config.Config, logger logging.Logger) (*cli.Runtime, error) {
	infra, err := bootstrap.NewInfrastructure(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	svc, err := bootstrap.NewServices(ctx, cfg, infra, nil, logger)
	if err != nil {
		infra.Close()
		return nil, err
	}
	return &cli.Runtime{
		Pipeline: svc.Pipeline,
		Workflow: svc.Workflow,
		Comms:    svc.Comms,
		Exports:  svc.Exports,
		Close:    infra.Close,
	}, nil
}

func newMigrator(cfg *config.Config) cli.Migrator {
	return postgres.NewMigrator(cfg.Database.DSN(), postgres.EmbeddedSource)
}
