// Package cli implements renewctl, the operator command line for the renewal
// pipeline.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	appRenewal "github.com/turtacn/keyip-renewals/internal/application/renewal"
	"github.com/turtacn/keyip-renewals/internal/config"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const (
	OutputTable = "table"
	OutputJSON  = "json"
)

type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Actor        string
	Timeout      time.Duration
}

// Runtime is the set of services one command invocation works with.
type Runtime struct {
	Pipeline appRenewal.PipelineService
	Workflow appRenewal.WorkflowService
	Comms    appRenewal.CommunicationService
	Exports  appRenewal.ExportService
	// Close releases the underlying clients. May be nil.
	Close func()
}

// RuntimeFactory opens the services for cfg.
type RuntimeFactory func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Runtime, error)

// Migrator applies schema migrations.
type Migrator interface {
	Up() error
	Down(steps int) error
	Status() (version uint, dirty bool, err error)
}

// MigratorFactory builds a Migrator for cfg.
type MigratorFactory func(cfg *config.Config) Migrator

// Dependencies are injected by main so commands can run against fakes.
type Dependencies struct {
	NewRuntime  RuntimeFactory
	NewMigrator MigratorFactory
	// LoadConfig defaults to config.LoadOrEnv.
	LoadConfig func(path string) (*config.Config, error)
	// NewLogger defaults to a console logger on stderr.
	NewLogger func(level string) (logging.Logger, error)
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	OutputFormat string
	Actor        string
	Timeout      time.Duration

	deps Dependencies
}

// NewRootCommand creates the renewctl command tree.
func NewRootCommand(deps Dependencies) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "renewctl",
		Short: "Operate the patent renewal pipeline",
		Long: `renewctl lists renewals, moves them through the workflow, sends client
notifications and produces exports. Every write is recorded in the transition
log under the acting user.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts, deps)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: environment only)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", OutputTable, "output format (table, json)")
	pf.StringVar(&opts.Actor, "actor", defaultActor(), "login recorded in the transition log")
	pf.DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "overall operation timeout")

	cmd.AddCommand(
		newListCmd(),
		newDashboardCmd(),
		newFeesCmd(),
		newTransitionsCmd(),
		newStepCmd(),
		newInvoiceStepCmd(),
		newGraceCmd(),
		newDoneCmd(),
		newAbandonCmd(),
		newAdvanceCmd(),
		newNotifyCmd(),
		newExportCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return appRenewal.SystemActor
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions, deps Dependencies) error {
	format := strings.ToLower(opts.OutputFormat)
	if format != OutputTable && format != OutputJSON {
		return errors.NewValidationError("output", fmt.Sprintf("unsupported format %q", opts.OutputFormat))
	}

	load := deps.LoadConfig
	if load == nil {
		load = config.LoadOrEnv
	}
	cfg, err := load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	newLogger := deps.NewLogger
	if newLogger == nil {
		newLogger = consoleLogger
	}
	logger, err := newLogger(opts.LogLevel)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		OutputFormat: format,
		Actor:        opts.Actor,
		Timeout:      opts.Timeout,
		deps:         deps,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = appRenewal.WithActor(ctx, opts.Actor)
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return nil
}

func consoleLogger(level string) (logging.Logger, error) {
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// GetCLIContext extracts CLIContext from a cobra command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.NewValidationError("context", "command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.NewValidationError("context", "CLIContext not found in command context")
	}
	return cliCtx, nil
}

// withRuntime opens the services, runs fn under the global timeout and
// closes them again.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime, cc *CLIContext) error) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	if cc.deps.NewRuntime == nil {
		return errors.New(errors.ErrCodeInternal, "no service runtime configured")
	}

	ctx := cmd.Context()
	if cc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cc.Timeout)
		defer cancel()
	}

	rt, err := cc.deps.NewRuntime(ctx, cc.Config, cc.Logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if rt.Close != nil {
		defer rt.Close()
	}
	return fn(ctx, rt, cc)
}

// Execute builds the command tree and runs it with os.Args.
func Execute(deps Dependencies) error {
	rootCmd := NewRootCommand(deps)
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

// tableData is implemented by results that know their table layout.
type tableData interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult writes data as JSON or, for table output, through its table
// layout when it has one.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := OutputJSON
	if cc, err := GetCLIContext(cmd); err == nil {
		format = cc.OutputFormat
	}
	if format == OutputJSON {
		return printJSON(cmd.OutOrStdout(), data)
	}
	if td, ok := data.(tableData); ok {
		return renderTable(cmd.OutOrStdout(), td.TableHeaders(), td.TableRows())
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}
