package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/keyip-renewals/pkg/errors"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the renewal database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator(cmd)
				if err != nil {
					return err
				}
				if err := m.Up(); err != nil {
					return err
				}
				return printStatus(cmd, m)
			},
		},
		&cobra.Command{
			Use:   "down [STEPS]",
			Short: "Roll back migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 {
						return errors.NewValidationError("steps", "must be a positive integer")
					}
					steps = n
				}
				m, err := migrator(cmd)
				if err != nil {
					return err
				}
				if err := m.Down(steps); err != nil {
					return err
				}
				return printStatus(cmd, m)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := migrator(cmd)
				if err != nil {
					return err
				}
				return printStatus(cmd, m)
			},
		},
	)
	return cmd
}

func migrator(cmd *cobra.Command) (Migrator, error) {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return nil, err
	}
	if cc.deps.NewMigrator == nil {
		return nil, errors.New(errors.ErrCodeInternal, "no migrator configured")
	}
	return cc.deps.NewMigrator(cc.Config), nil
}

type schemaStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func (s schemaStatus) TableHeaders() []string { return []string{"Version", "Dirty"} }

func (s schemaStatus) TableRows() [][]string {
	return [][]string{{fmt.Sprint(s.Version), strconv.FormatBool(s.Dirty)}}
}

func printStatus(cmd *cobra.Command, m Migrator) error {
	version, dirty, err := m.Status()
	if err != nil {
		return err
	}
	return PrintResult(cmd, schemaStatus{Version: version, Dirty: dirty})
}
