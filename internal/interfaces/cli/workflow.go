package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/keyip-renewals/pkg/errors"
	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

// batchFunc runs one workflow operation over ids.
type batchFunc func(ctx context.Context, rt *Runtime, ids []int64) (*commontypes.BatchResult, error)

// runBatch parses the id arguments, applies fn and prints the result. A
// rejected batch is printed and then returned as an error so the exit code
// reflects it.
func runBatch(cmd *cobra.Command, idArgs []string, fn batchFunc) error {
	ids, err := parseIDArgs(idArgs)
	if err != nil {
		return err
	}
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime, cc *CLIContext) error {
		res, err := fn(ctx, rt, ids)
		if err != nil {
			return err
		}
		if err := PrintResult(cmd, batchView{res}); err != nil {
			return err
		}
		if !res.Success {
			return errors.New(errors.ErrCodeTransitionRejected, res.Message)
		}
		return nil
	})
}

type batchView struct {
	*commontypes.BatchResult
}

func (b batchView) TableHeaders() []string {
	return []string{"Result", "Batch", "Affected", "Message"}
}

func (b batchView) TableRows() [][]string {
	status := color.GreenString("OK")
	if !b.Success {
		status = color.RedString("REJECTED")
	}
	batch := ""
	if b.BatchID > 0 {
		batch = strconv.FormatInt(b.BatchID, 10)
	}
	rows := [][]string{{status, batch, strconv.Itoa(b.AffectedCount), b.Message}}
	for _, e := range b.Errors {
		rows = append(rows, []string{color.YellowString("error"), "", "", e})
	}
	return rows
}

func newStepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "step TARGET ID...",
		Short: "Move renewals to a workflow step",
		Long: `Move every renewal to TARGET. The whole batch is rejected when one renewal
cannot reach TARGET from its current step.`,
		Example: "  renewctl step REMINDER_SENT 101 102\n  renewctl step 3 101,102",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseStep(args[0])
			if err != nil {
				return err
			}
			return runBatch(cmd, args[1:], func(ctx context.Context, rt *Runtime, ids []int64) (*commontypes.BatchResult, error) {
				return rt.Workflow.UpdateStep(ctx, ids, target)
			})
		},
	}
}

func newInvoiceStepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoice-step TARGET ID...",
		Short: "Move renewals to an invoice step",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseInvoiceStep(args[0])
			if err != nil {
				return err
			}
			return runBatch(cmd, args[1:], func(ctx context.Context, rt *Runtime, ids []int64) (*commontypes.BatchResult, error) {
				return rt.Workflow.UpdateInvoiceStep(ctx, ids, target)
			})
		},
	}
}

func newGraceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grace VALUE ID...",
		Short: "Set the grace period flag of renewals",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return errors.NewValidationError("grace_period", "must be an integer")
			}
			return runBatch(cmd, args[1:], func(ctx context.Context, rt *Runtime, ids []int64) (*commontypes.BatchResult, error) {
				return rt.Workflow.SetGracePeriod(ctx, ids, value)
			})
		},
	}
}

func newDoneCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "done ID...",
		Short: "Mark renewals as done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doneDate, err := parseDate(date, "date")
			if err != nil {
				return err
			}
			return runBatch(cmd, args, func(ctx context.Context, rt *Runtime, ids []int64) (*commontypes.BatchResult, error) {
				return rt.Workflow.MarkAsDone(ctx, ids, doneDate)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "done date (YYYY-MM-DD, default today)")
	return cmd
}

func newAbandonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abandon ID...",
		Short: "Abandon renewals and flag their matters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, func(ctx context.Context, rt *Runtime, ids []int64) (*commontypes.BatchResult, error) {
				return rt.Workflow.Abandon(ctx, ids)
			})
		},
	}
}

func newAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance ID...",
		Short: "Move each renewal to its own next step",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, func(ctx context.Context, rt *Runtime, ids []int64) (*commontypes.BatchResult, error) {
				return rt.Workflow.Advance(ctx, ids)
			})
		},
	}
}
