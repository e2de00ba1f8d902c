package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	appRenewal "github.com/turtacn/keyip-renewals/internal/application/renewal"
	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// notify
// ─────────────────────────────────────────────────────────────────────────────

func newNotifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify KIND ID...",
		Short: "Send a renewal call to the clients of the given renewals",
		Long: `Group the renewals by client and send one message per group.
KIND is first (first call), warn (reminder) or last (last call).`,
		Example: "  renewctl notify first 101 102 103",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domainRenewal.ParseNotificationKind(args[0])
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeUnsupportedNotification, "unsupported notification kind")
			}
			ids, err := parseIDArgs(args[1:])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *Runtime, cc *CLIContext) error {
				report, err := rt.Comms.Send(ctx, ids, kind)
				if err != nil {
					return err
				}
				if err := PrintResult(cmd, sendView{report}); err != nil {
					return err
				}
				if report.Succeeded == 0 && len(report.Errors) > 0 {
					return errors.New(errors.ErrCodeNotificationSendFailed, report.BatchResult().Message)
				}
				return nil
			})
		},
	}
}

type sendView struct {
	*appRenewal.SendReport
}

func (s sendView) TableHeaders() []string {
	return []string{"Status", "Client", "Recipient", "Tasks", "Detail"}
}

func (s sendView) TableRows() [][]string {
	var rows [][]string
	group := func(status string, g appRenewal.GroupError) []string {
		return []string{status, strconv.FormatInt(g.ClientID, 10), g.Recipient, joinIDs(g.TaskIDs), g.Error}
	}
	for _, g := range s.Errors {
		rows = append(rows, group(color.RedString("failed"), g))
	}
	for _, g := range s.Skipped {
		rows = append(rows, group(color.YellowString("skipped"), g))
	}
	if len(s.NotFound) > 0 {
		rows = append(rows, []string{color.YellowString("not found"), "", "", joinIDs(s.NotFound), ""})
	}
	summary := fmt.Sprintf("%s: %d/%d sent, batch %d", s.Kind, s.Succeeded, s.Total, s.BatchID)
	if s.TransitionError != "" {
		summary += "; transition failed: " + s.TransitionError
	}
	return append(rows, []string{color.GreenString("done"), "", "", "", summary})
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// ─────────────────────────────────────────────────────────────────────────────
// export
// ─────────────────────────────────────────────────────────────────────────────

func newExportCmd() *cobra.Command {
	var (
		out      string
		markDone bool
	)
	cmd := &cobra.Command{
		Use:   "export FORMAT ID...",
		Short: "Export renewals as csv, xlsx or payment xml",
		Long: `Write the selected renewals to a file. FORMAT is csv, xlsx or xml. The xml
payment document requires renewals of a single country; with --mark-done the
exported renewals are closed once the document is built.`,
		Example: "  renewctl export xlsx 101 102 --out renewals.xlsx\n  renewctl export xml 101,102 --mark-done",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format := strings.ToLower(args[0])
			if markDone && format != "xml" {
				return errors.NewValidationError("mark-done", "only applies to the xml export")
			}
			ids, err := parseIDArgs(args[1:])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *Runtime, cc *CLIContext) error {
				var file *appRenewal.ExportFile
				switch format {
				case "csv":
					file, err = rt.Exports.ExportCSV(ctx, ids)
				case "xlsx":
					file, err = rt.Exports.ExportXLSX(ctx, ids)
				case "xml":
					file, err = rt.Exports.ExportPaymentXML(ctx, ids, markDone)
				default:
					return errors.NewValidationError("format", fmt.Sprintf("unsupported export format %q", args[0]))
				}
				if err != nil {
					return err
				}
				return writeExport(cmd, file, out)
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", `output path; "-" writes to stdout (default: generated file name)`)
	cmd.Flags().BoolVar(&markDone, "mark-done", false, "close the exported renewals (xml only)")
	return cmd
}

func writeExport(cmd *cobra.Command, file *appRenewal.ExportFile, out string) error {
	if out == "-" {
		_, err := cmd.OutOrStdout().Write(file.Data)
		return err
	}
	if out == "" {
		out = file.Name
	}
	if err := os.WriteFile(filepath.Clean(out), file.Data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeExportFailed, "failed to write export")
	}
	return PrintResult(cmd, exportView{Path: out, ExportFile: file})
}

type exportView struct {
	Path string `json:"path"`
	*appRenewal.ExportFile
}

func (e exportView) TableHeaders() []string {
	return []string{"File", "Rows", "Archived", "Marked done"}
}

func (e exportView) TableRows() [][]string {
	marked := ""
	if e.MarkResult != nil {
		marked = e.MarkResult.Summary("renewals closed")
	}
	return [][]string{{e.Path, strconv.Itoa(e.Rows), e.URL, marked}}
}
