package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	appRenewal "github.com/turtacn/keyip-renewals/internal/application/renewal"
	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/pkg/errors"
	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

const dateLayout = "2006-01-02"

// ─────────────────────────────────────────────────────────────────────────────
// list
// ─────────────────────────────────────────────────────────────────────────────

type listOptions struct {
	step        string
	invoiceStep string
	dueFrom     string
	dueTo       string
	caseref     string
	client      string
	country     string
	title       string
	assignedTo  string
	page        int
	pageSize    int
}

func newListCmd() *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending renewals with their fee breakdown",
		Example: `  renewctl list --step INSTRUCTIONS_SENT --country FR
  renewctl list --due-to 2026-12-31 --assigned-to me -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *Runtime, cc *CLIContext) error {
				f, err := opts.filter(ctx)
				if err != nil {
					return err
				}
				page, err := rt.Pipeline.List(ctx, f)
				if err != nil {
					return err
				}
				return PrintResult(cmd, taskPage{page})
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&opts.step, "step", "", "workflow step (name or number)")
	fl.StringVar(&opts.invoiceStep, "invoice-step", "", "invoice step (name or number)")
	fl.StringVar(&opts.dueFrom, "due-from", "", "earliest due date (YYYY-MM-DD)")
	fl.StringVar(&opts.dueTo, "due-to", "", "latest due date (YYYY-MM-DD)")
	fl.StringVar(&opts.caseref, "caseref", "", "case reference prefix")
	fl.StringVar(&opts.client, "client", "", "client name prefix")
	fl.StringVar(&opts.country, "country", "", "country code prefix")
	fl.StringVar(&opts.title, "title", "", "title substring")
	fl.StringVar(&opts.assignedTo, "assigned-to", "", `responsible login; "me" for --actor`)
	fl.IntVar(&opts.page, "page", 1, "page number")
	fl.IntVar(&opts.pageSize, "page-size", commontypes.DefaultPageSize, "rows per page")
	return cmd
}

func (o *listOptions) filter(ctx context.Context) (domainRenewal.Filter, error) {
	opts := []domainRenewal.FilterOption{domainRenewal.WithPage(o.page, o.pageSize)}

	if o.step != "" {
		s, err := parseStep(o.step)
		if err != nil {
			return domainRenewal.Filter{}, err
		}
		opts = append(opts, domainRenewal.WithStep(s))
	}
	if o.invoiceStep != "" {
		s, err := parseInvoiceStep(o.invoiceStep)
		if err != nil {
			return domainRenewal.Filter{}, err
		}
		opts = append(opts, domainRenewal.WithInvoiceStep(s))
	}

	from, err := parseDate(o.dueFrom, "due-from")
	if err != nil {
		return domainRenewal.Filter{}, err
	}
	to, err := parseDate(o.dueTo, "due-to")
	if err != nil {
		return domainRenewal.Filter{}, err
	}
	if from != nil || to != nil {
		opts = append(opts, domainRenewal.WithDueRange(from, to))
	}

	if o.caseref != "" {
		opts = append(opts, domainRenewal.WithCaseref(o.caseref))
	}
	if o.client != "" {
		opts = append(opts, domainRenewal.WithClient(o.client))
	}
	if o.country != "" {
		opts = append(opts, domainRenewal.WithCountry(o.country))
	}
	if o.title != "" {
		opts = append(opts, domainRenewal.WithTitle(o.title))
	}
	if o.assignedTo != "" {
		login := o.assignedTo
		if login == "me" {
			login = appRenewal.ActorFromContext(ctx)
		}
		opts = append(opts, domainRenewal.WithAssignedTo(login))
	}
	return domainRenewal.NewFilter(opts...), nil
}

type taskPage struct {
	*commontypes.PaginatedResult[appRenewal.TaskView]
}

func (p taskPage) TableHeaders() []string {
	return []string{"ID", "Caseref", "Country", "Client", "Due", "Step", "Invoice", "Grace", "Total", "Total w/ VAT"}
}

func (p taskPage) TableRows() [][]string {
	rows := make([][]string, 0, len(p.Items)+1)
	for _, v := range p.Items {
		var caseref, country, client string
		if m := v.Matter; m != nil {
			caseref, country = m.Caseref, m.Country
		}
		if c := v.Client(); c != nil {
			client = c.Name
		}
		rows = append(rows, []string{
			strconv.FormatInt(v.ID, 10),
			caseref,
			country,
			client,
			v.DueDate.Format(dateLayout),
			v.Step.String(),
			v.InvoiceStep.String(),
			strconv.Itoa(v.GracePeriod),
			v.Breakdown.Total.StringFixed(2),
			v.Breakdown.TotalWithVAT.StringFixed(2),
		})
	}
	pg := p.Pagination
	rows = append(rows, []string{"", fmt.Sprintf("page %d/%d", pg.Page, pg.TotalPages), "", "", "", "", "", "", fmt.Sprintf("%d rows", pg.Total), ""})
	return rows
}

// ─────────────────────────────────────────────────────────────────────────────
// dashboard
// ─────────────────────────────────────────────────────────────────────────────

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Count pending renewals per step and invoice step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *Runtime, cc *CLIContext) error {
				d, err := rt.Pipeline.Dashboard(ctx)
				if err != nil {
					return err
				}
				return PrintResult(cmd, dashboardView{d})
			})
		},
	}
}

type dashboardView struct {
	*appRenewal.Dashboard
}

func (d dashboardView) TableHeaders() []string {
	return []string{"Axis", "Stage", "Pending"}
}

func (d dashboardView) TableRows() [][]string {
	var rows [][]string
	for _, s := range domainRenewal.AllSteps {
		rows = append(rows, []string{"step", s.String(), strconv.Itoa(d.ByStep[s.String()])})
	}
	for _, s := range domainRenewal.AllInvoiceSteps {
		rows = append(rows, []string{"invoice", s.String(), strconv.Itoa(d.ByInvoiceStep[s.String()])})
	}
	rows = append(rows, []string{"total", "", strconv.Itoa(d.Total)})
	return rows
}

// ─────────────────────────────────────────────────────────────────────────────
// fees
// ─────────────────────────────────────────────────────────────────────────────

func newFeesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fees ID...",
		Short: "Compute the fee breakdown of renewals",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *Runtime, cc *CLIContext) error {
				items, err := rt.Pipeline.CalculateFees(ctx, ids)
				if err != nil {
					return err
				}
				return PrintResult(cmd, feeView{Items: items, Totals: domainRenewal.Totals(items)})
			})
		},
	}
}

type feeView struct {
	Items  []domainRenewal.Breakdown `json:"items"`
	Totals domainRenewal.Breakdown   `json:"totals"`
}

func (f feeView) TableHeaders() []string {
	return []string{"Task", "Cost", "Fee", "VAT rate", "VAT", "Total", "Total w/ VAT"}
}

func (f feeView) TableRows() [][]string {
	row := func(label string, b domainRenewal.Breakdown) []string {
		return []string{
			label,
			b.Cost.StringFixed(2),
			b.Fee.StringFixed(2),
			b.VATRate.String(),
			b.VATAmount.StringFixed(2),
			b.Total.StringFixed(2),
			b.TotalWithVAT.StringFixed(2),
		}
	}
	rows := make([][]string, 0, len(f.Items)+1)
	for _, b := range f.Items {
		rows = append(rows, row(strconv.FormatInt(b.TaskID, 10), b))
	}
	totals := row("TOTAL", f.Totals)
	totals[3] = ""
	return append(rows, totals)
}

// ─────────────────────────────────────────────────────────────────────────────
// transitions
// ─────────────────────────────────────────────────────────────────────────────

func newTransitionsCmd() *cobra.Command {
	var batchID, taskID int64
	cmd := &cobra.Command{
		Use:   "transitions",
		Short: "Show the transition log of a batch or a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (batchID > 0) == (taskID > 0) {
				return errors.NewValidationError("transitions", "exactly one of --batch or --task is required")
			}
			return withRuntime(cmd, func(ctx context.Context, rt *Runtime, cc *CLIContext) error {
				var (
					entries []domainRenewal.TransitionLogEntry
					err     error
				)
				if batchID > 0 {
					entries, err = rt.Pipeline.Transitions(ctx, batchID)
				} else {
					entries, err = rt.Pipeline.TaskTransitions(ctx, taskID)
				}
				if err != nil {
					return err
				}
				return PrintResult(cmd, transitionView(entries))
			})
		},
	}
	cmd.Flags().Int64Var(&batchID, "batch", 0, "batch id")
	cmd.Flags().Int64Var(&taskID, "task", 0, "task id")
	return cmd
}

type transitionView []domainRenewal.TransitionLogEntry

func (t transitionView) TableHeaders() []string {
	return []string{"Batch", "Task", "Axis", "From", "To", "Actor", "At"}
}

func (t transitionView) TableRows() [][]string {
	sorted := make([]domainRenewal.TransitionLogEntry, len(t))
	copy(sorted, t)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	rows := make([][]string, 0, len(sorted))
	for _, e := range sorted {
		rows = append(rows, []string{
			strconv.FormatInt(e.BatchID, 10),
			strconv.FormatInt(e.TaskID, 10),
			string(e.Axis),
			axisValue(e.Axis, e.From),
			axisValue(e.Axis, e.To),
			e.Actor,
			e.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func axisValue(axis domainRenewal.Axis, v int) string {
	switch axis {
	case domainRenewal.AxisStep:
		return domainRenewal.Step(v).String()
	case domainRenewal.AxisInvoiceStep:
		return domainRenewal.InvoiceStep(v).String()
	default:
		return strconv.Itoa(v)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Argument parsing
// ─────────────────────────────────────────────────────────────────────────────

// parseIDArgs accepts ids as separate arguments or comma separated lists.
func parseIDArgs(args []string) ([]int64, error) {
	var raw []string
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part != "" {
				raw = append(raw, part)
			}
		}
	}
	ids, malformed := domainRenewal.ParseIDs(raw)
	if len(malformed) > 0 {
		return nil, errors.NewValidationError("ids", "malformed task id(s): "+strings.Join(malformed, ", "))
	}
	if len(ids) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyBatch, "no task ids given")
	}
	return ids, nil
}

func parseStep(raw string) (domainRenewal.Step, error) {
	s, err := domainRenewal.ParseStep(raw)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeInvalidStep, "invalid step")
	}
	return s, nil
}

func parseInvoiceStep(raw string) (domainRenewal.InvoiceStep, error) {
	s, err := domainRenewal.ParseInvoiceStep(raw)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeInvalidInvoiceStep, "invalid invoice step")
	}
	return s, nil
}

func parseDate(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidDate, field+" must be YYYY-MM-DD")
	}
	return &t, nil
}
