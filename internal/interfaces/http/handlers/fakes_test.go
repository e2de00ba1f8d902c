package handlers

import (
	"context"
	"time"

	appRenewal "github.com/turtacn/keyip-renewals/internal/application/renewal"
	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

type fakePipeline struct {
	lastFilter  domainRenewal.Filter
	lastActor   string
	listErr     error
	dashboard   *appRenewal.Dashboard
	fees        []domainRenewal.Breakdown
	feesErr     error
	transitions []domainRenewal.TransitionLogEntry
	lastBatch   int64
	lastTask    int64
}

func (f *fakePipeline) List(ctx context.Context, filter domainRenewal.Filter) (*commontypes.PaginatedResult[appRenewal.TaskView], error) {
	f.lastFilter = filter
	f.lastActor = appRenewal.ActorFromContext(ctx)
	if f.listErr != nil {
		return nil, f.listErr
	}
	p := filter.Pagination()
	return &commontypes.PaginatedResult[appRenewal.TaskView]{
		Items:      []appRenewal.TaskView{{Task: &domainRenewal.Task{ID: 7}}},
		Pagination: commontypes.NewPaginationResult(p, 1),
	}, nil
}

func (f *fakePipeline) Dashboard(context.Context) (*appRenewal.Dashboard, error) {
	return f.dashboard, nil
}

func (f *fakePipeline) RefreshGauges(context.Context) error { return nil }

func (f *fakePipeline) CalculateFees(_ context.Context, ids []int64) ([]domainRenewal.Breakdown, error) {
	return f.fees, f.feesErr
}

func (f *fakePipeline) Transitions(_ context.Context, batchID int64) ([]domainRenewal.TransitionLogEntry, error) {
	f.lastBatch = batchID
	return f.transitions, nil
}

func (f *fakePipeline) TaskTransitions(_ context.Context, taskID int64) ([]domainRenewal.TransitionLogEntry, error) {
	f.lastTask = taskID
	return f.transitions, nil
}

func (f *fakePipeline) DueForReminder(context.Context, time.Duration) ([]int64, error) {
	return nil, nil
}

type fakeWorkflow struct {
	calls     []string
	lastIDs   []int64
	lastStep  domainRenewal.Step
	lastInv   domainRenewal.InvoiceStep
	lastGrace int
	lastDone  *time.Time
	lastActor string
	result    *commontypes.BatchResult
	err       error
}

func (f *fakeWorkflow) record(ctx context.Context, op string, ids []int64) (*commontypes.BatchResult, error) {
	f.calls = append(f.calls, op)
	f.lastIDs = ids
	f.lastActor = appRenewal.ActorFromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	if len(ids) == 0 {
		return commontypes.Rejected("no renewal task ids supplied"), nil
	}
	return commontypes.Succeeded(len(ids), op), nil
}

func (f *fakeWorkflow) UpdateStep(ctx context.Context, ids []int64, target domainRenewal.Step) (*commontypes.BatchResult, error) {
	f.lastStep = target
	return f.record(ctx, "step", ids)
}

func (f *fakeWorkflow) UpdateInvoiceStep(ctx context.Context, ids []int64, target domainRenewal.InvoiceStep) (*commontypes.BatchResult, error) {
	f.lastInv = target
	return f.record(ctx, "invoice-step", ids)
}

func (f *fakeWorkflow) SetGracePeriod(ctx context.Context, ids []int64, value int) (*commontypes.BatchResult, error) {
	f.lastGrace = value
	return f.record(ctx, "grace", ids)
}

func (f *fakeWorkflow) MarkAsDone(ctx context.Context, ids []int64, doneDate *time.Time) (*commontypes.BatchResult, error) {
	f.lastDone = doneDate
	return f.record(ctx, "done", ids)
}

func (f *fakeWorkflow) Abandon(ctx context.Context, ids []int64) (*commontypes.BatchResult, error) {
	return f.record(ctx, "abandon", ids)
}

func (f *fakeWorkflow) Advance(ctx context.Context, ids []int64) (*commontypes.BatchResult, error) {
	return f.record(ctx, "advance", ids)
}

func (f *fakeWorkflow) AfterSend(context.Context, int64, []*domainRenewal.Task, domainRenewal.KindSpec) (*commontypes.BatchResult, error) {
	return commontypes.Succeeded(0, ""), nil
}

func (f *fakeWorkflow) CanTransition(from, to domainRenewal.Step) bool {
	return domainRenewal.CanTransition(from, to)
}

func (f *fakeWorkflow) GetNextStep(current domainRenewal.Step) (domainRenewal.Step, bool) {
	return domainRenewal.GetNextStep(current)
}

type fakeComms struct {
	lastKind domainRenewal.NotificationKind
	lastIDs  []int64
	report   *appRenewal.SendReport
	err      error
}

func (f *fakeComms) Send(_ context.Context, ids []int64, kind domainRenewal.NotificationKind) (*appRenewal.SendReport, error) {
	f.lastKind = kind
	f.lastIDs = ids
	return f.report, f.err
}

type fakeExports struct {
	format   string
	markDone bool
	file     *appRenewal.ExportFile
	err      error
}

func (f *fakeExports) ExportCSV(context.Context, []int64) (*appRenewal.ExportFile, error) {
	f.format = "csv"
	return f.file, f.err
}

func (f *fakeExports) ExportXLSX(context.Context, []int64) (*appRenewal.ExportFile, error) {
	f.format = "xlsx"
	return f.file, f.err
}

func (f *fakeExports) ExportPaymentXML(_ context.Context, _ []int64, markDone bool) (*appRenewal.ExportFile, error) {
	f.format = "xml"
	f.markDone = markDone
	return f.file, f.err
}
