package cli

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	appRenewal "github.com/turtacn/keyip-renewals/internal/application/renewal"
	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

type MockPipeline struct {
	mock.Mock
}

func (m *MockPipeline) List(ctx context.Context, f domainRenewal.Filter) (*commontypes.PaginatedResult[appRenewal.TaskView], error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*commontypes.PaginatedResult[appRenewal.TaskView]), args.Error(1)
}

func (m *MockPipeline) Dashboard(ctx context.Context) (*appRenewal.Dashboard, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appRenewal.Dashboard), args.Error(1)
}

func (m *MockPipeline) RefreshGauges(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPipeline) CalculateFees(ctx context.Context, ids []int64) ([]domainRenewal.Breakdown, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domainRenewal.Breakdown), args.Error(1)
}

func (m *MockPipeline) Transitions(ctx context.Context, batchID int64) ([]domainRenewal.TransitionLogEntry, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domainRenewal.TransitionLogEntry), args.Error(1)
}

func (m *MockPipeline) TaskTransitions(ctx context.Context, taskID int64) ([]domainRenewal.TransitionLogEntry, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domainRenewal.TransitionLogEntry), args.Error(1)
}

func (m *MockPipeline) DueForReminder(ctx context.Context, horizon time.Duration) ([]int64, error) {
	args := m.Called(ctx, horizon)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

type MockWorkflow struct {
	mock.Mock
}

func (m *MockWorkflow) batch(args mock.Arguments) (*commontypes.BatchResult, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*commontypes.BatchResult), args.Error(1)
}

func (m *MockWorkflow) UpdateStep(ctx context.Context, ids []int64, target domainRenewal.Step) (*commontypes.BatchResult, error) {
	return m.batch(m.Called(ctx, ids, target))
}

func (m *MockWorkflow) UpdateInvoiceStep(ctx context.Context, ids []int64, target domainRenewal.InvoiceStep) (*commontypes.BatchResult, error) {
	return m.batch(m.Called(ctx, ids, target))
}

func (m *MockWorkflow) SetGracePeriod(ctx context.Context, ids []int64, value int) (*commontypes.BatchResult, error) {
	return m.batch(m.Called(ctx, ids, value))
}

func (m *MockWorkflow) MarkAsDone(ctx context.Context, ids []int64, doneDate *time.Time) (*commontypes.BatchResult, error) {
	return m.batch(m.Called(ctx, ids, doneDate))
}

func (m *MockWorkflow) Abandon(ctx context.Context, ids []int64) (*commontypes.BatchResult, error) {
	return m.batch(m.Called(ctx, ids))
}

func (m *MockWorkflow) Advance(ctx context.Context, ids []int64) (*commontypes.BatchResult, error) {
	return m.batch(m.Called(ctx, ids))
}

func (m *MockWorkflow) AfterSend(ctx context.Context, batchID int64, tasks []*domainRenewal.Task, spec domainRenewal.KindSpec) (*commontypes.BatchResult, error) {
	return m.batch(m.Called(ctx, batchID, tasks, spec))
}

type MockComms struct {
	mock.Mock
}

func (m *MockComms) Send(ctx context.Context, ids []int64, kind domainRenewal.NotificationKind) (*appRenewal.SendReport, error) {
	args := m.Called(ctx, ids, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appRenewal.SendReport), args.Error(1)
}

type MockExports struct {
	mock.Mock
}

func (m *MockExports) file(args mock.Arguments) (*appRenewal.ExportFile, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appRenewal.ExportFile), args.Error(1)
}

func (m *MockExports) ExportCSV(ctx context.Context, ids []int64) (*appRenewal.ExportFile, error) {
	return m.file(m.Called(ctx, ids))
}

func (m *MockExports) ExportXLSX(ctx context.Context, ids []int64) (*appRenewal.ExportFile, error) {
	return m.file(m.Called(ctx, ids))
}

func (m *MockExports) ExportPaymentXML(ctx context.Context, ids []int64, markDone bool) (*appRenewal.ExportFile, error) {
	return m.file(m.Called(ctx, ids, markDone))
}

type MockMigrator struct {
	mock.Mock
}

func (m *MockMigrator) Up() error { return m.Called().Error(0) }

func (m *MockMigrator) Down(steps int) error { return m.Called(steps).Error(0) }

func (m *MockMigrator) Status() (uint, bool, error) {
	args := m.Called()
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

func (m *MockWorkflow) CanTransition(from, to domainRenewal.Step) bool {
	return domainRenewal.CanTransition(from, to)
}

func (m *MockWorkflow) GetNextStep(current domainRenewal.Step) (domainRenewal.Step, bool) {
	return domainRenewal.GetNextStep(current)
}
