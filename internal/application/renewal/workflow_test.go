package renewal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/testutil"
	apperrors "github.com/turtacn/keyip-renewals/pkg/errors"
)

type workflowFixture struct {
	repo    *memTaskRepo
	ids     *seqIDs
	sink    *mockEventSink
	metrics *recordingMetrics
	svc     WorkflowService
}

func newWorkflowFixture(tasks ...*domainRenewal.Task) *workflowFixture {
	f := &workflowFixture{
		repo:    newMemTaskRepo(tasks...),
		ids:     &seqIDs{next: 100},
		sink:    &mockEventSink{},
		metrics: newRecordingMetrics(),
	}
	f.svc = NewWorkflowService(f.repo, f.ids, testutil.NewMockLogger().KV(),
		WithClock(fixedClock), WithEventSink(f.sink), WithWorkflowMetrics(f.metrics))
	return f
}

func TestUpdateStep_AppliesBatch(t *testing.T) {
	f := newWorkflowFixture(newTask(1, nil, "FR"), newTask(2, nil, "FR"))
	ctx := WithActor(context.Background(), "jdoe")

	res, err := f.svc.UpdateStep(ctx, []int64{1, 2}, domainRenewal.StepInstructionsSent)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.AffectedCount)
	assert.Equal(t, int64(101), res.BatchID)
	assert.Equal(t, "2 renewals updated", res.Message)

	entries := f.repo.entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, int64(101), e.BatchID)
		assert.Equal(t, domainRenewal.AxisStep, e.Axis)
		assert.Equal(t, 0, e.From)
		assert.Equal(t, 1, e.To)
		assert.Equal(t, "jdoe", e.Actor)
		assert.True(t, e.Timestamp.Equal(fixedNow))
	}
	assert.Equal(t, domainRenewal.StepInstructionsSent, f.repo.get(1).Step)
}

func TestUpdateStep_InvalidTargetNeverMutates(t *testing.T) {
	f := newWorkflowFixture(newTask(1, nil, "FR"))

	for _, target := range []domainRenewal.Step{-1, 6, 7, 9, 12, 99} {
		res, err := f.svc.UpdateStep(context.Background(), []int64{1}, target)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 0, res.AffectedCount)
	}
	assert.Empty(t, f.repo.batches)
	assert.Equal(t, 0, f.repo.findByIDsCt, "rejected before any lookup")
	assert.Contains(t, f.metrics.batches, "update_step:rejected")
}

func TestUpdateStep_AbandonedRequiresAbandon(t *testing.T) {
	f := newWorkflowFixture(newTask(1, nil, "FR"))
	res, err := f.svc.UpdateStep(context.Background(), []int64{1}, domainRenewal.StepAbandoned)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, f.repo.batches)
}

func TestUpdateStep_UnreachableRejectsWholeBatch(t *testing.T) {
	a := newTask(1, nil, "FR")
	b := newTask(2, nil, "FR")
	b.Step = domainRenewal.StepInvoiced
	f := newWorkflowFixture(a, b)

	res, err := f.svc.UpdateStep(context.Background(), []int64{1, 2}, domainRenewal.StepReminderSent)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.AffectedCount)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "task 2")
	assert.Empty(t, f.repo.batches)
	assert.Equal(t, domainRenewal.StepOpen, f.repo.get(1).Step)
}

func TestUpdateStep_NotFoundExcluded(t *testing.T) {
	f := newWorkflowFixture(newTask(1, nil, "FR"))

	res, err := f.svc.UpdateStep(context.Background(), []int64{1, 42, -3}, domainRenewal.StepReminderSent)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.AffectedCount)
	assert.ElementsMatch(t, []string{"task -3: not found", "task 42: not found"}, res.Errors)
	assert.Equal(t, "1 renewals updated, 2 errors", res.Message)
}

func TestUpdateStep_NothingFound(t *testing.T) {
	f := newWorkflowFixture()
	res, err := f.svc.UpdateStep(context.Background(), []int64{7}, domainRenewal.StepReminderSent)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"task 7: not found"}, res.Errors)
}

func TestUpdateStep_EmptyIDs(t *testing.T) {
	f := newWorkflowFixture()
	res, err := f.svc.UpdateStep(context.Background(), nil, domainRenewal.StepReminderSent)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.AffectedCount)
}

func TestUpdateStep_ClosedMarksDone(t *testing.T) {
	task := newTask(1, nil, "FR")
	task.Step = domainRenewal.StepReceipts
	f := newWorkflowFixture(task)

	res, err := f.svc.UpdateStep(context.Background(), []int64{1}, domainRenewal.StepClosed)
	require.NoError(t, err)
	assert.True(t, res.Success)

	got := f.repo.get(1)
	assert.True(t, got.Done)
	require.NotNil(t, got.DoneDate)
	assert.True(t, got.DoneDate.Equal(fixedNow))
	assert.Len(t, f.repo.entries(), 2)
}

func TestUpdateStep_AlreadyAtTargetSkipped(t *testing.T) {
	task := newTask(1, nil, "FR")
	task.Step = domainRenewal.StepReminderSent
	f := newWorkflowFixture(task)

	res, err := f.svc.UpdateStep(context.Background(), []int64{1}, domainRenewal.StepReminderSent)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.AffectedCount)
	assert.Zero(t, res.BatchID)
	assert.Empty(t, f.repo.batches)
}

func TestUpdateStep_StorageFailure(t *testing.T) {
	f := newWorkflowFixture(newTask(1, nil, "FR"))
	f.repo.applyErr = errors.New("connection reset")

	res, err := f.svc.UpdateStep(context.Background(), []int64{1}, domainRenewal.StepInstructionsSent)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDBQueryError))
}

func TestUpdateInvoiceStep(t *testing.T) {
	a := newTask(1, nil, "FR")
	a.Step = domainRenewal.StepReminderSent
	f := newWorkflowFixture(a)

	res, err := f.svc.UpdateInvoiceStep(context.Background(), []int64{1}, domainRenewal.InvoiceOrderGenerated)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domainRenewal.InvoiceOrderGenerated, f.repo.get(1).InvoiceStep)
	assert.Equal(t, domainRenewal.StepReminderSent, f.repo.get(1).Step, "step axis untouched")

	res, err = f.svc.UpdateInvoiceStep(context.Background(), []int64{1}, domainRenewal.InvoiceNone)
	require.NoError(t, err)
	assert.False(t, res.Success, "backwards move rejected")

	res, err = f.svc.UpdateInvoiceStep(context.Background(), []int64{1}, domainRenewal.InvoiceStep(9))
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestUpdateInvoiceStep_IncoherentPairRejected(t *testing.T) {
	f := newWorkflowFixture(newTask(1, nil, "FR"))
	res, err := f.svc.UpdateInvoiceStep(context.Background(), []int64{1}, domainRenewal.InvoicePaid)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domainRenewal.InvoiceNone, f.repo.get(1).InvoiceStep)
}

func TestSetGracePeriod(t *testing.T) {
	f := newWorkflowFixture(newTask(1, nil, "FR"), newTask(2, nil, "FR"))

	for _, v := range []int{-1, 4} {
		res, err := f.svc.SetGracePeriod(context.Background(), []int64{1}, v)
		require.NoError(t, err)
		assert.False(t, res.Success)
	}

	res, err := f.svc.SetGracePeriod(context.Background(), []int64{1, 2}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.AffectedCount)
	assert.Equal(t, 2, f.repo.get(2).GracePeriod)

	res, err = f.svc.SetGracePeriod(context.Background(), []int64{1}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AffectedCount, "explicit correction may reset")
	assert.Equal(t, 0, f.repo.get(1).GracePeriod)
}

func TestMarkAsDone_DefaultsToNow(t *testing.T) {
	task := newTask(1, nil, "FR")
	task.Step = domainRenewal.StepPaymentOrdered
	f := newWorkflowFixture(task)

	res, err := f.svc.MarkAsDone(context.Background(), []int64{1}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	got := f.repo.get(1)
	assert.True(t, got.Done)
	assert.Equal(t, domainRenewal.StepClosed, got.Step)
	assert.True(t, got.DoneDate.Equal(fixedNow))
}

func TestMarkAsDone_IdempotentNoOp(t *testing.T) {
	f := newWorkflowFixture(newTask(1, nil, "FR"))
	date := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	first, err := f.svc.MarkAsDone(context.Background(), []int64{1}, &date)
	require.NoError(t, err)
	assert.Equal(t, 1, first.AffectedCount)
	before := f.repo.get(1)
	entries := len(f.repo.entries())

	second, err := f.svc.MarkAsDone(context.Background(), []int64{1}, &date)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.AffectedCount)
	assert.Len(t, f.repo.entries(), entries, "no duplicate log entries")
	assert.Equal(t, before, f.repo.get(1))
}

func TestMarkAsDone_ZeroDateRejected(t *testing.T) {
	f := newWorkflowFixture(newTask(1, nil, "FR"))
	res, err := f.svc.MarkAsDone(context.Background(), []int64{1}, &time.Time{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, f.repo.get(1).Done)
}

func TestAbandon_EmitsOneEventPerTask(t *testing.T) {
	a := newTask(1, nil, "FR")
	b := newTask(2, nil, "FR")
	b.Step = domainRenewal.StepInvoiced
	closed := newTask(3, nil, "FR")
	closed.Step = domainRenewal.StepClosed
	closed.Done = true
	f := newWorkflowFixture(a, b, closed)

	res, err := f.svc.Abandon(WithActor(context.Background(), "jdoe"), []int64{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.AffectedCount)
	assert.Len(t, res.Errors, 1)

	for _, id := range []int64{1, 2} {
		got := f.repo.get(id)
		assert.True(t, got.Done)
		assert.Equal(t, domainRenewal.StepAbandoned, got.Step)
	}
	assert.Equal(t, domainRenewal.StepClosed, f.repo.get(3).Step)

	require.Len(t, f.sink.events, 2)
	for _, ev := range f.sink.events {
		assert.Equal(t, domainRenewal.EventCodeAbandoned, ev.Code)
		assert.Equal(t, res.BatchID, ev.BatchID)
		assert.Equal(t, "jdoe", ev.Actor)
		assert.NotEmpty(t, ev.ID)
	}
	assert.Equal(t, int64(10), f.sink.events[0].MatterID)
	assert.Equal(t, int64(20), f.sink.events[1].MatterID)
}

func TestAbandon_SinkFailureReported(t *testing.T) {
	f := newWorkflowFixture(newTask(1, nil, "FR"))
	f.sink.err = errors.New("broker unavailable")

	res, err := f.svc.Abandon(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.AffectedCount)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "broker unavailable")
}

func TestAdvance(t *testing.T) {
	a := newTask(1, nil, "FR")
	b := newTask(2, nil, "FR")
	b.Step = domainRenewal.StepReceipts
	c := newTask(3, nil, "FR")
	c.Step = domainRenewal.StepAbandoned
	c.Done = true
	f := newWorkflowFixture(a, b, c)

	res, err := f.svc.Advance(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 2, res.AffectedCount)
	assert.Equal(t, domainRenewal.StepInstructionsSent, f.repo.get(1).Step)
	assert.Equal(t, domainRenewal.StepClosed, f.repo.get(2).Step)
	assert.True(t, f.repo.get(2).Done)
	assert.Len(t, res.Errors, 1)
}

func TestAfterSend_LastCallOpensGrace(t *testing.T) {
	a := newTask(1, nil, "FR")
	a.Step = domainRenewal.StepInstructionsSent
	b := newTask(2, nil, "FR")
	b.Step = domainRenewal.StepReminderSent
	b.GracePeriod = 2
	f := newWorkflowFixture(a, b)

	spec, _ := domainRenewal.KindLastCall.Spec()
	res, err := f.svc.AfterSend(context.Background(), 555, []*domainRenewal.Task{f.repo.get(1), f.repo.get(2)}, spec)
	require.NoError(t, err)
	assert.Equal(t, int64(555), res.BatchID)
	assert.Equal(t, 1, res.AffectedCount)

	got := f.repo.get(1)
	assert.Equal(t, domainRenewal.StepReminderSent, got.Step)
	assert.Equal(t, 1, got.GracePeriod)
	assert.Equal(t, 2, f.repo.get(2).GracePeriod, "grace only advances from 0")
	for _, e := range f.repo.entries() {
		assert.Equal(t, int64(555), e.BatchID)
	}
}

func TestWorkflow_PureQueries(t *testing.T) {
	f := newWorkflowFixture()
	assert.True(t, f.svc.CanTransition(domainRenewal.StepOpen, domainRenewal.StepInstructionsSent))
	assert.False(t, f.svc.CanTransition(domainRenewal.StepClosed, domainRenewal.StepAbandoned))
	next, ok := f.svc.GetNextStep(domainRenewal.StepInvoiced)
	assert.True(t, ok)
	assert.Equal(t, domainRenewal.StepReceipts, next)
}
