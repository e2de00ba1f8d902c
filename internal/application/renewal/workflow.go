// internal/application/renewal/workflow.go
//
// Workflow service for the renewal pipeline. Every operation takes a list of
// task ids, validates the whole batch before touching storage and writes all
// task changes plus their transition log entries in one unit of work under a
// shared batch id.
//
// Batch semantics:
//   - an invalid target value rejects the batch with zero affected rows;
//   - unknown ids are excluded and reported in BatchResult.Errors;
//   - a found task that cannot reach the target rejects the whole batch;
//   - tasks already in the requested state are skipped and reported.

package renewal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/pkg/errors"
	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

// ---------------------------------------------------------------------------
// Service interface
// ---------------------------------------------------------------------------

// WorkflowService governs the step and invoice step axes of renewal tasks.
//
// A rejected batch is reported through the returned BatchResult; the error
// return is reserved for infrastructure faults.
type WorkflowService interface {
	UpdateStep(ctx context.Context, ids []int64, target domainRenewal.Step) (*commontypes.BatchResult, error)
	UpdateInvoiceStep(ctx context.Context, ids []int64, target domainRenewal.InvoiceStep) (*commontypes.BatchResult, error)
	// SetGracePeriod is an explicit correction and may move the value in
	// either direction.
	SetGracePeriod(ctx context.Context, ids []int64, value int) (*commontypes.BatchResult, error)
	// MarkAsDone closes the tasks. doneDate defaults to now. Tasks already
	// done are left untouched and produce no log entries.
	MarkAsDone(ctx context.Context, ids []int64, doneDate *time.Time) (*commontypes.BatchResult, error)
	// Abandon closes the tasks as ABANDONED and emits one abandon event per
	// task for its matter.
	Abandon(ctx context.Context, ids []int64) (*commontypes.BatchResult, error)
	// Advance moves every task to its own next step.
	Advance(ctx context.Context, ids []int64) (*commontypes.BatchResult, error)
	// AfterSend records the transitions triggered by a successful
	// notification send under batchID.
	AfterSend(ctx context.Context, batchID int64, tasks []*domainRenewal.Task, spec domainRenewal.KindSpec) (*commontypes.BatchResult, error)

	CanTransition(from, to domainRenewal.Step) bool
	GetNextStep(current domainRenewal.Step) (domainRenewal.Step, bool)
}

// WorkflowOption customises the workflow service.
type WorkflowOption func(*workflowServiceImpl)

// WithClock replaces the time source used for done dates and log entries.
func WithClock(now func() time.Time) WorkflowOption {
	return func(s *workflowServiceImpl) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEventSink sets the sink receiving abandon events.
func WithEventSink(sink domainRenewal.EventSink) WorkflowOption {
	return func(s *workflowServiceImpl) { s.events = sink }
}

// WithWorkflowMetrics sets the metrics receiver.
func WithWorkflowMetrics(m Metrics) WorkflowOption {
	return func(s *workflowServiceImpl) {
		if m != nil {
			s.metrics = m
		}
	}
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type workflowServiceImpl struct {
	tasks   domainRenewal.TaskRepository
	ids     domainRenewal.BatchIDGenerator
	events  domainRenewal.EventSink
	metrics Metrics
	logger  Logger
	now     func() time.Time
}

// NewWorkflowService constructs a WorkflowService.
func NewWorkflowService(
	tasks domainRenewal.TaskRepository,
	ids domainRenewal.BatchIDGenerator,
	logger Logger,
	opts ...WorkflowOption,
) WorkflowService {
	s := &workflowServiceImpl{
		tasks:   tasks,
		ids:     ids,
		metrics: NoopMetrics(),
		logger:  orNop(logger),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *workflowServiceImpl) CanTransition(from, to domainRenewal.Step) bool {
	return domainRenewal.CanTransition(from, to)
}

func (s *workflowServiceImpl) GetNextStep(current domainRenewal.Step) (domainRenewal.Step, bool) {
	return domainRenewal.GetNextStep(current)
}

// UpdateStep moves every task to target. A batch may jump several stages
// forward; ABANDONED must go through Abandon. Reaching CLOSED also marks the
// task done.
func (s *workflowServiceImpl) UpdateStep(ctx context.Context, ids []int64, target domainRenewal.Step) (*commontypes.BatchResult, error) {
	const op = "update_step"
	start := time.Now()

	if !target.IsValid() {
		return s.reject(op, start, errors.Newf(errors.CodeInvalidStep, "invalid target step %d", int(target)))
	}
	if target == domainRenewal.StepAbandoned {
		return s.reject(op, start, errors.New(errors.ErrCodeTransitionRejected, "use abandon to move renewals to ABANDONED"))
	}

	tasks, notes, res, err := s.load(ctx, op, start, ids)
	if res != nil || err != nil {
		return res, err
	}

	now := s.now()
	b := newBatchBuilder()
	var violations []string
	for _, t := range tasks {
		switch {
		case t.Step == target:
			notes = append(notes, fmt.Sprintf("task %d: already %s", t.ID, target))
		case !domainRenewal.IsReachable(t.Step, target):
			violations = append(violations, fmt.Sprintf("task %d: cannot move from %s to %s", t.ID, t.Step, target))
		default:
			b.moveStep(t, target, now)
		}
	}
	if len(violations) > 0 {
		return s.reject(op, start, errors.Newf(errors.ErrCodeTransitionRejected, "%d renewals cannot move to %s", len(violations), target), violations...)
	}
	return s.commit(ctx, op, start, 0, b, notes, "renewals updated")
}

// UpdateInvoiceStep advances the invoice axis. Moving backwards, or reaching
// a pair such as (OPEN, PAID), rejects the batch.
func (s *workflowServiceImpl) UpdateInvoiceStep(ctx context.Context, ids []int64, target domainRenewal.InvoiceStep) (*commontypes.BatchResult, error) {
	const op = "update_invoice_step"
	start := time.Now()

	if !target.IsValid() {
		return s.reject(op, start, errors.Newf(errors.CodeInvalidInvoiceStep, "invalid target invoice step %d", int(target)))
	}

	tasks, notes, res, err := s.load(ctx, op, start, ids)
	if res != nil || err != nil {
		return res, err
	}

	b := newBatchBuilder()
	var violations []string
	for _, t := range tasks {
		switch {
		case t.InvoiceStep == target:
			notes = append(notes, fmt.Sprintf("task %d: already %s", t.ID, target))
		case !domainRenewal.IsInvoiceReachable(t.InvoiceStep, target):
			violations = append(violations, fmt.Sprintf("task %d: cannot move invoice from %s to %s", t.ID, t.InvoiceStep, target))
		case !domainRenewal.IsCoherent(t.Step, target):
			violations = append(violations, fmt.Sprintf("task %d: invoice %s is not allowed at step %s", t.ID, target, t.Step))
		default:
			b.moveInvoice(t, target)
		}
	}
	if len(violations) > 0 {
		return s.reject(op, start, errors.Newf(errors.ErrCodeTransitionRejected, "%d renewals cannot move to invoice step %s", len(violations), target), violations...)
	}
	return s.commit(ctx, op, start, 0, b, notes, "renewals updated")
}

func (s *workflowServiceImpl) SetGracePeriod(ctx context.Context, ids []int64, value int) (*commontypes.BatchResult, error) {
	const op = "set_grace_period"
	start := time.Now()

	if value < 0 || value > domainRenewal.MaxGracePeriod {
		return s.reject(op, start, errors.Newf(errors.CodeInvalidGracePeriod, "grace period must be between 0 and %d, got %d", domainRenewal.MaxGracePeriod, value))
	}

	tasks, notes, res, err := s.load(ctx, op, start, ids)
	if res != nil || err != nil {
		return res, err
	}

	b := newBatchBuilder()
	for _, t := range tasks {
		if t.GracePeriod == value {
			notes = append(notes, fmt.Sprintf("task %d: grace period already %d", t.ID, value))
			continue
		}
		b.setGrace(t, value)
	}
	return s.commit(ctx, op, start, 0, b, notes, "renewals updated")
}

func (s *workflowServiceImpl) MarkAsDone(ctx context.Context, ids []int64, doneDate *time.Time) (*commontypes.BatchResult, error) {
	const op = "mark_done"
	start := time.Now()

	date := s.now()
	if doneDate != nil {
		if doneDate.IsZero() {
			return s.reject(op, start, errors.New(errors.ErrCodeInvalidDate, "done date must not be empty"))
		}
		date = *doneDate
	}

	tasks, notes, res, err := s.load(ctx, op, start, ids)
	if res != nil || err != nil {
		return res, err
	}

	b := newBatchBuilder()
	for _, t := range tasks {
		if t.Done {
			notes = append(notes, fmt.Sprintf("task %d: already done", t.ID))
			continue
		}
		b.close(t, domainRenewal.StepClosed, date)
	}
	return s.commit(ctx, op, start, 0, b, notes, "renewals closed")
}

func (s *workflowServiceImpl) Abandon(ctx context.Context, ids []int64) (*commontypes.BatchResult, error) {
	const op = "abandon"
	start := time.Now()

	tasks, notes, res, err := s.load(ctx, op, start, ids)
	if res != nil || err != nil {
		return res, err
	}

	now := s.now()
	b := newBatchBuilder()
	var abandoned []*domainRenewal.Task
	for _, t := range tasks {
		if t.Done || t.Step.IsTerminal() {
			notes = append(notes, fmt.Sprintf("task %d: already %s", t.ID, t.Step))
			continue
		}
		b.close(t, domainRenewal.StepAbandoned, now)
		abandoned = append(abandoned, t)
	}

	res, err = s.commit(ctx, op, start, 0, b, notes, "renewals abandoned")
	if err != nil || !res.Success || len(abandoned) == 0 {
		return res, err
	}
	s.publishAbandoned(ctx, res, abandoned, now)
	return res, nil
}

func (s *workflowServiceImpl) Advance(ctx context.Context, ids []int64) (*commontypes.BatchResult, error) {
	const op = "advance"
	start := time.Now()

	tasks, notes, res, err := s.load(ctx, op, start, ids)
	if res != nil || err != nil {
		return res, err
	}

	now := s.now()
	b := newBatchBuilder()
	for _, t := range tasks {
		next, ok := domainRenewal.GetNextStep(t.Step)
		if !ok || t.Done {
			notes = append(notes, fmt.Sprintf("task %d: no next step after %s", t.ID, t.Step))
			continue
		}
		b.moveStep(t, next, now)
	}
	return s.commit(ctx, op, start, 0, b, notes, "renewals advanced")
}

// AfterSend applies the transitions of spec to tasks that were just notified.
// Tasks already at or past the target are left alone; a last call opens the
// grace period only when it is still 0.
func (s *workflowServiceImpl) AfterSend(ctx context.Context, batchID int64, tasks []*domainRenewal.Task, spec domainRenewal.KindSpec) (*commontypes.BatchResult, error) {
	op := "after_send_" + spec.Name
	start := time.Now()

	now := s.now()
	b := newBatchBuilder()
	for _, t := range tasks {
		if t == nil || t.Done {
			continue
		}
		step, invoice, grace := t.Step, t.InvoiceStep, t.GracePeriod
		if spec.AdvanceTo != nil && domainRenewal.IsReachable(t.Step, *spec.AdvanceTo) && *spec.AdvanceTo != domainRenewal.StepAbandoned {
			step = *spec.AdvanceTo
		}
		if spec.InvoiceTo != nil && domainRenewal.IsInvoiceReachable(t.InvoiceStep, *spec.InvoiceTo) &&
			domainRenewal.IsCoherent(step, *spec.InvoiceTo) {
			invoice = *spec.InvoiceTo
		}
		if spec.OpensGrace && t.GracePeriod == 0 {
			grace = 1
		}
		b.apply(t, step, invoice, grace, now)
	}
	return s.commit(ctx, op, start, batchID, b, nil, "renewals updated")
}

// ---------------------------------------------------------------------------
// Batch plumbing
// ---------------------------------------------------------------------------

// load resolves ids to tasks. A non-nil result means the batch was rejected
// before any lookup of transitions.
func (s *workflowServiceImpl) load(ctx context.Context, op string, start time.Time, raw []int64) ([]*domainRenewal.Task, []string, *commontypes.BatchResult, error) {
	var notes []string
	for _, id := range raw {
		if id <= 0 {
			notes = append(notes, fmt.Sprintf("task %d: not found", id))
		}
	}
	ids := domainRenewal.NormalizeIDs(raw)
	if len(ids) == 0 {
		res, _ := s.reject(op, start, errors.New(errors.CodeEmptyBatch, "no renewal task ids supplied"), notes...)
		return nil, nil, res, nil
	}

	tasks, err := s.tasks.FindByIDs(ctx, ids)
	if err != nil {
		s.metrics.ObserveBatch(op, outcomeFailure, 0, time.Since(start))
		return nil, nil, nil, errors.Wrap(err, errors.CodeDBQueryError, "load renewal tasks")
	}

	found := lo.SliceToMap(tasks, func(t *domainRenewal.Task) (int64, bool) { return t.ID, true })
	for _, id := range ids {
		if !found[id] {
			notes = append(notes, fmt.Sprintf("task %d: not found", id))
		}
	}
	if len(tasks) == 0 {
		res, _ := s.reject(op, start, errors.New(errors.CodeTaskNotFound, "no matching renewal tasks"), notes...)
		return nil, nil, res, nil
	}

	// Process in the caller's order so log entries are stable.
	byID := lo.KeyBy(tasks, func(t *domainRenewal.Task) int64 { return t.ID })
	ordered := make([]*domainRenewal.Task, 0, len(tasks))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			ordered = append(ordered, t)
		}
	}
	return ordered, notes, nil, nil
}

func (s *workflowServiceImpl) reject(op string, start time.Time, cause *errors.AppError, errs ...string) (*commontypes.BatchResult, error) {
	s.logger.Debug("renewal batch rejected", "operation", op, "code", string(cause.Code), "reason", cause.Message)
	s.metrics.ObserveBatch(op, outcomeRejected, 0, time.Since(start))
	return commontypes.Rejected(cause.Message, errs...), nil
}

// commit writes the batch. batchID <= 0 draws a fresh id from the generator.
func (s *workflowServiceImpl) commit(ctx context.Context, op string, start time.Time, batchID int64, b *batchBuilder, notes []string, noun string) (*commontypes.BatchResult, error) {
	if b.batch.Empty() {
		res := commontypes.Succeeded(0, "", notes...)
		res.Message = res.Summary(noun)
		s.metrics.ObserveBatch(op, outcomeSkipped, 0, time.Since(start))
		return res, nil
	}

	if batchID <= 0 {
		id, err := s.ids.NextBatchID(ctx)
		if err != nil {
			s.metrics.ObserveBatch(op, outcomeFailure, 0, time.Since(start))
			return nil, errors.Wrap(err, errors.CodeInternal, "allocate batch id")
		}
		batchID = id
	}

	actor := ActorFromContext(ctx)
	at := s.now()
	b.batch.ID = batchID
	b.batch.Actor = actor
	b.batch.At = at
	for i := range b.batch.Entries {
		b.batch.Entries[i].BatchID = batchID
		b.batch.Entries[i].Actor = actor
		b.batch.Entries[i].Timestamp = at
	}

	affected, err := s.tasks.ApplyBatch(ctx, b.batch)
	if err != nil {
		s.logger.Error("renewal batch failed", "operation", op, "batch_id", batchID, "task_ids", b.batch.TaskIDs(), "error", err)
		s.metrics.ObserveBatch(op, outcomeFailure, 0, time.Since(start))
		return nil, errors.Wrap(err, errors.CodeDBQueryError, "apply renewal batch")
	}

	res := commontypes.Succeeded(affected, "", notes...)
	res.BatchID = batchID
	res.Message = res.Summary(noun)
	s.logger.Info("renewal batch applied",
		"operation", op, "batch_id", batchID, "affected", affected, "notes", len(notes), "actor", actor)
	s.metrics.ObserveBatch(op, outcomeOf(res), affected, time.Since(start))
	return res, nil
}

func (s *workflowServiceImpl) publishAbandoned(ctx context.Context, res *commontypes.BatchResult, tasks []*domainRenewal.Task, at time.Time) {
	if s.events == nil {
		return
	}
	actor := ActorFromContext(ctx)
	events := lo.Map(tasks, func(t *domainRenewal.Task, _ int) domainRenewal.MatterEvent {
		return domainRenewal.MatterEvent{
			ID:         uuid.NewString(),
			MatterID:   t.MatterID,
			TaskID:     t.ID,
			Code:       domainRenewal.EventCodeAbandoned,
			BatchID:    res.BatchID,
			Actor:      actor,
			OccurredAt: at,
		}
	})
	if err := s.events.Publish(ctx, events...); err != nil {
		s.logger.Error("publish abandon events failed", "batch_id", res.BatchID, "count", len(events), "error", err)
		res.AddError("abandon events not published: %v", err)
	}
}

// batchBuilder accumulates changes and their log entries. Actor, batch id
// and timestamp are stamped at commit time.
type batchBuilder struct {
	batch *domainRenewal.TransitionBatch
}

func newBatchBuilder() *batchBuilder {
	return &batchBuilder{batch: &domainRenewal.TransitionBatch{}}
}

func entry(taskID int64, axis domainRenewal.Axis, from, to int) domainRenewal.TransitionLogEntry {
	return domainRenewal.TransitionLogEntry{TaskID: taskID, Axis: axis, From: from, To: to}
}

func boolPtr(b bool) *bool                             { return &b }
func intPtr(i int) *int                                { return &i }
func timePtr(t time.Time) *time.Time                   { return &t }
func stepPtr(s domainRenewal.Step) *domainRenewal.Step { return &s }

func (b *batchBuilder) moveStep(t *domainRenewal.Task, to domainRenewal.Step, now time.Time) {
	if to == domainRenewal.StepClosed {
		b.close(t, to, now)
		return
	}
	b.batch.Changes = append(b.batch.Changes, domainRenewal.TaskChange{TaskID: t.ID, Step: stepPtr(to)})
	b.batch.Entries = append(b.batch.Entries, entry(t.ID, domainRenewal.AxisStep, int(t.Step), int(to)))
}

// close sets done, the done date and a terminal step.
func (b *batchBuilder) close(t *domainRenewal.Task, to domainRenewal.Step, at time.Time) {
	b.batch.Changes = append(b.batch.Changes, domainRenewal.TaskChange{
		TaskID:   t.ID,
		Step:     stepPtr(to),
		Done:     boolPtr(true),
		DoneDate: timePtr(at),
	})
	if t.Step != to {
		b.batch.Entries = append(b.batch.Entries, entry(t.ID, domainRenewal.AxisStep, int(t.Step), int(to)))
	}
	if !t.Done {
		b.batch.Entries = append(b.batch.Entries, entry(t.ID, domainRenewal.AxisDone, 0, 1))
	}
}

func (b *batchBuilder) moveInvoice(t *domainRenewal.Task, to domainRenewal.InvoiceStep) {
	v := to
	b.batch.Changes = append(b.batch.Changes, domainRenewal.TaskChange{TaskID: t.ID, InvoiceStep: &v})
	b.batch.Entries = append(b.batch.Entries, entry(t.ID, domainRenewal.AxisInvoiceStep, int(t.InvoiceStep), int(to)))
}

func (b *batchBuilder) setGrace(t *domainRenewal.Task, value int) {
	b.batch.Changes = append(b.batch.Changes, domainRenewal.TaskChange{TaskID: t.ID, GracePeriod: intPtr(value)})
	b.batch.Entries = append(b.batch.Entries, entry(t.ID, domainRenewal.AxisGracePeriod, t.GracePeriod, value))
}

// apply records one change touching any subset of the axes. Nothing is
// recorded when all values equal the current state.
func (b *batchBuilder) apply(t *domainRenewal.Task, step domainRenewal.Step, invoice domainRenewal.InvoiceStep, grace int, now time.Time) {
	change := domainRenewal.TaskChange{TaskID: t.ID}
	var entries []domainRenewal.TransitionLogEntry
	if step != t.Step {
		change.Step = stepPtr(step)
		entries = append(entries, entry(t.ID, domainRenewal.AxisStep, int(t.Step), int(step)))
		if step == domainRenewal.StepClosed && !t.Done {
			change.Done = boolPtr(true)
			change.DoneDate = timePtr(now)
			entries = append(entries, entry(t.ID, domainRenewal.AxisDone, 0, 1))
		}
	}
	if invoice != t.InvoiceStep {
		v := invoice
		change.InvoiceStep = &v
		entries = append(entries, entry(t.ID, domainRenewal.AxisInvoiceStep, int(t.InvoiceStep), int(invoice)))
	}
	if grace != t.GracePeriod {
		change.GracePeriod = intPtr(grace)
		entries = append(entries, entry(t.ID, domainRenewal.AxisGracePeriod, t.GracePeriod, grace))
	}
	if len(entries) == 0 {
		return
	}
	b.batch.Changes = append(b.batch.Changes, change)
	b.batch.Entries = append(b.batch.Entries, entries...)
}
