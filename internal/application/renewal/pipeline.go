package renewal

import (
	"context"
	"time"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/pkg/errors"
	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

// TaskView is a pipeline row: the task with its computed breakdown.
type TaskView struct {
	*domainRenewal.Task
	Breakdown domainRenewal.Breakdown `json:"breakdown"`
}

// Dashboard counts pending (not done) tasks per stage. Every known stage is
// present, with zero when empty.
type Dashboard struct {
	ByStep        map[string]int `json:"by_step"`
	ByInvoiceStep map[string]int `json:"by_invoice_step"`
	Total         int            `json:"total"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// PipelineService is the read side of the renewal pipeline.
type PipelineService interface {
	List(ctx context.Context, f domainRenewal.Filter) (*commontypes.PaginatedResult[TaskView], error)
	Dashboard(ctx context.Context) (*Dashboard, error)
	// RefreshGauges publishes the dashboard counts to the metrics receiver.
	RefreshGauges(ctx context.Context) error
	CalculateFees(ctx context.Context, ids []int64) ([]domainRenewal.Breakdown, error)
	Transitions(ctx context.Context, batchID int64) ([]domainRenewal.TransitionLogEntry, error)
	TaskTransitions(ctx context.Context, taskID int64) ([]domainRenewal.TransitionLogEntry, error)
	// DueForReminder lists open tasks of live matters still waiting for
	// instructions whose due date falls before now plus horizon.
	DueForReminder(ctx context.Context, horizon time.Duration) ([]int64, error)
}

type pipelineServiceImpl struct {
	tasks   domainRenewal.TaskRepository
	logs    domainRenewal.TransitionLogReader
	fees    *FeeCalculator
	metrics Metrics
	logger  Logger
	now     func() time.Time
}

// NewPipelineService constructs a PipelineService.
func NewPipelineService(
	tasks domainRenewal.TaskRepository,
	logs domainRenewal.TransitionLogReader,
	fees *FeeCalculator,
	metrics Metrics,
	logger Logger,
) PipelineService {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &pipelineServiceImpl{
		tasks:   tasks,
		logs:    logs,
		fees:    fees,
		metrics: metrics,
		logger:  orNop(logger),
		now:     time.Now,
	}
}

func (s *pipelineServiceImpl) List(ctx context.Context, f domainRenewal.Filter) (*commontypes.PaginatedResult[TaskView], error) {
	spec := BuildQuery(f)
	tasks, total, err := s.tasks.Paginate(ctx, spec)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDBQueryError, "list renewals")
	}

	breakdowns := s.fees.CalculateBatch(ctx, tasks)
	items := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, TaskView{Task: t, Breakdown: breakdowns[t.ID]})
	}
	return &commontypes.PaginatedResult[TaskView]{
		Items:      items,
		Pagination: commontypes.NewPaginationResult(f.Pagination(), total),
	}, nil
}

func (s *pipelineServiceImpl) Dashboard(ctx context.Context) (*Dashboard, error) {
	bySteps, err := s.tasks.CountByStep(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDBQueryError, "count renewals by step")
	}
	byInvoice, err := s.tasks.CountByInvoiceStep(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDBQueryError, "count renewals by invoice step")
	}

	d := &Dashboard{
		ByStep:        make(map[string]int, len(domainRenewal.AllSteps)),
		ByInvoiceStep: make(map[string]int, len(domainRenewal.AllInvoiceSteps)),
		GeneratedAt:   s.now(),
	}
	for _, st := range domainRenewal.AllSteps {
		n := bySteps[st]
		d.ByStep[st.String()] = n
		d.Total += n
	}
	for _, st := range domainRenewal.AllInvoiceSteps {
		d.ByInvoiceStep[st.String()] = byInvoice[st]
	}
	return d, nil
}

func (s *pipelineServiceImpl) RefreshGauges(ctx context.Context) error {
	d, err := s.Dashboard(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetPending(d.ByStep, d.ByInvoiceStep)
	s.logger.Debug("renewal gauges refreshed", "pending", d.Total)
	return nil
}

// CalculateFees returns the breakdowns of the known ids in request order.
func (s *pipelineServiceImpl) CalculateFees(ctx context.Context, ids []int64) ([]domainRenewal.Breakdown, error) {
	ids = domainRenewal.NormalizeIDs(ids)
	if len(ids) == 0 {
		return nil, errors.New(errors.CodeEmptyBatch, "no renewal task ids supplied")
	}
	tasks, err := s.tasks.FindByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDBQueryError, "load renewal tasks")
	}
	breakdowns := s.fees.CalculateBatch(ctx, tasks)
	out := make([]domainRenewal.Breakdown, 0, len(breakdowns))
	for _, id := range ids {
		if b, ok := breakdowns[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *pipelineServiceImpl) Transitions(ctx context.Context, batchID int64) ([]domainRenewal.TransitionLogEntry, error) {
	if batchID <= 0 {
		return nil, errors.NewValidationError("batch_id", "must be positive")
	}
	entries, err := s.logs.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDBQueryError, "list transitions")
	}
	return entries, nil
}

func (s *pipelineServiceImpl) TaskTransitions(ctx context.Context, taskID int64) ([]domainRenewal.TransitionLogEntry, error) {
	if taskID <= 0 {
		return nil, errors.NewValidationError("task_id", "must be positive")
	}
	entries, err := s.logs.ListByTask(ctx, taskID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDBQueryError, "list task transitions")
	}
	return entries, nil
}

func (s *pipelineServiceImpl) DueForReminder(ctx context.Context, horizon time.Duration) ([]int64, error) {
	limit := s.now().Add(horizon)
	var ids []int64
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := domainRenewal.NewFilter(
			domainRenewal.WithStep(domainRenewal.StepInstructionsSent),
			domainRenewal.WithDueRange(nil, &limit),
			domainRenewal.WithPage(page, commontypes.MaxPageSize),
		)
		tasks, total, err := s.tasks.Paginate(ctx, BuildQuery(f))
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDBQueryError, "select reminder candidates")
		}
		for _, t := range tasks {
			if !t.Done && (t.Matter == nil || !t.Matter.Dead) {
				ids = append(ids, t.ID)
			}
		}
		if len(tasks) == 0 || page*commontypes.MaxPageSize >= total {
			return ids, nil
		}
	}
}
