// internal/application/renewal/batcher.go
//
// Communication batcher: groups selected renewals by client, renders one
// message per client and hands it to the notification sender. Groups are
// sent by a bounded worker pool; a failing group never stops its siblings.

package renewal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/pkg/errors"
	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

// GroupError describes one recipient group that was not delivered.
type GroupError struct {
	ClientID  int64   `json:"client_id"`
	Recipient string  `json:"recipient,omitempty"`
	TaskIDs   []int64 `json:"task_ids"`
	Error     string  `json:"error"`
}

// SendReport aggregates the outcome of one communication batch.
type SendReport struct {
	Kind      string       `json:"kind"`
	BatchID   int64        `json:"batch_id"`
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Skipped   []GroupError `json:"skipped,omitempty"`
	Errors    []GroupError `json:"errors,omitempty"`
	// NotFound lists requested ids that matched no task.
	NotFound []int64 `json:"not_found,omitempty"`
	// Transition is the workflow batch recorded for the delivered tasks.
	Transition      *commontypes.BatchResult `json:"transition,omitempty"`
	TransitionError string                   `json:"transition_error,omitempty"`
	Messages        []string                 `json:"message_ids,omitempty"`
}

// BatchResult folds the report into the common batch result shape, e.g.
// "3 messages sent, 1 error".
func (r *SendReport) BatchResult() *commontypes.BatchResult {
	res := commontypes.Succeeded(r.Succeeded, "")
	res.BatchID = r.BatchID
	for _, e := range r.Errors {
		res.AddError("client %d (%s): %s", e.ClientID, e.Recipient, e.Error)
	}
	for _, e := range r.Skipped {
		res.AddError("client %d skipped: %s", e.ClientID, e.Error)
	}
	for _, id := range r.NotFound {
		res.AddError("task %d: not found", id)
	}
	if r.TransitionError != "" {
		res.AddError("transition not recorded: %s", r.TransitionError)
	}
	res.Message = res.Summary("messages sent")
	return res
}

// CommunicationService sends client communications for a set of renewals.
type CommunicationService interface {
	// Send returns an error only when the batch cannot start (unknown kind,
	// empty id set, storage fault). Per-group failures are in the report.
	Send(ctx context.Context, ids []int64, kind domainRenewal.NotificationKind) (*SendReport, error)
}

// BatcherConfig holds the batcher tunables.
type BatcherConfig struct {
	Concurrency   int
	SenderAddress string
	DefaultLocale string
}

type communicationServiceImpl struct {
	tasks    domainRenewal.TaskRepository
	clients  domainRenewal.ClientRepository
	fees     *FeeCalculator
	workflow WorkflowService
	sender   domainRenewal.NotificationSender
	ids      domainRenewal.BatchIDGenerator
	metrics  Metrics
	logger   Logger
	cfg      BatcherConfig
	now      func() time.Time
}

// NewCommunicationService constructs a CommunicationService. clients is
// consulted only for groups whose client was not loaded with the tasks.
func NewCommunicationService(
	tasks domainRenewal.TaskRepository,
	clients domainRenewal.ClientRepository,
	fees *FeeCalculator,
	workflow WorkflowService,
	sender domainRenewal.NotificationSender,
	ids domainRenewal.BatchIDGenerator,
	metrics Metrics,
	logger Logger,
	cfg BatcherConfig,
) CommunicationService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "en"
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &communicationServiceImpl{
		tasks:    tasks,
		clients:  clients,
		fees:     fees,
		workflow: workflow,
		sender:   sender,
		ids:      ids,
		metrics:  metrics,
		logger:   orNop(logger),
		cfg:      cfg,
		now:      time.Now,
	}
}

type recipientGroup struct {
	clientID  int64
	recipient domainRenewal.Recipient
	tasks     []*domainRenewal.Task
}

func (s *communicationServiceImpl) Send(ctx context.Context, ids []int64, kind domainRenewal.NotificationKind) (*SendReport, error) {
	spec, ok := kind.Spec()
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnsupportedNotification, "unsupported notification kind %d", int(kind))
	}
	ids = domainRenewal.NormalizeIDs(ids)
	if len(ids) == 0 {
		return nil, errors.New(errors.CodeEmptyBatch, "no renewal task ids supplied")
	}

	grouped, err := s.tasks.GetGroupedByClient(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDBQueryError, "load renewal tasks by client")
	}

	batchID, err := s.ids.NextBatchID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "allocate batch id")
	}

	report := &SendReport{Kind: spec.Name, BatchID: batchID}
	all := lo.Flatten(lo.Values(grouped))
	found := lo.SliceToMap(all, func(t *domainRenewal.Task) (int64, bool) { return t.ID, true })
	report.NotFound = lo.Filter(ids, func(id int64, _ int) bool { return !found[id] })

	groups := s.resolveGroups(ctx, spec.Name, grouped, report)
	report.Total = len(groups) + len(report.Skipped)

	breakdowns := s.fees.CalculateBatch(ctx, lo.Flatten(lo.Map(groups, func(g recipientGroup, _ int) []*domainRenewal.Task { return g.tasks })))

	var (
		mu   sync.Mutex
		sent []*domainRenewal.Task
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			taskIDs := lo.Map(grp.tasks, func(t *domainRenewal.Task, _ int) int64 { return t.ID })
			fail := func(err error) {
				s.logger.Warn("renewal notification failed",
					"kind", spec.Name, "batch_id", batchID, "client_id", grp.clientID,
					"recipient", grp.recipient.Address, "task_ids", taskIDs, "error", err)
				s.metrics.ObserveSend(spec.Name, outcomeFailure)
				mu.Lock()
				report.Errors = append(report.Errors, GroupError{
					ClientID: grp.clientID, Recipient: grp.recipient.Address, TaskIDs: taskIDs, Error: err.Error(),
				})
				mu.Unlock()
			}

			if err := ctx.Err(); err != nil {
				fail(err)
				return nil
			}
			msg := s.render(batchID, kind, spec, grp, breakdowns)
			if err := s.sender.Send(ctx, msg); err != nil {
				fail(errors.Wrap(err, errors.CodeSendFailed, "send "+spec.Name))
				return nil
			}
			s.metrics.ObserveSend(spec.Name, outcomeSuccess)
			mu.Lock()
			report.Succeeded++
			report.Messages = append(report.Messages, msg.ID)
			sent = append(sent, grp.tasks...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Errors, func(i, j int) bool { return report.Errors[i].ClientID < report.Errors[j].ClientID })
	sort.Strings(report.Messages)

	if len(sent) > 0 && (spec.AdvanceTo != nil || spec.InvoiceTo != nil || spec.OpensGrace) {
		res, err := s.workflow.AfterSend(ctx, batchID, sent, spec)
		if err != nil {
			s.logger.Error("recording notification transitions failed",
				"kind", spec.Name, "batch_id", batchID, "error", err)
			report.TransitionError = err.Error()
		} else {
			report.Transition = res
		}
	}

	s.logger.Info("renewal notifications sent",
		"kind", spec.Name, "batch_id", batchID, "total", report.Total,
		"succeeded", report.Succeeded, "failed", len(report.Errors), "skipped", len(report.Skipped))
	return report, nil
}

// resolveGroups turns the client buckets into deliverable groups, ordered by
// client id. Groups without a client or without a usable address are
// recorded as skipped.
func (s *communicationServiceImpl) resolveGroups(ctx context.Context, kindName string, grouped map[int64][]*domainRenewal.Task, report *SendReport) []recipientGroup {
	clientIDs := lo.Keys(grouped)
	sort.Slice(clientIDs, func(i, j int) bool { return clientIDs[i] < clientIDs[j] })

	var groups []recipientGroup
	for _, cid := range clientIDs {
		tasks := grouped[cid]
		if len(tasks) == 0 {
			continue
		}
		taskIDs := lo.Map(tasks, func(t *domainRenewal.Task, _ int) int64 { return t.ID })
		skip := func(reason string) {
			s.logger.Warn("renewal group skipped", "kind", kindName, "client_id", cid, "task_ids", taskIDs, "reason", reason)
			s.metrics.ObserveSend(kindName, outcomeSkipped)
			report.Skipped = append(report.Skipped, GroupError{ClientID: cid, TaskIDs: taskIDs, Error: reason})
		}

		if cid == 0 {
			skip("no client")
			continue
		}
		client := tasks[0].Client()
		if client == nil && s.clients != nil {
			c, err := s.clients.Find(ctx, cid)
			if err != nil && !errors.IsNotFound(err) {
				skip(fmt.Sprintf("client lookup failed: %v", err))
				continue
			}
			client = c
		}
		if client == nil {
			skip("client not found")
			continue
		}
		recipient := domainRenewal.RecipientFor(client, s.cfg.DefaultLocale)
		if !recipient.Usable() {
			skip("no usable delivery address")
			continue
		}
		groups = append(groups, recipientGroup{clientID: cid, recipient: recipient, tasks: tasks})
	}
	return groups
}

func (s *communicationServiceImpl) render(
	batchID int64,
	kind domainRenewal.NotificationKind,
	spec domainRenewal.KindSpec,
	grp recipientGroup,
	breakdowns map[int64]domainRenewal.Breakdown,
) *domainRenewal.Message {
	tasks := append([]*domainRenewal.Task(nil), grp.tasks...)
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].DueDate.Equal(tasks[j].DueDate) {
			return tasks[i].DueDate.Before(tasks[j].DueDate)
		}
		return tasks[i].ID < tasks[j].ID
	})

	lines := make([]domainRenewal.LineItem, 0, len(tasks))
	items := make([]domainRenewal.Breakdown, 0, len(tasks))
	for _, t := range tasks {
		b, ok := breakdowns[t.ID]
		if !ok {
			b = zeroBreakdown(t.ID)
		}
		var title string
		if t.Matter != nil {
			title = t.Matter.Title
		}
		lines = append(lines, domainRenewal.LineItem{
			TaskID:    t.ID,
			Caseref:   t.Caseref(),
			Country:   t.Country(),
			Title:     title,
			Detail:    t.Detail,
			DueDate:   t.DueDate,
			Breakdown: b,
		})
		items = append(items, b)
	}

	return &domainRenewal.Message{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		Kind:      kind,
		KindName:  spec.Name,
		Template:  spec.Template,
		Subject:   spec.Subject,
		From:      s.cfg.SenderAddress,
		Recipient: grp.recipient,
		Lines:     lines,
		Total:     domainRenewal.Totals(items),
		CreatedAt: s.now(),
	}
}
