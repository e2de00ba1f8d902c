package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	appRenewal "github.com/turtacn/keyip-renewals/internal/application/renewal"
	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/pkg/errors"
	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

const dateLayout = "2006-01-02"

// RenewalHandler exposes the renewal pipeline over HTTP.
type RenewalHandler struct {
	pipeline appRenewal.PipelineService
	workflow appRenewal.WorkflowService
	comms    appRenewal.CommunicationService
	exports  appRenewal.ExportService
	logger   logging.Logger
}

// NewRenewalHandler creates a new RenewalHandler.
func NewRenewalHandler(
	pipeline appRenewal.PipelineService,
	workflow appRenewal.WorkflowService,
	comms appRenewal.CommunicationService,
	exports appRenewal.ExportService,
	logger logging.Logger,
) *RenewalHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RenewalHandler{
		pipeline: pipeline,
		workflow: workflow,
		comms:    comms,
		exports:  exports,
		logger:   logger,
	}
}

// RegisterRoutes mounts the renewal routes on r.
func (h *RenewalHandler) RegisterRoutes(r chi.Router) {
	r.Route("/renewals", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/dashboard", h.Dashboard)
		r.Post("/step", h.UpdateStep)
		r.Post("/invoice-step", h.UpdateInvoiceStep)
		r.Post("/grace-period", h.SetGracePeriod)
		r.Post("/done", h.MarkAsDone)
		r.Post("/abandon", h.Abandon)
		r.Post("/advance", h.Advance)
		r.Post("/notify", h.Notify)
		r.Post("/export/{format}", h.Export)
		r.Post("/fees/calculate", h.CalculateFees)
		r.Get("/workflow/next", h.NextStep)
		r.Get("/workflow/can-transition", h.CanTransition)
		r.Get("/transitions", h.Transitions)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Request types
// ─────────────────────────────────────────────────────────────────────────────

// IDsRequest carries the selected task ids. Ids may be sent as numbers or
// strings.
type IDsRequest struct {
	IDs []flexString `json:"ids"`
}

// parse splits the ids into well-formed values and malformed ones, which are
// reported as not found.
func (r IDsRequest) parse() ([]int64, []string) {
	raw := make([]string, len(r.IDs))
	for i, id := range r.IDs {
		raw[i] = string(id)
	}
	return domainRenewal.ParseIDs(raw)
}

// StepRequest is the body of POST /renewals/step.
type StepRequest struct {
	IDsRequest
	Step flexString `json:"step"`
}

// InvoiceStepRequest is the body of POST /renewals/invoice-step.
type InvoiceStepRequest struct {
	IDsRequest
	InvoiceStep flexString `json:"invoice_step"`
}

// GracePeriodRequest is the body of POST /renewals/grace-period.
type GracePeriodRequest struct {
	IDsRequest
	Value *int `json:"value"`
}

// DoneRequest is the body of POST /renewals/done. DoneDate is YYYY-MM-DD.
type DoneRequest struct {
	IDsRequest
	DoneDate string `json:"done_date,omitempty"`
}

// NotifyRequest is the body of POST /renewals/notify.
type NotifyRequest struct {
	IDsRequest
	Kind string `json:"kind"`
}

// ExportRequest is the body of the export endpoints.
type ExportRequest struct {
	IDsRequest
	MarkDone bool `json:"mark_done,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Read side
// ─────────────────────────────────────────────────────────────────────────────

// List handles GET /renewals.
func (h *RenewalHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	page, err := h.pipeline.List(r.Context(), f)
	if err != nil {
		h.logFailure("list renewals", err)
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Dashboard handles GET /renewals/dashboard.
func (h *RenewalHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.pipeline.Dashboard(r.Context())
	if err != nil {
		h.logFailure("dashboard", err)
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CalculateFees handles POST /renewals/fees/calculate.
func (h *RenewalHandler) CalculateFees(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	ids, _ := req.parse()
	items, err := h.pipeline.CalculateFees(r.Context(), ids)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"totals": domainRenewal.Totals(items),
	})
}

// Transitions handles GET /renewals/transitions?batch_id= or ?task_id=.
func (h *RenewalHandler) Transitions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		entries []domainRenewal.TransitionLogEntry
		err     error
	)
	switch {
	case q.Get("batch_id") != "":
		id, perr := strconv.ParseInt(q.Get("batch_id"), 10, 64)
		if perr != nil {
			writeAppError(w, errors.NewValidationError("batch_id", "batch_id must be an integer"))
			return
		}
		entries, err = h.pipeline.Transitions(r.Context(), id)
	case q.Get("task_id") != "":
		id, perr := strconv.ParseInt(q.Get("task_id"), 10, 64)
		if perr != nil {
			writeAppError(w, errors.NewValidationError("task_id", "task_id must be an integer"))
			return
		}
		entries, err = h.pipeline.TaskTransitions(r.Context(), id)
	default:
		writeAppError(w, errors.NewValidationError("batch_id", "batch_id or task_id is required"))
		return
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	if entries == nil {
		entries = []domainRenewal.TransitionLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// NextStep handles GET /renewals/workflow/next?step=.
func (h *RenewalHandler) NextStep(w http.ResponseWriter, r *http.Request) {
	cur, err := parseStep(r.URL.Query().Get("step"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	resp := map[string]interface{}{"step": cur.String(), "has_next": false}
	if next, ok := h.workflow.GetNextStep(cur); ok {
		resp["has_next"] = true
		resp["next"] = next.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// CanTransition handles GET /renewals/workflow/can-transition?from=&to=.
func (h *RenewalHandler) CanTransition(w http.ResponseWriter, r *http.Request) {
	from, err := parseStep(r.URL.Query().Get("from"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	to, err := parseStep(r.URL.Query().Get("to"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":    from.String(),
		"to":      to.String(),
		"allowed": h.workflow.CanTransition(from, to),
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Workflow
// ─────────────────────────────────────────────────────────────────────────────

// UpdateStep handles POST /renewals/step.
func (h *RenewalHandler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	var req StepRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	target, err := parseStep(string(req.Step))
	if err != nil {
		writeAppError(w, err)
		return
	}
	ids, malformed := req.parse()
	res, err := h.workflow.UpdateStep(r.Context(), ids, target)
	h.writeBatch(w, "update step", res, malformed, err)
}

// UpdateInvoiceStep handles POST /renewals/invoice-step.
func (h *RenewalHandler) UpdateInvoiceStep(w http.ResponseWriter, r *http.Request) {
	var req InvoiceStepRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	target, err := domainRenewal.ParseInvoiceStep(string(req.InvoiceStep))
	if err != nil {
		writeAppError(w, errors.Wrap(err, errors.CodeInvalidInvoiceStep, "invalid invoice step"))
		return
	}
	ids, malformed := req.parse()
	res, err := h.workflow.UpdateInvoiceStep(r.Context(), ids, target)
	h.writeBatch(w, "update invoice step", res, malformed, err)
}

// SetGracePeriod handles POST /renewals/grace-period.
func (h *RenewalHandler) SetGracePeriod(w http.ResponseWriter, r *http.Request) {
	var req GracePeriodRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if req.Value == nil {
		writeAppError(w, errors.NewValidationError("value", "value is required"))
		return
	}
	ids, malformed := req.parse()
	res, err := h.workflow.SetGracePeriod(r.Context(), ids, *req.Value)
	h.writeBatch(w, "set grace period", res, malformed, err)
}

// MarkAsDone handles POST /renewals/done.
func (h *RenewalHandler) MarkAsDone(w http.ResponseWriter, r *http.Request) {
	var req DoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	var doneDate *time.Time
	if req.DoneDate != "" {
		d, err := time.Parse(dateLayout, req.DoneDate)
		if err != nil {
			writeAppError(w, errors.Wrap(err, errors.ErrCodeInvalidDate, "done_date must be YYYY-MM-DD"))
			return
		}
		doneDate = &d
	}
	ids, malformed := req.parse()
	res, err := h.workflow.MarkAsDone(r.Context(), ids, doneDate)
	h.writeBatch(w, "mark done", res, malformed, err)
}

// Abandon handles POST /renewals/abandon.
func (h *RenewalHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	ids, malformed := req.parse()
	res, err := h.workflow.Abandon(r.Context(), ids)
	h.writeBatch(w, "abandon", res, malformed, err)
}

// Advance handles POST /renewals/advance.
func (h *RenewalHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	ids, malformed := req.parse()
	res, err := h.workflow.Advance(r.Context(), ids)
	h.writeBatch(w, "advance", res, malformed, err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Communications and exports
// ─────────────────────────────────────────────────────────────────────────────

// Notify handles POST /renewals/notify.
func (h *RenewalHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	kind, err := domainRenewal.ParseNotificationKind(req.Kind)
	if err != nil {
		writeAppError(w, errors.Wrap(err, errors.ErrCodeUnsupportedNotification, "unsupported notification kind"))
		return
	}
	ids, malformed := req.parse()
	report, err := h.comms.Send(r.Context(), ids, kind)
	if err != nil {
		h.logFailure("notify", err)
		writeAppError(w, err)
		return
	}
	res := report.BatchResult()
	addMalformed(res, malformed)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": res,
		"report": report,
	})
}

// Export handles POST /renewals/export/{csv|xlsx|xml}. The file is returned
// as the response body; when archived its URL is in X-Export-URL.
func (h *RenewalHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	ids, _ := req.parse()

	var (
		file *appRenewal.ExportFile
		err  error
	)
	switch format := strings.ToLower(chi.URLParam(r, "format")); format {
	case "csv":
		file, err = h.exports.ExportCSV(r.Context(), ids)
	case "xlsx":
		file, err = h.exports.ExportXLSX(r.Context(), ids)
	case "xml":
		file, err = h.exports.ExportPaymentXML(r.Context(), ids, req.MarkDone)
	default:
		writeAppError(w, errors.Newf(errors.CodeInvalidParam, "unsupported export format %q", format))
		return
	}
	if err != nil {
		h.logFailure("export", err)
		writeAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("X-Export-Rows", strconv.Itoa(file.Rows))
	if file.URL != "" {
		w.Header().Set("X-Export-URL", file.URL)
	}
	if file.MarkResult != nil {
		w.Header().Set("X-Mark-Done", file.MarkResult.Message)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// writeBatch answers 200 for an applied batch and 422 for a rejected one.
func (h *RenewalHandler) writeBatch(w http.ResponseWriter, op string, res *commontypes.BatchResult, malformed []string, err error) {
	if err != nil {
		h.logFailure(op, err)
		writeAppError(w, err)
		return
	}
	if res == nil {
		writeAppError(w, errors.Internal(op+" returned no result"))
		return
	}
	addMalformed(res, malformed)
	if !res.Success {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func addMalformed(res *commontypes.BatchResult, malformed []string) {
	for _, m := range malformed {
		res.AddError("task %q: not found", m)
	}
}

func (h *RenewalHandler) logFailure(op string, err error) {
	if errors.IsServerError(errors.GetCode(err)) || errors.GetCode(err) == errors.CodeUnknown {
		h.logger.Error("Renewal request failed", logging.String("operation", op), logging.Err(err))
	}
}

func parseStep(raw string) (domainRenewal.Step, error) {
	s, err := domainRenewal.ParseStep(raw)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeInvalidStep, "invalid step")
	}
	return s, nil
}

// filterFromQuery builds a pipeline filter from the query string.
func filterFromQuery(r *http.Request) (domainRenewal.Filter, error) {
	q := r.URL.Query()
	page, size := parsePagination(r)
	opts := []domainRenewal.FilterOption{domainRenewal.WithPage(page, size)}

	if v := q.Get("step"); v != "" {
		s, err := parseStep(v)
		if err != nil {
			return domainRenewal.Filter{}, err
		}
		opts = append(opts, domainRenewal.WithStep(s))
	}
	if v := q.Get("invoice_step"); v != "" {
		s, err := domainRenewal.ParseInvoiceStep(v)
		if err != nil {
			return domainRenewal.Filter{}, errors.Wrap(err, errors.CodeInvalidInvoiceStep, "invalid invoice step")
		}
		opts = append(opts, domainRenewal.WithInvoiceStep(s))
	}

	from, err := parseDateParam(q.Get("due_from"), "due_from")
	if err != nil {
		return domainRenewal.Filter{}, err
	}
	to, err := parseDateParam(q.Get("due_to"), "due_to")
	if err != nil {
		return domainRenewal.Filter{}, err
	}
	if from != nil || to != nil {
		opts = append(opts, domainRenewal.WithDueRange(from, to))
	}

	if v := q.Get("caseref"); v != "" {
		opts = append(opts, domainRenewal.WithCaseref(v))
	}
	if v := q.Get("client"); v != "" {
		opts = append(opts, domainRenewal.WithClient(v))
	}
	if v := q.Get("country"); v != "" {
		opts = append(opts, domainRenewal.WithCountry(v))
	}
	if v := q.Get("title"); v != "" {
		opts = append(opts, domainRenewal.WithTitle(v))
	}
	if v := q.Get("assigned_to"); v != "" {
		// "me" selects the caller's own renewals.
		if v == "me" {
			v = appRenewal.ActorFromContext(r.Context())
		}
		opts = append(opts, domainRenewal.WithAssignedTo(v))
	}
	return domainRenewal.NewFilter(opts...), nil
}

func parseDateParam(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidDate, field+" must be YYYY-MM-DD")
	}
	return &t, nil
}
