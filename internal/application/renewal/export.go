// internal/application/renewal/export.go
//
// Export generator: spreadsheet (CSV, XLSX) and payment-instruction (XML)
// representations of a renewal selection, enriched with fee breakdowns.

package renewal

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/pkg/errors"
	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeXML  = "application/xml; charset=utf-8"

	utf8BOM = "\xEF\xBB\xBF"
	// dateLayout is used for every date written to an export.
	dateLayout = "2006-01-02"
)

// DefaultCaptions is the header row of spreadsheet exports, one caption per
// column in output order.
var DefaultCaptions = []string{
	"ID", "Country", "Caseref", "Title", "Client", "Detail", "Due date", "Grace",
	"Step", "Invoice step", "Cost", "Fee", "VAT", "Total", "Total with VAT",
}

// ExportFile is a generated document.
type ExportFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
	// URL is set when the file was archived.
	URL  string `json:"url,omitempty"`
	Rows int    `json:"rows"`
	// MarkResult is the outcome of the optional mark-as-done step.
	MarkResult *commontypes.BatchResult `json:"mark_result,omitempty"`
}

// ExportService generates renewal exports.
type ExportService interface {
	ExportCSV(ctx context.Context, ids []int64) (*ExportFile, error)
	ExportXLSX(ctx context.Context, ids []int64) (*ExportFile, error)
	// ExportPaymentXML requires every task to share one country. With
	// markDone the exported tasks are closed once the document is built.
	ExportPaymentXML(ctx context.Context, ids []int64, markDone bool) (*ExportFile, error)
}

// ExporterConfig holds the exporter tunables.
type ExporterConfig struct {
	// Captions must have one entry per column; otherwise DefaultCaptions is
	// used.
	Captions []string
	// Archive uploads each generated file when an archive is configured.
	Archive bool
}

type exportServiceImpl struct {
	tasks    domainRenewal.TaskRepository
	fees     *FeeCalculator
	workflow WorkflowService
	archive  domainRenewal.ExportArchive
	metrics  Metrics
	logger   Logger
	cfg      ExporterConfig
	now      func() time.Time
}

// NewExportService constructs an ExportService. archive may be nil.
func NewExportService(
	tasks domainRenewal.TaskRepository,
	fees *FeeCalculator,
	workflow WorkflowService,
	archive domainRenewal.ExportArchive,
	metrics Metrics,
	logger Logger,
	cfg ExporterConfig,
) ExportService {
	logger = orNop(logger)
	if len(cfg.Captions) != len(DefaultCaptions) {
		if len(cfg.Captions) > 0 {
			logger.Warn("csv captions ignored, column count mismatch",
				"got", len(cfg.Captions), "want", len(DefaultCaptions))
		}
		cfg.Captions = DefaultCaptions
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &exportServiceImpl{
		tasks:    tasks,
		fees:     fees,
		workflow: workflow,
		archive:  archive,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ---------------------------------------------------------------------------
// Spreadsheet exports
// ---------------------------------------------------------------------------

func (s *exportServiceImpl) ExportCSV(ctx context.Context, ids []int64) (*ExportFile, error) {
	start := time.Now()
	rows, err := s.rows(ctx, ids)
	if err != nil {
		s.metrics.ObserveExport("csv", outcomeFailure, time.Since(start))
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCSV(&buf, s.cfg.Captions, rows); err != nil {
		s.metrics.ObserveExport("csv", outcomeFailure, time.Since(start))
		return nil, errors.Wrap(err, errors.CodeExportFailed, "write csv")
	}

	file := &ExportFile{
		Name:        s.fileName("renewals", "csv"),
		ContentType: ContentTypeCSV,
		Data:        buf.Bytes(),
		Rows:        len(rows),
	}
	s.store(ctx, file)
	s.metrics.ObserveExport("csv", outcomeSuccess, time.Since(start))
	s.logger.Info("renewal csv exported", "rows", file.Rows, "bytes", len(file.Data))
	return file, nil
}

func (s *exportServiceImpl) ExportXLSX(ctx context.Context, ids []int64) (*ExportFile, error) {
	start := time.Now()
	rows, err := s.rows(ctx, ids)
	if err != nil {
		s.metrics.ObserveExport("xlsx", outcomeFailure, time.Since(start))
		return nil, err
	}

	data, err := buildWorkbook(s.cfg.Captions, rows)
	if err != nil {
		s.metrics.ObserveExport("xlsx", outcomeFailure, time.Since(start))
		return nil, errors.Wrap(err, errors.CodeExportFailed, "write xlsx")
	}

	file := &ExportFile{
		Name:        s.fileName("renewals", "xlsx"),
		ContentType: ContentTypeXLSX,
		Data:        data,
		Rows:        len(rows),
	}
	s.store(ctx, file)
	s.metrics.ObserveExport("xlsx", outcomeSuccess, time.Since(start))
	s.logger.Info("renewal xlsx exported", "rows", file.Rows, "bytes", len(file.Data))
	return file, nil
}

// exportRow is one spreadsheet line. Amounts stay decimals until rendered.
type exportRow struct {
	task      *domainRenewal.Task
	client    string
	breakdown domainRenewal.Breakdown
}

func (r exportRow) values() []interface{} {
	t, b := r.task, r.breakdown
	var title string
	if t.Matter != nil {
		title = t.Matter.Title
	}
	return []interface{}{
		t.ID, t.Country(), t.Caseref(), title, r.client, t.Detail,
		t.DueDate.Format(dateLayout), t.GracePeriod, t.Step.String(), t.InvoiceStep.String(),
		b.Cost, b.Fee, b.VATAmount, b.Total, b.TotalWithVAT,
	}
}

// rows loads the tasks in the caller's id order and computes their
// breakdowns. Unknown ids are skipped.
func (s *exportServiceImpl) rows(ctx context.Context, ids []int64) ([]exportRow, error) {
	tasks, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	breakdowns := s.fees.CalculateBatch(ctx, tasks)

	rows := make([]exportRow, 0, len(tasks))
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CodeExportFailed, "export cancelled")
		}
		var client string
		if c := t.Client(); c != nil {
			client = c.Name
		}
		rows = append(rows, exportRow{task: t, client: client, breakdown: breakdowns[t.ID]})
	}
	return rows, nil
}

func (s *exportServiceImpl) load(ctx context.Context, raw []int64) ([]*domainRenewal.Task, error) {
	ids := domainRenewal.NormalizeIDs(raw)
	if len(ids) == 0 {
		return nil, nil
	}
	tasks, err := s.tasks.FindByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDBQueryError, "load renewal tasks")
	}
	byID := lo.KeyBy(tasks, func(t *domainRenewal.Task) int64 { return t.ID })
	out := make([]*domainRenewal.Task, 0, len(tasks))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// writeCSV writes a UTF-8 CSV with byte-order mark, semicolon separated,
// with one header row.
func writeCSV(w io.Writer, captions []string, rows []exportRow) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(captions); err != nil {
		return err
	}
	for _, r := range rows {
		vals := r.values()
		record := make([]string, len(vals))
		for i, v := range vals {
			record[i] = formatCell(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case decimal.Decimal:
		return x.StringFixed(2)
	default:
		return fmt.Sprint(x)
	}
}

func buildWorkbook(captions []string, rows []exportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Renewals"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	for i, caption := range captions {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, caption); err != nil {
			return nil, err
		}
	}
	for r, row := range rows {
		for c, v := range row.values() {
			if d, ok := v.(decimal.Decimal); ok {
				v = d.InexactFloat64()
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ---------------------------------------------------------------------------
// Payment XML
// ---------------------------------------------------------------------------

// PaymentsDocument is the root of the payment-instruction export.
type PaymentsDocument struct {
	XMLName  xml.Name         `xml:"payments"`
	Payments []PaymentElement `xml:"payment"`
}

// PaymentElement groups the renewals of one client.
type PaymentElement struct {
	ClientID    int64            `xml:"client_id"`
	ClientName  string           `xml:"client_name"`
	Renewals    []RenewalElement `xml:"renewal"`
	TotalAmount string           `xml:"total_amount"`
}

// RenewalElement is one task with its fee breakdown.
type RenewalElement struct {
	ID      int64  `xml:"id"`
	Caseref string `xml:"caseref"`
	Detail  string `xml:"detail"`
	DueDate string `xml:"due_date"`
	Cost    string `xml:"cost"`
	Fee     string `xml:"fee"`
	Total   string `xml:"total"`
}

// ParsePaymentXML decodes a document produced by ExportPaymentXML.
func ParsePaymentXML(data []byte) (*PaymentsDocument, error) {
	var doc PaymentsDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *exportServiceImpl) ExportPaymentXML(ctx context.Context, ids []int64, markDone bool) (*ExportFile, error) {
	start := time.Now()
	fail := func(err error) (*ExportFile, error) {
		outcome := outcomeFailure
		if errors.IsCode(err, errors.CodeMixedJurisdiction) {
			outcome = outcomeRejected
		}
		s.metrics.ObserveExport("xml", outcome, time.Since(start))
		return nil, err
	}

	tasks, err := s.load(ctx, ids)
	if err != nil {
		return fail(err)
	}

	countries := lo.Uniq(lo.Map(tasks, func(t *domainRenewal.Task, _ int) string { return t.Country() }))
	if len(countries) > 1 {
		sort.Strings(countries)
		s.logger.Debug("payment export rejected, mixed jurisdictions", "countries", countries)
		return fail(errors.Newf(errors.CodeMixedJurisdiction,
			"payment export requires a single jurisdiction, got %d", len(countries)).
			WithDetail(fmt.Sprintf("countries=%v", countries)))
	}

	doc, err := s.buildPayments(ctx, tasks)
	if err != nil {
		return fail(err)
	}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fail(errors.Wrap(err, errors.CodeExportFailed, "marshal payment xml"))
	}

	prefix := "payments"
	if len(countries) == 1 && countries[0] != "" {
		prefix += "-" + countries[0]
	}
	file := &ExportFile{
		Name:        s.fileName(prefix, "xml"),
		ContentType: ContentTypeXML,
		Data:        append([]byte(xml.Header), data...),
		Rows:        len(tasks),
	}

	if markDone && len(tasks) > 0 {
		file.MarkResult = s.markDone(ctx, tasks)
	}
	s.store(ctx, file)
	s.metrics.ObserveExport("xml", outcomeSuccess, time.Since(start))
	s.logger.Info("renewal payment xml exported",
		"rows", file.Rows, "clients", len(doc.Payments), "mark_done", markDone)
	return file, nil
}

// buildPayments groups tasks by client id, clients in ascending id order and
// renewals by due date.
func (s *exportServiceImpl) buildPayments(ctx context.Context, tasks []*domainRenewal.Task) (*PaymentsDocument, error) {
	doc := &PaymentsDocument{}
	if len(tasks) == 0 {
		return doc, nil
	}

	breakdowns := s.fees.CalculateBatch(ctx, tasks)
	byClient := lo.GroupBy(tasks, func(t *domainRenewal.Task) int64 {
		if t.Matter == nil {
			return 0
		}
		return t.Matter.ClientID
	})
	clientIDs := lo.Keys(byClient)
	sort.Slice(clientIDs, func(i, j int) bool { return clientIDs[i] < clientIDs[j] })

	for _, cid := range clientIDs {
		group := byClient[cid]
		sort.Slice(group, func(i, j int) bool {
			if !group[i].DueDate.Equal(group[j].DueDate) {
				return group[i].DueDate.Before(group[j].DueDate)
			}
			return group[i].ID < group[j].ID
		})

		payment := PaymentElement{ClientID: cid}
		if c := group[0].Client(); c != nil {
			payment.ClientName = c.Name
		}
		total := decimal.Zero
		for _, t := range group {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, errors.CodeExportFailed, "export cancelled")
			}
			b := breakdowns[t.ID]
			payment.Renewals = append(payment.Renewals, RenewalElement{
				ID:      t.ID,
				Caseref: t.Caseref(),
				Detail:  t.Detail,
				DueDate: t.DueDate.Format(dateLayout),
				Cost:    b.Cost.StringFixed(2),
				Fee:     b.Fee.StringFixed(2),
				Total:   b.Total.StringFixed(2),
			})
			total = total.Add(b.Total)
		}
		payment.TotalAmount = total.StringFixed(2)
		doc.Payments = append(doc.Payments, payment)
	}
	return doc, nil
}

func (s *exportServiceImpl) markDone(ctx context.Context, tasks []*domainRenewal.Task) *commontypes.BatchResult {
	if s.workflow == nil {
		return commontypes.Rejected("mark as done unavailable")
	}
	ids := lo.Map(tasks, func(t *domainRenewal.Task, _ int) int64 { return t.ID })
	res, err := s.workflow.MarkAsDone(ctx, ids, nil)
	if err != nil {
		s.logger.Error("marking exported renewals done failed", "task_ids", ids, "error", err)
		return commontypes.Rejected("mark as done failed", err.Error())
	}
	return res
}

// store archives the file when configured. Archive failures are logged; the
// document is still returned.
func (s *exportServiceImpl) store(ctx context.Context, file *ExportFile) {
	if !s.cfg.Archive || s.archive == nil {
		return
	}
	url, err := s.archive.Store(ctx, file.Name, file.ContentType, bytes.NewReader(file.Data), int64(len(file.Data)))
	if err != nil {
		s.logger.Warn("export archive failed", "name", file.Name, "error", err)
		return
	}
	file.URL = url
}

func (s *exportServiceImpl) fileName(prefix, ext string) string {
	return fmt.Sprintf("%s-%s.%s", prefix, s.now().UTC().Format("20060102-150405"), ext)
}
