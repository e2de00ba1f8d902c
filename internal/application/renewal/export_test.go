package renewal

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/testutil"
	apperrors "github.com/turtacn/keyip-renewals/pkg/errors"
)

type exportFixture struct {
	repo    *memTaskRepo
	fees    *FeeCalculator
	archive *mockArchive
	svc     ExportService
}

func newExportFixture(cfg ExporterConfig, tasks ...*domainRenewal.Task) *exportFixture {
	f := &exportFixture{
		repo:    newMemTaskRepo(tasks...),
		fees:    newTestCalculator(nil, FeeCalculatorConfig{DefaultVATRate: dec("0.2")}),
		archive: &mockArchive{},
	}
	logger := testutil.NewMockLogger().KV()
	wf := NewWorkflowService(f.repo, &seqIDs{}, logger, WithClock(fixedClock))
	f.svc = NewExportService(f.repo, f.fees, wf, f.archive, nil, logger, cfg)
	return f
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	require.True(t, bytes.HasPrefix(data, []byte("\xEF\xBB\xBF")), "missing byte-order mark")
	r := csv.NewReader(bytes.NewReader(data[3:]))
	r.Comma = ';'
	records, err := r.ReadAll()
	require.NoError(t, err)
	return records
}

func TestExportCSV(t *testing.T) {
	acme := newClient(1, "Acme; Inc", "ip@acme.test")
	a := newTask(1, acme, "FR")
	a.Discount = nullDec("0.1")
	b := newTask(2, acme, "DE")
	f := newExportFixture(ExporterConfig{}, a, b)

	file, err := f.svc.ExportCSV(context.Background(), []int64{2, 1})
	require.NoError(t, err)
	assert.Equal(t, ContentTypeCSV, file.ContentType)
	assert.True(t, strings.HasSuffix(file.Name, ".csv"))
	assert.Equal(t, 2, file.Rows)

	records := readCSV(t, file.Data)
	require.Len(t, records, 3)
	assert.Equal(t, DefaultCaptions, records[0])
	assert.Equal(t, "2", records[1][0], "caller order kept")
	assert.Equal(t, "DE", records[1][1])
	assert.Equal(t, "Acme; Inc", records[2][4])
	assert.Equal(t, "OPEN", records[2][8])
	assert.Equal(t, "450.00", records[2][11])
	assert.Equal(t, "1450.00", records[2][13])
	assert.Equal(t, "1540.00", records[2][14])
}

func TestExportCSV_EmptySelectionIsHeaderOnly(t *testing.T) {
	f := newExportFixture(ExporterConfig{})
	file, err := f.svc.ExportCSV(context.Background(), []int64{404})
	require.NoError(t, err)
	records := readCSV(t, file.Data)
	assert.Len(t, records, 1)
}

func TestExportCSV_CustomCaptions(t *testing.T) {
	captions := make([]string, len(DefaultCaptions))
	for i := range captions {
		captions[i] = "col" + string(rune('A'+i))
	}
	f := newExportFixture(ExporterConfig{Captions: captions}, newTask(1, nil, "FR"))
	file, err := f.svc.ExportCSV(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Equal(t, captions, readCSV(t, file.Data)[0])

	f = newExportFixture(ExporterConfig{Captions: []string{"only", "two"}}, newTask(1, nil, "FR"))
	file, err = f.svc.ExportCSV(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Equal(t, DefaultCaptions, readCSV(t, file.Data)[0], "mismatched captions fall back")
}

func TestExportCSV_Archived(t *testing.T) {
	f := newExportFixture(ExporterConfig{Archive: true}, newTask(1, nil, "FR"))
	file, err := f.svc.ExportCSV(context.Background(), []int64{1})
	require.NoError(t, err)
	require.Len(t, f.archive.names, 1)
	assert.Equal(t, "https://archive.local/"+file.Name, file.URL)

	f.archive.err = errors.New("bucket missing")
	file, err = f.svc.ExportCSV(context.Background(), []int64{1})
	require.NoError(t, err, "archive failure does not fail the export")
	assert.Empty(t, file.URL)
}

func TestExportXLSX(t *testing.T) {
	acme := newClient(1, "Acme", "ip@acme.test")
	f := newExportFixture(ExporterConfig{}, newTask(1, acme, "FR"))

	file, err := f.svc.ExportXLSX(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Equal(t, ContentTypeXLSX, file.ContentType)

	wb, err := excelize.OpenReader(bytes.NewReader(file.Data))
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows("Renewals")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Caseref", rows[0][2])
	assert.Equal(t, "Acme", rows[1][4])
	assert.Equal(t, "1500", rows[1][13])
}

func TestExportPaymentXML_RoundTrip(t *testing.T) {
	acme := newClient(1, "Acme", "ip@acme.test")
	globex := newClient(2, "Globex", "ip@globex.test")
	a := newTask(1, acme, "EP")
	a.Discount = nullDec("0.1")
	b := newTask(2, globex, "EP")
	b.Discount = nullDec("600")
	c := newTask(3, acme, "EP")
	f := newExportFixture(ExporterConfig{}, a, b, c)

	file, err := f.svc.ExportPaymentXML(context.Background(), []int64{1, 2, 3}, false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(file.Data), "<?xml"))
	assert.Contains(t, file.Name, "payments-EP-")
	assert.Nil(t, file.MarkResult)

	doc, err := ParsePaymentXML(file.Data)
	require.NoError(t, err)
	require.Len(t, doc.Payments, 2)

	first := doc.Payments[0]
	assert.Equal(t, int64(1), first.ClientID)
	assert.Equal(t, "Acme", first.ClientName)
	require.Len(t, first.Renewals, 2)
	assert.Equal(t, int64(1), first.Renewals[0].ID)
	assert.Equal(t, int64(3), first.Renewals[1].ID)
	assert.Equal(t, "2950.00", first.TotalAmount)

	for _, p := range doc.Payments {
		for _, r := range p.Renewals {
			want := f.fees.CalculateTask(context.Background(), f.repo.get(r.ID))
			assert.True(t, dec(r.Cost).Equal(want.Cost), "task %d cost", r.ID)
			assert.True(t, dec(r.Fee).Equal(want.Fee), "task %d fee", r.ID)
			assert.True(t, dec(r.Total).Equal(want.Total), "task %d total", r.ID)
		}
	}
	assert.Equal(t, "1600.00", doc.Payments[1].Renewals[0].Total)
}

func TestExportPaymentXML_ScenarioE_MixedJurisdictions(t *testing.T) {
	f := newExportFixture(ExporterConfig{}, newTask(1, nil, "FR"), newTask(2, nil, "DE"))

	file, err := f.svc.ExportPaymentXML(context.Background(), []int64{1, 2}, true)
	assert.Nil(t, file)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeMixedJurisdiction))
	assert.Empty(t, f.repo.batches, "nothing marked done")
}

func TestExportPaymentXML_EmptyDocument(t *testing.T) {
	f := newExportFixture(ExporterConfig{})

	for _, ids := range [][]int64{nil, {404, 405}} {
		file, err := f.svc.ExportPaymentXML(context.Background(), ids, true)
		require.NoError(t, err)
		assert.Contains(t, string(file.Data), "<payments></payments>")
		assert.Nil(t, file.MarkResult)

		doc, err := ParsePaymentXML(file.Data)
		require.NoError(t, err)
		assert.Empty(t, doc.Payments)
	}
}

func TestExportPaymentXML_MarkDone(t *testing.T) {
	acme := newClient(1, "Acme", "ip@acme.test")
	f := newExportFixture(ExporterConfig{}, newTask(1, acme, "EP"), newTask(2, acme, "EP"))

	file, err := f.svc.ExportPaymentXML(context.Background(), []int64{1, 2}, true)
	require.NoError(t, err)
	require.NotNil(t, file.MarkResult)
	assert.True(t, file.MarkResult.Success)
	assert.Equal(t, 2, file.MarkResult.AffectedCount)
	assert.True(t, f.repo.get(1).Done)
	assert.Equal(t, domainRenewal.StepClosed, f.repo.get(2).Step)
}

func TestExportPaymentXML_MarkDoneFailureReported(t *testing.T) {
	acme := newClient(1, "Acme", "ip@acme.test")
	f := newExportFixture(ExporterConfig{}, newTask(1, acme, "EP"))
	f.repo.applyErr = errors.New("deadlock detected")

	file, err := f.svc.ExportPaymentXML(context.Background(), []int64{1}, true)
	require.NoError(t, err, "document is still returned")
	require.NotNil(t, file.MarkResult)
	assert.False(t, file.MarkResult.Success)
	assert.NotEmpty(t, file.Data)
}
