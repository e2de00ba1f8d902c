package renewal

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
)

// ---------------------------------------------------------------------------
// In-memory task repository
// ---------------------------------------------------------------------------

type memTaskRepo struct {
	mu      sync.Mutex
	tasks   map[int64]*domainRenewal.Task
	batches []*domainRenewal.TransitionBatch

	findErr  error
	applyErr error

	lastSpec    domainRenewal.QuerySpec
	paginateFn  func(spec domainRenewal.QuerySpec) ([]*domainRenewal.Task, int, error)
	findByIDsCt int
}

func newMemTaskRepo(tasks ...*domainRenewal.Task) *memTaskRepo {
	r := &memTaskRepo{tasks: make(map[int64]*domainRenewal.Task)}
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	return r
}

func (r *memTaskRepo) get(id int64) *domainRenewal.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := *r.tasks[id]
	return &t
}

func (r *memTaskRepo) FindByID(_ context.Context, id int64) (*domainRenewal.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memTaskRepo) FindByIDs(_ context.Context, ids []int64) ([]*domainRenewal.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findByIDsCt++
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []*domainRenewal.Task
	for _, id := range ids {
		if t, ok := r.tasks[id]; ok {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memTaskRepo) Paginate(_ context.Context, spec domainRenewal.QuerySpec) ([]*domainRenewal.Task, int, error) {
	r.mu.Lock()
	r.lastSpec = spec
	fn := r.paginateFn
	r.mu.Unlock()
	if fn != nil {
		return fn(spec)
	}
	return nil, 0, nil
}

func (r *memTaskRepo) ApplyBatch(_ context.Context, b *domainRenewal.TransitionBatch) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return 0, r.applyErr
	}
	for _, c := range b.Changes {
		t, ok := r.tasks[c.TaskID]
		if !ok {
			continue
		}
		if c.Step != nil {
			t.Step = *c.Step
		}
		if c.InvoiceStep != nil {
			t.InvoiceStep = *c.InvoiceStep
		}
		if c.GracePeriod != nil {
			t.GracePeriod = *c.GracePeriod
		}
		if c.Done != nil {
			t.Done = *c.Done
		}
		if c.DoneDate != nil {
			d := *c.DoneDate
			t.DoneDate = &d
		}
	}
	r.batches = append(r.batches, b)
	return len(b.Changes), nil
}

func (r *memTaskRepo) GetGroupedByClient(_ context.Context, ids []int64) (map[int64][]*domainRenewal.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	out := make(map[int64][]*domainRenewal.Task)
	for _, id := range ids {
		t, ok := r.tasks[id]
		if !ok {
			continue
		}
		cp := *t
		var cid int64
		if t.Matter != nil {
			cid = t.Matter.ClientID
		}
		out[cid] = append(out[cid], &cp)
	}
	return out, nil
}

func (r *memTaskRepo) CountByStep(context.Context) (map[domainRenewal.Step]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domainRenewal.Step]int)
	for _, t := range r.tasks {
		if !t.Done && (t.Matter == nil || !t.Matter.Dead) {
			out[t.Step]++
		}
	}
	return out, nil
}

func (r *memTaskRepo) CountByInvoiceStep(context.Context) (map[domainRenewal.InvoiceStep]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domainRenewal.InvoiceStep]int)
	for _, t := range r.tasks {
		if !t.Done && (t.Matter == nil || !t.Matter.Dead) {
			out[t.InvoiceStep]++
		}
	}
	return out, nil
}

func (r *memTaskRepo) entries() []domainRenewal.TransitionLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domainRenewal.TransitionLogEntry
	for _, b := range r.batches {
		out = append(out, b.Entries...)
	}
	return out
}

// ---------------------------------------------------------------------------
// Func-field mocks
// ---------------------------------------------------------------------------

type seqIDs struct {
	mu   sync.Mutex
	next int64
	err  error
}

func (g *seqIDs) NextBatchID(context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return 0, g.err
	}
	g.next++
	return g.next, nil
}

type mockEventSink struct {
	mu     sync.Mutex
	events []domainRenewal.MatterEvent
	err    error
}

func (m *mockEventSink) Publish(_ context.Context, events ...domainRenewal.MatterEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

type mockSender struct {
	mu     sync.Mutex
	sent   []*domainRenewal.Message
	sendFn func(msg *domainRenewal.Message) error
}

func (m *mockSender) Send(_ context.Context, msg *domainRenewal.Message) error {
	if m.sendFn != nil {
		if err := m.sendFn(msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

func (m *mockSender) messages() []*domainRenewal.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]*domainRenewal.Message(nil), m.sent...)
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient.ClientID < out[j].Recipient.ClientID })
	return out
}

type mockFeeSchedule struct {
	lookupFn func(q domainRenewal.FeeQuery) (*domainRenewal.FeeRule, error)
}

func (m *mockFeeSchedule) Lookup(_ context.Context, q domainRenewal.FeeQuery) (*domainRenewal.FeeRule, error) {
	return m.lookupFn(q)
}

type mockClientRepo struct {
	findFn func(id int64) (*domainRenewal.Client, error)
}

func (m *mockClientRepo) Find(_ context.Context, id int64) (*domainRenewal.Client, error) {
	return m.findFn(id)
}

func (m *mockClientRepo) GetDiscount(_ context.Context, id int64) (decimal.NullDecimal, error) {
	c, err := m.findFn(id)
	if err != nil || c == nil {
		return decimal.NullDecimal{}, err
	}
	return c.Discount, nil
}

func (m *mockClientRepo) GetVATRate(_ context.Context, id int64) (decimal.NullDecimal, error) {
	c, err := m.findFn(id)
	if err != nil || c == nil {
		return decimal.NullDecimal{}, err
	}
	return c.VATRate, nil
}

func (m *mockClientRepo) GetInvoicingAddress(_ context.Context, id int64) (string, error) {
	c, err := m.findFn(id)
	if err != nil || c == nil {
		return "", err
	}
	return c.InvoicingAddress, nil
}

type mockArchive struct {
	names []string
	err   error
}

func (m *mockArchive) Store(_ context.Context, name, _ string, _ io.Reader, _ int64) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.names = append(m.names, name)
	return "https://archive.local/" + name, nil
}

type mockTransitionLog struct {
	byBatch map[int64][]domainRenewal.TransitionLogEntry
	byTask  map[int64][]domainRenewal.TransitionLogEntry
}

func (m *mockTransitionLog) ListByBatch(_ context.Context, id int64) ([]domainRenewal.TransitionLogEntry, error) {
	return m.byBatch[id], nil
}

func (m *mockTransitionLog) ListByTask(_ context.Context, id int64) ([]domainRenewal.TransitionLogEntry, error) {
	return m.byTask[id], nil
}

type recordingMetrics struct {
	mu      sync.Mutex
	batches []string
	sends   map[string]int
	pending map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{sends: make(map[string]int)}
}

func (m *recordingMetrics) ObserveBatch(op, outcome string, _ int, _ time.Duration) {
	m.mu.Lock()
	m.batches = append(m.batches, op+":"+outcome)
	m.mu.Unlock()
}

func (m *recordingMetrics) ObserveSend(kind, outcome string) {
	m.mu.Lock()
	m.sends[kind+":"+outcome]++
	m.mu.Unlock()
}

func (m *recordingMetrics) ObserveExport(string, string, time.Duration) {}

func (m *recordingMetrics) SetPending(byStep, _ map[string]int) {
	m.mu.Lock()
	m.pending = byStep
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var fixedNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nullDec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

func newClient(id int64, name, email string) *domainRenewal.Client {
	return &domainRenewal.Client{ID: id, Name: name, Email: email, Locale: "fr"}
}

func newTask(id int64, client *domainRenewal.Client, country string) *domainRenewal.Task {
	m := &domainRenewal.Matter{
		ID:       id * 10,
		Caseref:  "CASE" + string(rune('A'+id%26)),
		Country:  country,
		Category: "PAT",
		Title:    "Widget",
	}
	if client != nil {
		m.ClientID = client.ID
		m.Client = client
	}
	return &domainRenewal.Task{
		ID:       id,
		MatterID: m.ID,
		DueDate:  fixedNow.AddDate(0, 1, int(id)),
		Cost:     dec("1000"),
		Fee:      dec("500"),
		Detail:   "Year 5",
		Qt:       5,
		Matter:   m,
	}
}
