package renewal

import (
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// MaxGracePeriod is the highest grace period index a task can carry.
const MaxGracePeriod = 3

// Task is a pending maintenance-fee obligation generated by a trigger event on
// a matter. It is mutated only through the workflow service and never
// deleted.
type Task struct {
	ID             int64               `json:"id"`
	TriggerEventID int64               `json:"trigger_event_id"`
	MatterID       int64               `json:"matter_id"`
	DueDate        time.Time           `json:"due_date"`
	DoneDate       *time.Time          `json:"done_date,omitempty"`
	Done           bool                `json:"done"`
	Step           Step                `json:"step"`
	InvoiceStep    InvoiceStep         `json:"invoice_step"`
	GracePeriod    int                 `json:"grace_period"`
	Cost           decimal.Decimal     `json:"cost"`
	Fee            decimal.Decimal     `json:"fee"`
	Discount       decimal.NullDecimal `json:"discount"`
	Detail         string              `json:"detail"`
	AssignedTo     string              `json:"assigned_to,omitempty"`
	// Qt is the annuity year or quantity used to look up the fee schedule.
	Qt int `json:"qt"`
	// TableDriven tasks take cost and fee from the fee schedule.
	TableDriven bool `json:"table_driven"`

	// Matter is populated by batch loading (FindByIDs, Paginate).
	Matter *Matter `json:"matter,omitempty"`
}

// Client returns the loaded client of the owning matter, or nil.
func (t *Task) Client() *Client {
	if t == nil || t.Matter == nil {
		return nil
	}
	return t.Matter.Client
}

// Country returns the jurisdiction of the owning matter.
func (t *Task) Country() string {
	if t == nil || t.Matter == nil {
		return ""
	}
	return t.Matter.Country
}

// Caseref returns the case reference of the owning matter.
func (t *Task) Caseref() string {
	if t == nil || t.Matter == nil {
		return ""
	}
	return t.Matter.Caseref
}

// CompletionDate is the date used to judge lateness: the done date when set,
// otherwise now.
func (t *Task) CompletionDate(now time.Time) time.Time {
	if t.DoneDate != nil {
		return *t.DoneDate
	}
	return now
}

// IsLate reports whether the task was (or will be) completed on a calendar
// day after its due date. Days are taken in the due date's location.
func (t *Task) IsLate(now time.Time) bool {
	loc := t.DueDate.Location()
	return calendarDay(t.CompletionDate(now), loc).After(calendarDay(t.DueDate, loc))
}

func calendarDay(ts time.Time, loc *time.Location) time.Time {
	y, m, d := ts.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Matter is an IP right (patent, trademark, design) tracked by the office.
type Matter struct {
	ID       int64   `json:"id"`
	Caseref  string  `json:"caseref"`
	Country  string  `json:"country"`
	Origin   string  `json:"origin,omitempty"`
	Category string  `json:"category"`
	Title    string  `json:"title,omitempty"`
	Dead     bool    `json:"dead"`
	ClientID int64   `json:"client_id"`
	Client   *Client `json:"client,omitempty"`
}

// Client is the actor holding the CLIENT role on a matter.
type Client struct {
	ID               int64               `json:"id"`
	Name             string              `json:"name"`
	SME              bool                `json:"sme"`
	Discount         decimal.NullDecimal `json:"discount"`
	VATRate          decimal.NullDecimal `json:"vat_rate"`
	Email            string              `json:"email,omitempty"`
	Locale           string              `json:"locale,omitempty"`
	InvoicingAddress string              `json:"invoicing_address,omitempty"`
}

// Attributes extracts the fee-relevant attributes of the client.
func (c *Client) Attributes() ClientAttributes {
	if c == nil {
		return ClientAttributes{}
	}
	return ClientAttributes{SME: c.SME, Discount: c.Discount, VATRate: c.VATRate}
}

// DeliveryAddress implements Deliverable.
func (c *Client) DeliveryAddress() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Email)
}

// PreferredLocale implements Deliverable.
func (c *Client) PreferredLocale() string {
	if c == nil {
		return ""
	}
	return c.Locale
}

// ClientAttributes carries what the fee calculator needs from a client.
type ClientAttributes struct {
	SME      bool
	Discount decimal.NullDecimal
	VATRate  decimal.NullDecimal
}

// Deliverable is anything a notification can be addressed to.
type Deliverable interface {
	DeliveryAddress() string
	PreferredLocale() string
}

// Recipient is the resolved destination of one outbound message.
type Recipient struct {
	Address  string `json:"address"`
	Locale   string `json:"locale"`
	Name     string `json:"name,omitempty"`
	ClientID int64  `json:"client_id,omitempty"`
}

func (r Recipient) DeliveryAddress() string { return r.Address }
func (r Recipient) PreferredLocale() string { return r.Locale }

// Usable reports whether the address looks deliverable.
func (r Recipient) Usable() bool {
	at := strings.LastIndex(r.Address, "@")
	return at > 0 && at < len(r.Address)-1 && !strings.ContainsAny(r.Address, " \t\r\n")
}

// RecipientFor resolves a Recipient for d, falling back to defaultLocale.
func RecipientFor(d Deliverable, defaultLocale string) Recipient {
	r := Recipient{Address: d.DeliveryAddress(), Locale: d.PreferredLocale()}
	if c, ok := d.(*Client); ok && c != nil {
		r.Name = c.Name
		r.ClientID = c.ID
	}
	if r.Locale == "" {
		r.Locale = defaultLocale
	}
	return r
}

// FeeQuery selects a fee-schedule row.
type FeeQuery struct {
	Category string
	Country  string
	Origin   string
	Qt       int
	AsOf     time.Time
}

// FeeRule is one row of the fee schedule. The SME variants are optional.
type FeeRule struct {
	ID        int64               `json:"id"`
	Category  string              `json:"category"`
	Country   string              `json:"country"`
	Origin    string              `json:"origin,omitempty"`
	Qt        int                 `json:"qt"`
	UseAfter  *time.Time          `json:"use_after,omitempty"`
	UseBefore *time.Time          `json:"use_before,omitempty"`
	Cost      decimal.Decimal     `json:"cost"`
	Fee       decimal.Decimal     `json:"fee"`
	CostSME   decimal.NullDecimal `json:"cost_sme"`
	FeeSME    decimal.NullDecimal `json:"fee_sme"`
}

// Applies reports whether asOf lies inside the rule validity window.
func (r FeeRule) Applies(asOf time.Time) bool {
	if r.UseAfter != nil && asOf.Before(*r.UseAfter) {
		return false
	}
	if r.UseBefore != nil && !asOf.Before(*r.UseBefore) {
		return false
	}
	return true
}

// Breakdown is the computed amount due for one task. It is a value object;
// all amounts are rounded to two decimals and never negative.
type Breakdown struct {
	TaskID       int64           `json:"task_id"`
	Cost         decimal.Decimal `json:"cost"`
	Fee          decimal.Decimal `json:"fee"`
	VATRate      decimal.Decimal `json:"vat_rate"`
	VATAmount    decimal.Decimal `json:"vat_amount"`
	Total        decimal.Decimal `json:"total"`
	TotalWithVAT decimal.Decimal `json:"total_with_vat"`
}

// Totals sums a set of breakdowns. The VAT rate of the sum is left zero.
func Totals(items []Breakdown) Breakdown {
	sum := Breakdown{}
	for _, b := range items {
		sum.Cost = sum.Cost.Add(b.Cost)
		sum.Fee = sum.Fee.Add(b.Fee)
		sum.VATAmount = sum.VATAmount.Add(b.VATAmount)
		sum.Total = sum.Total.Add(b.Total)
		sum.TotalWithVAT = sum.TotalWithVAT.Add(b.TotalWithVAT)
	}
	return sum
}

// Axis names the column a transition log entry refers to.
type Axis string

const (
	AxisStep        Axis = "step"
	AxisInvoiceStep Axis = "invoice_step"
	AxisGracePeriod Axis = "grace_period"
	AxisDone        Axis = "done"
)

// TransitionLogEntry records one change of one task. Entries are append-only.
type TransitionLogEntry struct {
	ID        int64     `json:"id,omitempty"`
	TaskID    int64     `json:"task_id"`
	BatchID   int64     `json:"batch_id"`
	Axis      Axis      `json:"axis"`
	From      int       `json:"from"`
	To        int       `json:"to"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskChange is the set of columns to write on one task. Nil fields are left
// untouched.
type TaskChange struct {
	TaskID      int64
	Step        *Step
	InvoiceStep *InvoiceStep
	GracePeriod *int
	Done        *bool
	DoneDate    *time.Time
}

// TransitionBatch is one unit of work: every change and log entry is applied
// in a single transaction.
type TransitionBatch struct {
	ID      int64
	Actor   string
	At      time.Time
	Changes []TaskChange
	Entries []TransitionLogEntry
}

// Empty reports whether the batch has nothing to write.
func (b *TransitionBatch) Empty() bool {
	return b == nil || len(b.Changes) == 0
}

// TaskIDs lists the ids touched by the batch.
func (b *TransitionBatch) TaskIDs() []int64 {
	return lo.Map(b.Changes, func(c TaskChange, _ int) int64 { return c.TaskID })
}

// MatterEvent is a domain event scoped to a matter.
type MatterEvent struct {
	ID         string    `json:"id"`
	MatterID   int64     `json:"matter_id"`
	TaskID     int64     `json:"task_id"`
	Code       string    `json:"code"`
	BatchID    int64     `json:"batch_id"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventCodeAbandoned is the event code appended to a matter when one of its
// renewals is abandoned.
const EventCodeAbandoned = "ABA"

// ParseIDs converts raw identifiers to task ids. Malformed or non-positive
// values are returned separately so callers can report them as not found
// without ever handing them to a query.
func ParseIDs(raw []string) (ids []int64, malformed []string) {
	for _, r := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(r), 10, 64)
		if err != nil || id <= 0 {
			malformed = append(malformed, r)
			continue
		}
		ids = append(ids, id)
	}
	return ids, malformed
}

// NormalizeIDs drops non-positive ids and duplicates, keeping first-seen order.
func NormalizeIDs(ids []int64) []int64 {
	return lo.Uniq(lo.Filter(ids, func(id int64, _ int) bool { return id > 0 }))
}
