package renewal

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NotificationKind is the closed set of client communications.
type NotificationKind int

const (
	KindFirstCall NotificationKind = iota + 1
	KindReminder
	KindLastCall
	KindInvoice
	KindReport
)

// KindSpec describes how a notification kind is rendered and which
// transition a successful send triggers.
type KindSpec struct {
	Name     string
	Template string
	Subject  string
	// AdvanceTo is the step reached after a successful send, if any.
	AdvanceTo *Step
	// InvoiceTo is the invoice step reached after a successful send, if any.
	InvoiceTo *InvoiceStep
	// OpensGrace advances the grace period from 0 to 1 after the send.
	OpensGrace bool
}

func stepPtr(s Step) *Step                  { return &s }
func invoicePtr(s InvoiceStep) *InvoiceStep { return &s }

var kindSpecs = map[NotificationKind]KindSpec{
	KindFirstCall: {
		Name:      "first_call",
		Template:  "renewal/first_call",
		Subject:   "Renewal instructions required",
		AdvanceTo: stepPtr(StepInstructionsSent),
	},
	KindReminder: {
		Name:      "reminder",
		Template:  "renewal/reminder",
		Subject:   "Reminder: renewal instructions required",
		AdvanceTo: stepPtr(StepReminderSent),
	},
	KindLastCall: {
		Name:       "last_call",
		Template:   "renewal/last_call",
		Subject:    "Last call: renewal deadline passed",
		AdvanceTo:  stepPtr(StepReminderSent),
		OpensGrace: true,
	},
	KindInvoice: {
		Name:      "invoice",
		Template:  "renewal/invoice",
		Subject:   "Renewal invoice",
		InvoiceTo: invoicePtr(InvoiceSent),
	},
	KindReport: {
		Name:     "report",
		Template: "renewal/report",
		Subject:  "Renewal report",
	},
}

// Spec returns the rendering and transition rules of k.
func (k NotificationKind) Spec() (KindSpec, bool) {
	s, ok := kindSpecs[k]
	return s, ok
}

// IsValid reports whether k is a known kind.
func (k NotificationKind) IsValid() bool {
	_, ok := kindSpecs[k]
	return ok
}

func (k NotificationKind) String() string {
	if s, ok := kindSpecs[k]; ok {
		return s.Name
	}
	return fmt.Sprintf("NotificationKind(%d)", int(k))
}

// ParseNotificationKind accepts "first_call", "first-call", "FIRST_CALL",
// "reminder", "last_call", "invoice" or "report". "first" and "warn" are
// accepted as aliases of first_call and reminder.
func ParseNotificationKind(raw string) (NotificationKind, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_"))
	switch key {
	case "first":
		return KindFirstCall, nil
	case "warn":
		return KindReminder, nil
	case "last":
		return KindLastCall, nil
	}
	for k, s := range kindSpecs {
		if s.Name == key {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown notification kind %q", raw)
}

// LineItem is one renewal inside a rendered message.
type LineItem struct {
	TaskID    int64     `json:"task_id"`
	Caseref   string    `json:"caseref"`
	Country   string    `json:"country"`
	Title     string    `json:"title,omitempty"`
	Detail    string    `json:"detail"`
	DueDate   time.Time `json:"due_date"`
	Breakdown Breakdown `json:"breakdown"`
}

// Message is one outbound communication to one recipient.
type Message struct {
	ID        string           `json:"id"`
	BatchID   int64            `json:"batch_id"`
	Kind      NotificationKind `json:"kind"`
	KindName  string           `json:"kind_name"`
	Template  string           `json:"template"`
	Subject   string           `json:"subject"`
	From      string           `json:"from,omitempty"`
	Recipient Recipient        `json:"recipient"`
	Lines     []LineItem       `json:"lines"`
	Total     Breakdown        `json:"total"`
	CreatedAt time.Time        `json:"created_at"`
}

// TaskIDs lists the tasks carried by the message.
func (m *Message) TaskIDs() []int64 {
	ids := make([]int64, 0, len(m.Lines))
	for _, l := range m.Lines {
		ids = append(ids, l.TaskID)
	}
	return ids
}

// GrandTotal is the amount the recipient is asked to pay.
func (m *Message) GrandTotal() decimal.Decimal {
	return m.Total.TotalWithVAT
}
