package renewal

import (
	"fmt"
	"strconv"
	"strings"
)

// Step is the pipeline stage of a renewal task.
type Step int

const (
	StepOpen             Step = 0
	StepInstructionsSent Step = 1
	StepReminderSent     Step = 2
	StepPaymentOrdered   Step = 3
	StepInvoiced         Step = 4
	StepReceipts         Step = 5
	StepClosed           Step = 10
	StepAbandoned        Step = 11
)

var stepNames = map[Step]string{
	StepOpen:             "OPEN",
	StepInstructionsSent: "INSTRUCTIONS_SENT",
	StepReminderSent:     "REMINDER_SENT",
	StepPaymentOrdered:   "PAYMENT_ORDERED",
	StepInvoiced:         "INVOICED",
	StepReceipts:         "RECEIPTS",
	StepClosed:           "CLOSED",
	StepAbandoned:        "ABANDONED",
}

// AllSteps lists every step in pipeline order.
var AllSteps = []Step{
	StepOpen, StepInstructionsSent, StepReminderSent, StepPaymentOrdered,
	StepInvoiced, StepReceipts, StepClosed, StepAbandoned,
}

// stepTransitions is the directed edge set of the step axis. Abandonment is
// reachable from every non-terminal state and is added by CanTransition.
var stepTransitions = map[Step]Step{
	StepOpen:             StepInstructionsSent,
	StepInstructionsSent: StepReminderSent,
	StepReminderSent:     StepPaymentOrdered,
	StepPaymentOrdered:   StepInvoiced,
	StepInvoiced:         StepReceipts,
	StepReceipts:         StepClosed,
	// Terminal states have no transitions
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// IsValid reports whether s is a recognised step value.
func (s Step) IsValid() bool {
	_, ok := stepNames[s]
	return ok
}

// IsTerminal reports whether s is CLOSED or ABANDONED.
func (s Step) IsTerminal() bool {
	return s == StepClosed || s == StepAbandoned
}

// ParseStep accepts a step name ("REMINDER_SENT", case-insensitive) or its
// numeric value ("2").
func ParseStep(raw string) (Step, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		s := Step(n)
		if !s.IsValid() {
			return 0, fmt.Errorf("unknown step %d", n)
		}
		return s, nil
	}
	upper := strings.ToUpper(raw)
	for s, name := range stepNames {
		if name == upper {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", raw)
}

// CanTransition reports whether the table allows a single move from -> to.
func CanTransition(from, to Step) bool {
	if !from.IsValid() || !to.IsValid() || from.IsTerminal() {
		return false
	}
	if to == StepAbandoned {
		return true
	}
	next, ok := stepTransitions[from]
	return ok && next == to
}

// GetNextStep returns the linear successor of current. ok is false for
// terminal or unknown steps.
func GetNextStep(current Step) (next Step, ok bool) {
	next, ok = stepTransitions[current]
	return next, ok
}

// IsReachable reports whether to lies ahead of from on the linear path, so a
// batch may jump several stages forward at once. ABANDONED is reachable from
// any non-terminal step.
func IsReachable(from, to Step) bool {
	if !from.IsValid() || !to.IsValid() || from.IsTerminal() || from == to {
		return false
	}
	if to == StepAbandoned {
		return true
	}
	for cur, ok := GetNextStep(from); ok; cur, ok = GetNextStep(cur) {
		if cur == to {
			return true
		}
	}
	return false
}

// InvoiceStep is the billing sub-status of a renewal task.
type InvoiceStep int

const (
	InvoiceNone           InvoiceStep = 0
	InvoiceOrderGenerated InvoiceStep = 1
	InvoiceSent           InvoiceStep = 2
	InvoicePaid           InvoiceStep = 3
)

var invoiceStepNames = map[InvoiceStep]string{
	InvoiceNone:           "NONE",
	InvoiceOrderGenerated: "ORDER_GENERATED",
	InvoiceSent:           "INVOICE_SENT",
	InvoicePaid:           "PAID",
}

// AllInvoiceSteps lists every invoice step in order.
var AllInvoiceSteps = []InvoiceStep{InvoiceNone, InvoiceOrderGenerated, InvoiceSent, InvoicePaid}

func (s InvoiceStep) String() string {
	if name, ok := invoiceStepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("InvoiceStep(%d)", int(s))
}

// IsValid reports whether s is a recognised invoice step.
func (s InvoiceStep) IsValid() bool {
	_, ok := invoiceStepNames[s]
	return ok
}

// ParseInvoiceStep accepts a name ("PAID") or a number ("3").
func ParseInvoiceStep(raw string) (InvoiceStep, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		s := InvoiceStep(n)
		if !s.IsValid() {
			return 0, fmt.Errorf("unknown invoice step %d", n)
		}
		return s, nil
	}
	upper := strings.ToUpper(raw)
	for s, name := range invoiceStepNames {
		if name == upper {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown invoice step %q", raw)
}

// CanTransitionInvoice reports whether the invoice axis allows from -> to.
// The axis is linear and forward only.
func CanTransitionInvoice(from, to InvoiceStep) bool {
	return from.IsValid() && to.IsValid() && to == from+1
}

// GetNextInvoiceStep returns the successor of current on the invoice axis.
func GetNextInvoiceStep(current InvoiceStep) (InvoiceStep, bool) {
	if !current.IsValid() || current == InvoicePaid {
		return current, false
	}
	return current + 1, true
}

// IsInvoiceReachable reports whether to lies ahead of from.
func IsInvoiceReachable(from, to InvoiceStep) bool {
	return from.IsValid() && to.IsValid() && to > from
}

// IsCoherent reports whether a (step, invoice step) pair is meaningful. A
// renewal cannot be paid by the client before anything was sent.
func IsCoherent(step Step, invoice InvoiceStep) bool {
	return !(step == StepOpen && invoice == InvoicePaid)
}
