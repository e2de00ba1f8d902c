package renewal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expectedEdges is the published pipeline: the linear path plus abandonment
// from every non-terminal state.
func expectedEdges() map[[2]Step]bool {
	edges := map[[2]Step]bool{
		{StepOpen, StepInstructionsSent}:           true,
		{StepInstructionsSent, StepReminderSent}:   true,
		{StepReminderSent, StepPaymentOrdered}:     true,
		{StepPaymentOrdered, StepInvoiced}:         true,
		{StepInvoiced, StepReceipts}:               true,
		{StepReceipts, StepClosed}:                 true,
	}
	for _, s := range AllSteps {
		if !s.IsTerminal() {
			edges[[2]Step{s, StepAbandoned}] = true
		}
	}
	return edges
}

func TestCanTransition_AgreesWithTable(t *testing.T) {
	edges := expectedEdges()
	candidates := append([]Step{Step(-1), Step(6), Step(12)}, AllSteps...)

	for _, from := range candidates {
		for _, to := range candidates {
			want := edges[[2]Step{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStepsHaveNoTransitions(t *testing.T) {
	for _, terminal := range []Step{StepClosed, StepAbandoned} {
		assert.True(t, terminal.IsTerminal())
		_, ok := GetNextStep(terminal)
		assert.False(t, ok)
		for _, to := range AllSteps {
			assert.False(t, CanTransition(terminal, to))
			assert.False(t, IsReachable(terminal, to))
		}
	}
}

func TestGetNextStep(t *testing.T) {
	next, ok := GetNextStep(StepOpen)
	require.True(t, ok)
	assert.Equal(t, StepInstructionsSent, next)

	next, ok = GetNextStep(StepReceipts)
	require.True(t, ok)
	assert.Equal(t, StepClosed, next)

	_, ok = GetNextStep(Step(42))
	assert.False(t, ok)
}

func TestIsReachable(t *testing.T) {
	assert.True(t, IsReachable(StepOpen, StepPaymentOrdered))
	assert.True(t, IsReachable(StepOpen, StepClosed))
	assert.True(t, IsReachable(StepInvoiced, StepAbandoned))
	assert.False(t, IsReachable(StepPaymentOrdered, StepReminderSent))
	assert.False(t, IsReachable(StepOpen, StepOpen))
	assert.False(t, IsReachable(StepOpen, Step(7)))
}

func TestParseStep(t *testing.T) {
	s, err := ParseStep("reminder_sent")
	require.NoError(t, err)
	assert.Equal(t, StepReminderSent, s)

	s, err = ParseStep("10")
	require.NoError(t, err)
	assert.Equal(t, StepClosed, s)

	_, err = ParseStep("7")
	assert.Error(t, err)
	_, err = ParseStep("DONE")
	assert.Error(t, err)

	assert.Equal(t, "Step(7)", Step(7).String())
}

func TestInvoiceAxis(t *testing.T) {
	assert.True(t, CanTransitionInvoice(InvoiceNone, InvoiceOrderGenerated))
	assert.True(t, CanTransitionInvoice(InvoiceSent, InvoicePaid))
	assert.False(t, CanTransitionInvoice(InvoiceNone, InvoiceSent))
	assert.False(t, CanTransitionInvoice(InvoicePaid, InvoiceSent))
	assert.False(t, CanTransitionInvoice(InvoicePaid, InvoiceStep(4)))

	next, ok := GetNextInvoiceStep(InvoiceOrderGenerated)
	require.True(t, ok)
	assert.Equal(t, InvoiceSent, next)
	_, ok = GetNextInvoiceStep(InvoicePaid)
	assert.False(t, ok)

	assert.True(t, IsInvoiceReachable(InvoiceNone, InvoicePaid))
	assert.False(t, IsInvoiceReachable(InvoiceSent, InvoiceNone))

	s, err := ParseInvoiceStep("paid")
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, s)
	_, err = ParseInvoiceStep("9")
	assert.Error(t, err)
}

func TestIsCoherent(t *testing.T) {
	assert.False(t, IsCoherent(StepOpen, InvoicePaid))
	assert.True(t, IsCoherent(StepReminderSent, InvoiceOrderGenerated))
	assert.True(t, IsCoherent(StepClosed, InvoicePaid))
}
