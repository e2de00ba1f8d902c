package renewal

import (
	"strings"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
)

// BuildQuery turns a pipeline filter into a storage-agnostic query.
//
// Tasks of dead matters are hidden unless the caller asks for a specific
// stage other than the default one (a step other than OPEN or an invoice
// step other than NONE). Without any stage filter only open (done=false)
// tasks are listed. Results are sorted by due date ascending, except for the
// CLOSED and PAID views which show the most recent first.
func BuildQuery(f domainRenewal.Filter) domainRenewal.QuerySpec {
	var q domainRenewal.QuerySpec
	add := func(field domainRenewal.Field, op domainRenewal.Op, v interface{}) {
		q.Conditions = append(q.Conditions, domainRenewal.Condition{Field: field, Op: op, Value: v})
	}

	step, hasStep := f.Step()
	invoice, hasInvoice := f.InvoiceStep()

	explicitStage := (hasStep && step != domainRenewal.StepOpen) ||
		(hasInvoice && invoice != domainRenewal.InvoiceNone)
	if !explicitStage {
		add(domainRenewal.FieldMatterDead, domainRenewal.OpEq, false)
	}
	if !hasStep && !hasInvoice {
		add(domainRenewal.FieldDone, domainRenewal.OpEq, false)
	}
	if hasStep {
		add(domainRenewal.FieldStep, domainRenewal.OpEq, int(step))
	}
	if hasInvoice {
		add(domainRenewal.FieldInvoiceStep, domainRenewal.OpEq, int(invoice))
	}

	if v := strings.TrimSpace(f.Caseref()); v != "" {
		add(domainRenewal.FieldCaseref, domainRenewal.OpPrefix, v)
	}
	if v := strings.TrimSpace(f.Client()); v != "" {
		add(domainRenewal.FieldClientName, domainRenewal.OpPrefix, v)
	}
	if v := strings.TrimSpace(f.Country()); v != "" {
		add(domainRenewal.FieldCountry, domainRenewal.OpPrefix, strings.ToUpper(v))
	}
	if v := strings.TrimSpace(f.Title()); v != "" {
		add(domainRenewal.FieldTitle, domainRenewal.OpContains, v)
	}
	if from := f.DueFrom(); from != nil {
		add(domainRenewal.FieldDueDate, domainRenewal.OpGte, *from)
	}
	if to := f.DueTo(); to != nil {
		add(domainRenewal.FieldDueDate, domainRenewal.OpLte, *to)
	}
	if v := strings.TrimSpace(f.AssignedTo()); v != "" {
		add(domainRenewal.FieldAssignedTo, domainRenewal.OpEq, v)
	}

	desc := (hasStep && step == domainRenewal.StepClosed) ||
		(hasInvoice && invoice == domainRenewal.InvoicePaid)
	q.Sort = []domainRenewal.SortKey{
		{Field: domainRenewal.FieldDueDate, Desc: desc},
		{Field: domainRenewal.FieldTaskID, Desc: desc},
	}

	page := f.Pagination()
	q.Limit = page.PageSize
	q.Offset = page.Offset()
	return q
}
