package renewal

import (
	"time"

	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

// Filter holds the parameters of a pipeline query. It is built once with
// NewFilter and has no setters.
type Filter struct {
	step        *Step
	invoiceStep *InvoiceStep
	dueFrom     *time.Time
	dueTo       *time.Time
	caseref     string
	client      string
	country     string
	title       string
	assignedTo  string
	page        commontypes.Pagination
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithStep restricts the view to one pipeline stage.
func WithStep(s Step) FilterOption {
	return func(f *Filter) { f.step = &s }
}

// WithInvoiceStep restricts the view to one invoice stage.
func WithInvoiceStep(s InvoiceStep) FilterOption {
	return func(f *Filter) { f.invoiceStep = &s }
}

// WithDueRange restricts due dates to [from, to]; either bound may be nil.
func WithDueRange(from, to *time.Time) FilterOption {
	return func(f *Filter) {
		f.dueFrom = copyTime(from)
		f.dueTo = copyTime(to)
	}
}

// WithCaseref matches case references starting with prefix.
func WithCaseref(prefix string) FilterOption {
	return func(f *Filter) { f.caseref = prefix }
}

// WithClient matches client names starting with prefix.
func WithClient(prefix string) FilterOption {
	return func(f *Filter) { f.client = prefix }
}

// WithCountry matches country codes starting with prefix.
func WithCountry(prefix string) FilterOption {
	return func(f *Filter) { f.country = prefix }
}

// WithTitle matches titles containing the given text.
func WithTitle(text string) FilterOption {
	return func(f *Filter) { f.title = text }
}

// WithAssignedTo limits the view to renewals assigned to login ("my
// renewals"). An empty login is ignored.
func WithAssignedTo(login string) FilterOption {
	return func(f *Filter) { f.assignedTo = login }
}

// WithPage sets the page number and size.
func WithPage(page, size int) FilterOption {
	return func(f *Filter) { f.page = commontypes.Pagination{Page: page, PageSize: size} }
}

// NewFilter builds an immutable Filter.
func NewFilter(opts ...FilterOption) Filter {
	var f Filter
	for _, opt := range opts {
		opt(&f)
	}
	f.page = f.page.Normalize()
	return f
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Step returns the stage filter and whether it is set.
func (f Filter) Step() (Step, bool) {
	if f.step == nil {
		return 0, false
	}
	return *f.step, true
}

// InvoiceStep returns the invoice stage filter and whether it is set.
func (f Filter) InvoiceStep() (InvoiceStep, bool) {
	if f.invoiceStep == nil {
		return 0, false
	}
	return *f.invoiceStep, true
}

func (f Filter) DueFrom() *time.Time                { return copyTime(f.dueFrom) }
func (f Filter) DueTo() *time.Time                  { return copyTime(f.dueTo) }
func (f Filter) Caseref() string                    { return f.caseref }
func (f Filter) Client() string                     { return f.client }
func (f Filter) Country() string                    { return f.country }
func (f Filter) Title() string                      { return f.title }
func (f Filter) AssignedTo() string                 { return f.assignedTo }
func (f Filter) Pagination() commontypes.Pagination { return f.page }

// Field identifies a filterable or sortable column of the pipeline view.
type Field string

const (
	FieldTaskID      Field = "task.id"
	FieldDone        Field = "task.done"
	FieldStep        Field = "task.step"
	FieldInvoiceStep Field = "task.invoice_step"
	FieldDueDate     Field = "task.due_date"
	FieldAssignedTo  Field = "task.assigned_to"
	FieldMatterDead  Field = "matter.dead"
	FieldCaseref     Field = "matter.caseref"
	FieldCountry     Field = "matter.country"
	FieldTitle       Field = "matter.title"
	FieldClientName  Field = "client.name"
)

// Op is a predicate operator.
type Op string

const (
	OpEq       Op = "eq"
	OpPrefix   Op = "prefix"
	OpContains Op = "contains"
	OpGte      Op = "gte"
	OpLte      Op = "lte"
)

// Condition is one predicate of a query.
type Condition struct {
	Field Field
	Op    Op
	Value interface{}
}

// SortKey orders the result set.
type SortKey struct {
	Field Field
	Desc  bool
}

// QuerySpec is the storage-agnostic description of a pipeline query. All
// conditions are combined with AND.
type QuerySpec struct {
	Conditions []Condition
	Sort       []SortKey
	Limit      int
	Offset     int
}

// Has reports whether the spec carries a condition on field.
func (q QuerySpec) Has(field Field) bool {
	for _, c := range q.Conditions {
		if c.Field == field {
			return true
		}
	}
	return false
}

// Find returns the first condition on field.
func (q QuerySpec) Find(field Field) (Condition, bool) {
	for _, c := range q.Conditions {
		if c.Field == field {
			return c, true
		}
	}
	return Condition{}, false
}
