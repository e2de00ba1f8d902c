package renewal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

func TestNewFilter_Defaults(t *testing.T) {
	f := NewFilter()

	_, ok := f.Step()
	assert.False(t, ok)
	_, ok = f.InvoiceStep()
	assert.False(t, ok)
	assert.Equal(t, 1, f.Pagination().Page)
	assert.Equal(t, commontypes.DefaultPageSize, f.Pagination().PageSize)
}

func TestNewFilter_IsDetachedFromCallerValues(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFilter(WithDueRange(&from, nil), WithStep(StepClosed), WithPage(2, 50))

	from = from.AddDate(5, 0, 0)
	assert.Equal(t, 2024, f.DueFrom().Year())

	got := f.DueFrom()
	*got = got.AddDate(1, 0, 0)
	assert.Equal(t, 2024, f.DueFrom().Year())

	s, ok := f.Step()
	assert.True(t, ok)
	assert.Equal(t, StepClosed, s)
	assert.Equal(t, 50, f.Pagination().PageSize)
	assert.Nil(t, f.DueTo())
}

func TestQuerySpec_Find(t *testing.T) {
	q := QuerySpec{Conditions: []Condition{{Field: FieldDone, Op: OpEq, Value: false}}}
	assert.True(t, q.Has(FieldDone))
	assert.False(t, q.Has(FieldStep))

	c, ok := q.Find(FieldDone)
	assert.True(t, ok)
	assert.Equal(t, false, c.Value)
}
