package renewal

import (
	"context"
	"io"

	"github.com/shopspring/decimal"
)

// TaskRepository is the persistence contract for renewal tasks. Every read
// that returns tasks loads the owning matter and client in the same pass.
type TaskRepository interface {
	FindByID(ctx context.Context, id int64) (*Task, error)
	// FindByIDs returns the tasks that exist among ids; unknown ids are
	// silently absent from the result.
	FindByIDs(ctx context.Context, ids []int64) ([]*Task, error)
	Paginate(ctx context.Context, spec QuerySpec) ([]*Task, int, error)
	// ApplyBatch writes every change and log entry of batch atomically and
	// returns the number of task rows updated.
	ApplyBatch(ctx context.Context, batch *TransitionBatch) (int, error)
	GetGroupedByClient(ctx context.Context, ids []int64) (map[int64][]*Task, error)
	// CountByStep and CountByInvoiceStep count the tasks of the default
	// pipeline view: not done, matter not dead.
	CountByStep(ctx context.Context) (map[Step]int, error)
	CountByInvoiceStep(ctx context.Context) (map[InvoiceStep]int, error)
}

// TransitionLogReader exposes the append-only transition log.
type TransitionLogReader interface {
	ListByBatch(ctx context.Context, batchID int64) ([]TransitionLogEntry, error)
	ListByTask(ctx context.Context, taskID int64) ([]TransitionLogEntry, error)
}

// ClientRepository reads client actors.
type ClientRepository interface {
	Find(ctx context.Context, id int64) (*Client, error)
	GetDiscount(ctx context.Context, id int64) (decimal.NullDecimal, error)
	GetVATRate(ctx context.Context, id int64) (decimal.NullDecimal, error)
	GetInvoicingAddress(ctx context.Context, id int64) (string, error)
}

// FeeScheduleRepository resolves fee-schedule rows. Lookup returns
// (nil, nil) when no row applies.
type FeeScheduleRepository interface {
	Lookup(ctx context.Context, q FeeQuery) (*FeeRule, error)
}

// BatchIDGenerator hands out unique transition batch ids.
type BatchIDGenerator interface {
	NextBatchID(ctx context.Context) (int64, error)
}

// EventSink accepts domain events scoped to a matter.
type EventSink interface {
	Publish(ctx context.Context, events ...MatterEvent) error
}

// MatterEventStore persists matter events (the consumer side of EventSink).
type MatterEventStore interface {
	Append(ctx context.Context, events ...MatterEvent) error
}

// NotificationSender delivers one rendered message to its recipient.
type NotificationSender interface {
	Send(ctx context.Context, msg *Message) error
}

// ExportArchive stores generated export files and returns a retrievable URL.
type ExportArchive interface {
	Store(ctx context.Context, name, contentType string, body io.Reader, size int64) (string, error)
}
