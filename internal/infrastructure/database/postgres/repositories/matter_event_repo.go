package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	appErrors "github.com/turtacn/keyip-renewals/pkg/errors"
)

// MatterEventRepository appends matter events. Replayed events (same id) are
// ignored, so the consumer can redeliver safely.
type MatterEventRepository struct {
	pool   *pgxpool.Pool
	logger Logger
}

// NewMatterEventRepository constructs a ready-to-use MatterEventRepository.
func NewMatterEventRepository(pool *pgxpool.Pool, logger Logger) *MatterEventRepository {
	return &MatterEventRepository{pool: pool, logger: logger}
}

var _ domainRenewal.MatterEventStore = (*MatterEventRepository)(nil)

func (r *MatterEventRepository) Append(ctx context.Context, events ...domainRenewal.MatterEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			return appErrors.NewValidationError("id", fmt.Sprintf("matter event id %q is not a UUID", e.ID))
		}
		batch.Queue(`
			INSERT INTO matter_events (id, matter_id, code, task_id, batch_id, actor, created_at)
			VALUES ($1, $2, $3, NULLIF($4::bigint, 0), NULLIF($5::bigint, 0), $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			id, e.MatterID, e.Code, e.TaskID, e.BatchID, e.Actor, e.OccurredAt)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		r.logger.Error("MatterEventRepository.Append", "count", len(events), "error", err)
		return appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to append matter events")
	}
	r.logger.Debug("MatterEventRepository.Append", "count", len(events))
	return nil
}

// ListByMatter returns the events of one matter, oldest first.
func (r *MatterEventRepository) ListByMatter(ctx context.Context, matterID int64) ([]domainRenewal.MatterEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, matter_id, code, COALESCE(task_id, 0), COALESCE(batch_id, 0), actor, created_at
		FROM matter_events WHERE matter_id = $1 ORDER BY created_at, id`, matterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to list matter events")
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domainRenewal.MatterEvent, error) {
		var e domainRenewal.MatterEvent
		err := row.Scan(&e.ID, &e.MatterID, &e.Code, &e.TaskID, &e.BatchID, &e.Actor, &e.OccurredAt)
		return e, err
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to scan matter events")
	}
	return events, nil
}
