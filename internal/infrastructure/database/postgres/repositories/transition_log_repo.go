package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	appErrors "github.com/turtacn/keyip-renewals/pkg/errors"
)

// TransitionLogRepository reads the append-only renewal_transition_logs
// table. Rows are written by TaskRepository.ApplyBatch only.
type TransitionLogRepository struct {
	pool   *pgxpool.Pool
	logger Logger
}

// NewTransitionLogRepository constructs a ready-to-use TransitionLogRepository.
func NewTransitionLogRepository(pool *pgxpool.Pool, logger Logger) *TransitionLogRepository {
	return &TransitionLogRepository{pool: pool, logger: logger}
}

var _ domainRenewal.TransitionLogReader = (*TransitionLogRepository)(nil)

const transitionLogSelect = `
	SELECT id, task_id, batch_id, axis, from_value, to_value, actor, created_at
	FROM renewal_transition_logs`

func (r *TransitionLogRepository) ListByBatch(ctx context.Context, batchID int64) ([]domainRenewal.TransitionLogEntry, error) {
	return r.list(ctx, transitionLogSelect+` WHERE batch_id = $1 ORDER BY task_id, id`, batchID)
}

func (r *TransitionLogRepository) ListByTask(ctx context.Context, taskID int64) ([]domainRenewal.TransitionLogEntry, error) {
	return r.list(ctx, transitionLogSelect+` WHERE task_id = $1 ORDER BY created_at, id`, taskID)
}

func (r *TransitionLogRepository) list(ctx context.Context, sql string, arg int64) ([]domainRenewal.TransitionLogEntry, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		r.logger.Error("TransitionLogRepository.list", "error", err)
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to list transitions")
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domainRenewal.TransitionLogEntry, error) {
		var (
			e    domainRenewal.TransitionLogEntry
			axis string
		)
		err := row.Scan(&e.ID, &e.TaskID, &e.BatchID, &axis, &e.From, &e.To, &e.Actor, &e.Timestamp)
		e.Axis = domainRenewal.Axis(axis)
		return e, err
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to scan transitions")
	}
	return entries, nil
}
