package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	appErrors "github.com/turtacn/keyip-renewals/pkg/errors"
)

// BatchSequence hands out transition batch ids from the renewal_batch_seq
// sequence.
type BatchSequence struct {
	pool *pgxpool.Pool
}

// NewBatchSequence constructs a BatchSequence.
func NewBatchSequence(pool *pgxpool.Pool) *BatchSequence {
	return &BatchSequence{pool: pool}
}

func (s *BatchSequence) NextBatchID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, "SELECT nextval('renewal_batch_seq')").Scan(&id); err != nil {
		return 0, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to allocate batch id")
	}
	return id, nil
}
