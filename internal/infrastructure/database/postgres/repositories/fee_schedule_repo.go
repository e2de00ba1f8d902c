package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	appErrors "github.com/turtacn/keyip-renewals/pkg/errors"
)

// FeeScheduleRepository resolves rows of the fees table.
type FeeScheduleRepository struct {
	pool   *pgxpool.Pool
	logger Logger
}

// NewFeeScheduleRepository constructs a ready-to-use FeeScheduleRepository.
func NewFeeScheduleRepository(pool *pgxpool.Pool, logger Logger) *FeeScheduleRepository {
	return &FeeScheduleRepository{pool: pool, logger: logger}
}

var _ domainRenewal.FeeScheduleRepository = (*FeeScheduleRepository)(nil)

// Lookup picks the row matching category, country and quantity that is valid
// at q.AsOf. A row for the exact origin wins over a row without origin, and
// among those the most recently started validity window wins. (nil, nil)
// means no row applies.
func (r *FeeScheduleRepository) Lookup(ctx context.Context, q domainRenewal.FeeQuery) (*domainRenewal.FeeRule, error) {
	var f domainRenewal.FeeRule
	err := r.pool.QueryRow(ctx, `
		SELECT id, category, country, origin, qt, use_after, use_before,
		       cost, fee, cost_sme, fee_sme
		FROM fees
		WHERE category = $1 AND country = $2 AND qt = $3
		  AND (origin = $4 OR origin = '')
		  AND (use_after IS NULL OR use_after <= $5)
		  AND (use_before IS NULL OR use_before > $5)
		ORDER BY (origin = $4) DESC, use_after DESC NULLS LAST, id DESC
		LIMIT 1`,
		q.Category, q.Country, q.Qt, q.Origin, q.AsOf,
	).Scan(&f.ID, &f.Category, &f.Country, &f.Origin, &f.Qt, &f.UseAfter, &f.UseBefore,
		&f.Cost, &f.Fee, &f.CostSME, &f.FeeSME)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("FeeScheduleRepository.Lookup", "category", q.Category, "country", q.Country, "qt", q.Qt, "error", err)
		return nil, appErrors.Wrap(err, appErrors.ErrCodeFeeScheduleError, "fee schedule lookup failed")
	}
	return &f, nil
}
