package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	appErrors "github.com/turtacn/keyip-renewals/pkg/errors"
)

// ClientRepository reads client actors from the actors table.
type ClientRepository struct {
	pool   *pgxpool.Pool
	logger Logger
}

// NewClientRepository constructs a ready-to-use ClientRepository.
func NewClientRepository(pool *pgxpool.Pool, logger Logger) *ClientRepository {
	return &ClientRepository{pool: pool, logger: logger}
}

var _ domainRenewal.ClientRepository = (*ClientRepository)(nil)

func (r *ClientRepository) Find(ctx context.Context, id int64) (*domainRenewal.Client, error) {
	var c domainRenewal.Client
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, sme, discount, vat_rate, email, locale, invoicing_address
		FROM actors WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.SME, &c.Discount, &c.VATRate, &c.Email, &c.Locale, &c.InvoicingAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.Newf(appErrors.CodeClientNotFound, "client %d not found", id)
		}
		r.logger.Error("ClientRepository.Find", "client_id", id, "error", err)
		return nil, appErrors.Wrap(err, appErrors.CodeDBQueryError, "failed to load client")
	}
	return &c, nil
}

func (r *ClientRepository) GetDiscount(ctx context.Context, id int64) (decimal.NullDecimal, error) {
	c, err := r.Find(ctx, id)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return c.Discount, nil
}

func (r *ClientRepository) GetVATRate(ctx context.Context, id int64) (decimal.NullDecimal, error) {
	c, err := r.Find(ctx, id)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return c.VATRate, nil
}

func (r *ClientRepository) GetInvoicingAddress(ctx context.Context, id int64) (string, error) {
	c, err := r.Find(ctx, id)
	if err != nil {
		return "", err
	}
	return c.InvoicingAddress, nil
}
