package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/order-placement/internal/domain/promo"
)

const (
	getPromoByCodeSQL = `SELECT code, discount, expires_at
		FROM promo_codes WHERE UPPER(code) = UPPER($1)`

	upsertPromoSQL = `INSERT INTO promo_codes (code, discount, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET discount = EXCLUDED.discount, expires_at = EXCLUDED.expires_at`
)

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	db DB
}

// NewPromoRepository returns a PromoRepository that queries db.
func NewPromoRepository(db DB) *PromoRepository {
	return &PromoRepository{db: db}
}

// FindByCode looks up a promo code case-insensitively, expired or not.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (promo.PromoCode, bool, error) {
	rows, err := r.db.Query(ctx, getPromoByCodeSQL, code)
	if err != nil {
		return promo.PromoCode{}, false, fmt.Errorf("finding promo code %q: %w", code, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.PromoCode{}, false, nil
		}
		return promo.PromoCode{}, false, fmt.Errorf("finding promo code %q: %w", code, err)
	}
	return p, true, nil
}

// Upsert inserts or replaces a promo code.
func (r *PromoRepository) Upsert(ctx context.Context, p promo.PromoCode) error {
	if _, err := r.db.Exec(ctx, upsertPromoSQL, p.Code, p.Discount, p.ExpiresAt); err != nil {
		return fmt.Errorf("upserting promo code %q: %w", p.Code, err)
	}
	return nil
}

func scanPromo(row pgx.CollectableRow) (promo.PromoCode, error) {
	var p promo.PromoCode
	err := row.Scan(&p.Code, &p.Discount, &p.ExpiresAt)
	return p, err
}
