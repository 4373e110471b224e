package promo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PromoCode maps a coupon code to a fixed discount that is honoured until
// ExpiresAt.
type PromoCode struct {
	Code      string
	Discount  decimal.Decimal
	ExpiresAt time.Time
}

// Applicable reports whether the code may still be redeemed at now. A code
// stops being applicable at the exact expiration instant.
func (p PromoCode) Applicable(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

// DiscountAt returns the discount the code grants at now: its stored value
// while applicable, zero afterwards. An expired code is inert, not invalid.
func (p PromoCode) DiscountAt(now time.Time) decimal.Decimal {
	if !p.Applicable(now) {
		return decimal.Zero
	}
	return p.Discount
}

// Repository fetches promo codes. It performs no validity checks; deciding
// whether a code still applies is up to the caller.
type Repository interface {
	// FindByCode looks a code up case-insensitively. The boolean is false
	// when no such code exists.
	FindByCode(ctx context.Context, code string) (PromoCode, bool, error)
}
