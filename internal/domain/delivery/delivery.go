// Package delivery resolves shipping fees for a destination postal code.
package delivery

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var minimumFee = decimal.NewFromInt(5)

// MinimumFee is the lowest delivery fee ever charged. Quotes below it are
// raised to it regardless of what the rate provider claims to enforce.
func MinimumFee() decimal.Decimal { return minimumFee }

// RateProvider computes a raw delivery rate for a postal code. It is an
// external collaborator; transport and protocol belong to the implementation.
type RateProvider interface {
	Rate(ctx context.Context, postalCode string) (decimal.Decimal, error)
}

// FeeResolver turns provider quotes into chargeable fees.
type FeeResolver struct {
	rates RateProvider
}

// NewFeeResolver creates a FeeResolver that quotes through rates.
func NewFeeResolver(rates RateProvider) *FeeResolver {
	return &FeeResolver{rates: rates}
}

// Fee asks the provider once and clamps the quote up to MinimumFee.
func (r *FeeResolver) Fee(ctx context.Context, postalCode string) (decimal.Decimal, error) {
	rate, err := r.rates.Rate(ctx, postalCode)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "rate for postal code %q", postalCode)
	}
	if rate.LessThan(minimumFee) {
		return minimumFee, nil
	}
	return rate, nil
}
