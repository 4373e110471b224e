package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Priced is the outcome of pricing a list of product ids.
type Priced struct {
	// Products holds one entry per requested id, in request order.
	Products []Product
	Subtotal decimal.Decimal
}

// Pricer resolves product ids to priced line items.
type Pricer struct {
	repo Repository
}

// NewPricer creates a Pricer backed by the given catalog.
func NewPricer(repo Repository) *Pricer {
	return &Pricer{repo: repo}
}

// Price fetches every distinct id in a single batch and expands the result
// back to the requested sequence. A single unknown id fails the whole call
// with *ProductNotFoundError.
func (p *Pricer) Price(ctx context.Context, ids []int64) (Priced, error) {
	fetched, err := p.repo.GetByIDs(ctx, lo.Uniq(ids))
	if err != nil {
		return Priced{}, errors.Wrap(err, "get products")
	}

	byID := lo.KeyBy(fetched, func(p Product) int64 { return p.ID })

	products := make([]Product, 0, len(ids))
	for _, id := range ids {
		found, ok := byID[id]
		if !ok {
			return Priced{}, &ProductNotFoundError{ProductID: id}
		}
		products = append(products, found)
	}

	return Priced{
		Products: products,
		Subtotal: Subtotal(products),
	}, nil
}
