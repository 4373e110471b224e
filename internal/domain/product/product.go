package product

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID    int64
	Name  string
	Price decimal.Decimal
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	// GetByIDs returns the products matching any of the given ids, in no
	// particular order. Unknown ids are simply absent from the result.
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
}

// Subtotal sums the unit prices of products. Every element counts, so a
// product listed twice is charged twice.
func Subtotal(products []Product) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range products {
		sum = sum.Add(p.Price)
	}
	return sum
}
