package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-placement/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, price FROM products WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (id, name, price) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db DB
}

// NewProductRepository returns a ProductRepository that queries db.
func NewProductRepository(db DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := r.db.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return products, nil
}

// Upsert inserts or replaces a catalog entry.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	if _, err := r.db.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price); err != nil {
		return fmt.Errorf("upserting product %d: %w", p.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Name, &price)
	p.Price = price
	return p, err
}
