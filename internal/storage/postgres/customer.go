package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/order-placement/internal/domain/customer"
)

const (
	getCustomerByIDSQL = `SELECT id, name, email FROM customers WHERE id = $1`

	upsertCustomerSQL = `INSERT INTO customers (id, name, email) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	db DB
}

// NewCustomerRepository returns a CustomerRepository that queries db.
func NewCustomerRepository(db DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// FindByID looks up a customer by id. A missing row is reported through the
// boolean, not as an error.
func (r *CustomerRepository) FindByID(ctx context.Context, id string) (customer.Customer, bool, error) {
	var c customer.Customer
	err := r.db.QueryRow(ctx, getCustomerByIDSQL, id).Scan(&c.ID, &c.Name, &c.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return customer.Customer{}, false, nil
		}
		return customer.Customer{}, false, fmt.Errorf("finding customer %q: %w", id, err)
	}
	return c, true, nil
}

// Upsert inserts or replaces a customer.
func (r *CustomerRepository) Upsert(ctx context.Context, c customer.Customer) error {
	if _, err := r.db.Exec(ctx, upsertCustomerSQL, c.ID, c.Name, c.Email); err != nil {
		return fmt.Errorf("upserting customer %q: %w", c.ID, err)
	}
	return nil
}
