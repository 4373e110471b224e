package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-placement/internal/domain/order"
	"github.com/xenking/order-placement/internal/domain/product"
)

const (
	createOrderSQL = `INSERT INTO orders
		(code, customer_id, postal_code, promo_code, delivery_fee, discount, products, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	uniqueViolation = "23505"
	ordersPKey      = "orders_pkey"

	getOrderByCodeSQL = `SELECT code, customer_id, postal_code, promo_code, delivery_fee, discount, products, created_at
		FROM orders WHERE code = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items are frozen into a JSONB column; the total is never stored and is
// re-derived from the components on read.
type OrderRepository struct {
	db DB
}

// NewOrderRepository returns an OrderRepository that queries db.
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order. A taken code yields order.ErrDuplicateCode.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.db.Exec(ctx, createOrderSQL,
		o.Code(), o.CustomerID(), o.PostalCode(), o.PromoCode(),
		o.DeliveryFee(), o.Discount(), encodeProducts(o.Products()), o.CreatedAt(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == ordersPKey {
			return fmt.Errorf("creating order %q: %w", o.Code(), order.ErrDuplicateCode)
		}
		return fmt.Errorf("creating order %q: %w", o.Code(), err)
	}
	return nil
}

// FindByCode loads a persisted order.
func (r *OrderRepository) FindByCode(ctx context.Context, code string) (*order.Order, bool, error) {
	var (
		p        order.Params
		products []byte
	)
	err := r.db.QueryRow(ctx, getOrderByCodeSQL, code).Scan(
		&p.Code, &p.CustomerID, &p.PostalCode, &p.PromoCode,
		&p.DeliveryFee, &p.Discount, &products, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("finding order %q: %w", code, err)
	}

	p.Products, err = decodeProducts(products)
	if err != nil {
		return nil, false, fmt.Errorf("decoding products of order %q: %w", code, err)
	}
	p.CreatedAt = p.CreatedAt.In(time.UTC)

	return order.New(p), true, nil
}

func encodeProducts(products []product.Product) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, p := range products {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(p.ID)
		e.FieldStart("name")
		e.Str(p.Name)
		e.FieldStart("price")
		e.Str(p.Price.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeProducts(data []byte) ([]product.Product, error) {
	var products []product.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var p product.Product
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				v, err := d.Int64()
				p.ID = v
				return err
			case "name":
				v, err := d.Str()
				p.Name = v
				return err
			case "price":
				v, err := d.Str()
				if err != nil {
					return err
				}
				p.Price, err = decimal.NewFromString(v)
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}
