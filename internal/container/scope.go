package container

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/order-placement/internal/domain/customer"
	"github.com/xenking/order-placement/internal/domain/delivery"
	"github.com/xenking/order-placement/internal/domain/order"
	"github.com/xenking/order-placement/internal/domain/product"
	"github.com/xenking/order-placement/internal/domain/promo"
	"github.com/xenking/order-placement/internal/storage/postgres"
)

// ErrScopeClosed is returned when a closed scope is asked for its connection.
var ErrScopeClosed = errors.New("scope is closed")

// Scope is the lifetime of one inbound request. It owns at most one
// connection, acquired the first time anything resolved from the scope talks
// to the data store. A Scope must not outlive its request nor be shared with
// another one.
//
// The connection runs one query at a time. Resolving several repositories is
// fine; querying through them from parallel goroutines is not.
type Scope struct {
	c *Container

	mu     sync.Mutex
	conn   Conn
	closed bool
}

// Conn returns the scope's connection, acquiring it on the first call.
func (s *Scope) Conn(ctx context.Context) (postgres.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeClosed
	}
	if s.conn == nil {
		conn, err := s.c.connector.Acquire(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "acquire connection")
		}
		s.conn = conn
	}
	return s.conn, nil
}

// Close releases the connection, if one was acquired. It is safe to call
// more than once; only the first call releases.
func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
}

// DB returns a handle that acquires the scope's connection on its first
// query.
func (s *Scope) DB() postgres.DB {
	return scopeDB{s: s}
}

// Customers resolves a new customer repository.
func (s *Scope) Customers() customer.Repository {
	return s.c.customers(s.DB())
}

// Products resolves a new product pricer.
func (s *Scope) Products() *product.Pricer {
	return product.NewPricer(s.c.products(s.DB()))
}

// Promos resolves a new promo code repository.
func (s *Scope) Promos() promo.Repository {
	return s.c.promos(s.DB())
}

// Orders resolves a new order repository.
func (s *Scope) Orders() order.Repository {
	return s.c.orders(s.DB())
}

// DeliveryFees resolves a new delivery fee resolver over the shared rate
// provider.
func (s *Scope) DeliveryFees() *delivery.FeeResolver {
	return delivery.NewFeeResolver(s.c.rates)
}

// OrderService resolves a new order service wired to fresh collaborators.
func (s *Scope) OrderService() *order.Service {
	c := s.c
	opts := []order.Option{
		order.WithClock(c.now),
		order.WithRepository(s.Orders()),
		order.WithTracerProvider(c.tracerProvider),
		order.WithMetrics(c.metrics),
	}
	if c.events != nil {
		opts = append(opts, order.WithPublisher(c.events))
	}
	return order.NewService(
		s.Customers(),
		s.Products(),
		s.DeliveryFees(),
		s.Promos(),
		opts...,
	)
}

// scopeDB defers connection acquisition to the first query.
type scopeDB struct {
	s *Scope
}

func (d scopeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	conn, err := d.s.Conn(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return conn.Exec(ctx, sql, args...)
}

func (d scopeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	conn, err := d.s.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn.Query(ctx, sql, args...)
}

func (d scopeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	conn, err := d.s.Conn(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return conn.QueryRow(ctx, sql, args...)
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error { return r.err }
