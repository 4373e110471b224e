// Package container wires the order placement collaborators and owns their
// lifetimes.
//
// Three lifetimes are supported:
//   - Singleton: Settings, the connection pool, the rate provider, the event
//     publisher and the telemetry instruments. Built once by New and shared by
//     all requests; all of them are safe for concurrent use.
//   - Scoped: the data-store connection. One per Scope, acquired on first use
//     and released by Scope.Close.
//   - Transient: repositories, the product pricer, the delivery fee resolver and
//     the order service. A fresh instance on every resolution, bound to the
//     scope's connection.
package container

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/order-placement/internal/domain/customer"
	"github.com/xenking/order-placement/internal/domain/delivery"
	"github.com/xenking/order-placement/internal/domain/order"
	"github.com/xenking/order-placement/internal/domain/product"
	"github.com/xenking/order-placement/internal/domain/promo"
	"github.com/xenking/order-placement/internal/storage/postgres"
)

// Errors reported by New when the container cannot be built.
var (
	ErrNoSettings         = errors.New("container settings are required")
	ErrNoConnectionString = errors.New("database URL is required")
	ErrNoRateProvider     = errors.New("delivery rate provider is required")
)

// Settings is the process-wide configuration the container is built from.
// It is copied by New and never changes afterwards.
type Settings struct {
	DatabaseURL string
}

// Conn is a data-store connection checked out for one scope.
type Conn interface {
	postgres.DB
	Release()
}

// Connector hands out connections to scopes.
type Connector interface {
	Acquire(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error
	Close()
}

// PoolConnector adapts a pgx pool to Connector.
type PoolConnector struct {
	Pool *pgxpool.Pool
}

func (p PoolConnector) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (p PoolConnector) Ping(ctx context.Context) error { return p.Pool.Ping(ctx) }

func (p PoolConnector) Close() { p.Pool.Close() }

// Container builds request scopes and holds the singletons they share.
type Container struct {
	settings  Settings
	connector Connector
	rates     delivery.RateProvider
	events    order.Publisher

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metrics        *order.Metrics
	now            func() time.Time

	customers func(db postgres.DB) customer.Repository
	products  func(db postgres.DB) product.Repository
	promos    func(db postgres.DB) promo.Repository
	orders    func(db postgres.DB) order.Repository
}

// Option customises a Container.
type Option func(c *Container)

// WithConnector replaces the pgx pool built from Settings.DatabaseURL.
func WithConnector(conn Connector) Option {
	return func(c *Container) { c.connector = conn }
}

// WithRateProvider sets the external delivery rate provider. Required.
func WithRateProvider(rates delivery.RateProvider) Option {
	return func(c *Container) { c.rates = rates }
}

// WithPublisher announces placed orders through events.
func WithPublisher(events order.Publisher) Option {
	return func(c *Container) { c.events = events }
}

// WithTelemetry enables spans and counters on the order service.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(c *Container) {
		c.tracerProvider = tp
		c.meterProvider = mp
	}
}

// WithClock overrides the clock handed to order services.
func WithClock(now func() time.Time) Option {
	return func(c *Container) { c.now = now }
}

// WithCustomerStore overrides the customer repository constructor.
func WithCustomerStore(fn func(db postgres.DB) customer.Repository) Option {
	return func(c *Container) { c.customers = fn }
}

// WithProductStore overrides the product repository constructor.
func WithProductStore(fn func(db postgres.DB) product.Repository) Option {
	return func(c *Container) { c.products = fn }
}

// WithPromoStore overrides the promo code repository constructor.
func WithPromoStore(fn func(db postgres.DB) promo.Repository) Option {
	return func(c *Container) { c.promos = fn }
}

// WithOrderStore overrides the order repository constructor.
func WithOrderStore(fn func(db postgres.DB) order.Repository) Option {
	return func(c *Container) { c.orders = fn }
}

// New validates settings and builds the singletons. Every misconfiguration
// is reported here, before the first request can reach a scope.
func New(ctx context.Context, settings *Settings, opts ...Option) (*Container, error) {
	if settings == nil {
		return nil, ErrNoSettings
	}

	c := &Container{
		settings:       *settings,
		tracerProvider: noop.NewTracerProvider(),
		now:            time.Now,
		customers: func(db postgres.DB) customer.Repository {
			return postgres.NewCustomerRepository(db)
		},
		products: func(db postgres.DB) product.Repository {
			return postgres.NewProductRepository(db)
		},
		promos: func(db postgres.DB) promo.Repository {
			return postgres.NewPromoRepository(db)
		},
		orders: func(db postgres.DB) order.Repository {
			return postgres.NewOrderRepository(db)
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.rates == nil {
		return nil, ErrNoRateProvider
	}

	if c.meterProvider != nil {
		m, err := order.NewMetrics(c.meterProvider)
		if err != nil {
			return nil, errors.Wrap(err, "order metrics")
		}
		c.metrics = m
	}

	if c.connector == nil {
		if c.settings.DatabaseURL == "" {
			return nil, ErrNoConnectionString
		}
		pool, err := postgres.NewPool(ctx, c.settings.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		c.connector = PoolConnector{Pool: pool}
	}

	return c, nil
}

// Settings returns a copy of the settings the container was built with.
func (c *Container) Settings() Settings {
	return c.settings
}

// NewScope opens a request scope. The caller must Close it.
func (c *Container) NewScope() *Scope {
	return &Scope{c: c}
}

// Ping checks that the data store is reachable.
func (c *Container) Ping(ctx context.Context) error {
	return c.connector.Ping(ctx)
}

// Close shuts the connection pool down. Open scopes must be closed first.
func (c *Container) Close() {
	c.connector.Close()
}
