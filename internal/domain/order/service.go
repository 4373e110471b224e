package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/order-placement/internal/domain/customer"
	"github.com/xenking/order-placement/internal/domain/product"
	"github.com/xenking/order-placement/internal/domain/promo"
)

// Sentinel errors for order placement.
var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrNoProducts       = errors.New("product ids required")
	// ErrDuplicateCode is returned by a Repository when the order code is
	// already taken.
	ErrDuplicateCode    = errors.New("order code already taken")
)

// maxCodeAttempts bounds how many fresh codes Create is tried with.
const maxCodeAttempts = 3

// CustomerNotFoundError indicates the ordering customer does not exist. It
// matches ErrCustomerNotFound with errors.Is.
type CustomerNotFoundError struct {
	CustomerID string
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("customer %s not found", e.CustomerID)
}

func (e *CustomerNotFoundError) Is(target error) bool {
	return target == ErrCustomerNotFound
}

// Pricer resolves product ids to priced line items.
type Pricer interface {
	Price(ctx context.Context, ids []int64) (product.Priced, error)
}

// FeeResolver resolves the delivery fee for a postal code.
type FeeResolver interface {
	Fee(ctx context.Context, postalCode string) (decimal.Decimal, error)
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	CustomerID string
	PostalCode string
	// PromoCode is optional; empty means no code was supplied.
	PromoCode string
	// ProductIDs may repeat ids; order is preserved on the resulting order.
	ProductIDs []int64
}

// Service encapsulates order placement business logic.
type Service struct {
	customers customer.Repository
	pricer    Pricer
	fees      FeeResolver
	promos    promo.Repository

	orders  Repository
	events  Publisher
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newCode func() string
}

// Option configures optional Service collaborators.
type Option func(s *Service)

// WithClock overrides the clock used for promo expiry and order timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator overrides the order code generator.
func WithCodeGenerator(fn func() string) Option {
	return func(s *Service) { s.newCode = fn }
}

// WithRepository persists every placed order before it is returned.
func WithRepository(orders Repository) Option {
	return func(s *Service) { s.orders = orders }
}

// WithPublisher announces every placed order after it is persisted.
func WithPublisher(events Publisher) Option {
	return func(s *Service) { s.events = events }
}

// WithMetrics records placement counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracerProvider enables placement spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	customers customer.Repository,
	pricer Pricer,
	fees FeeResolver,
	promos promo.Repository,
	opts ...Option,
) *Service {
	s := &Service{
		customers: customers,
		pricer:    pricer,
		fees:      fees,
		promos:    promos,
		tracer:    noop.NewTracerProvider().Tracer(instrumentationName),
		now:       time.Now,
		newCode:   NewCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder resolves the customer, prices the products and the delivery fee
// concurrently, applies the promo code and builds the order. An unknown
// customer short-circuits with *CustomerNotFoundError before any other lookup.
// No order is returned on any failure.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "PlaceOrder", trace.WithAttributes(
		attribute.String("order.customer_id", req.CustomerID),
		attribute.Int("order.products", len(req.ProductIDs)),
		attribute.Bool("order.promo", req.PromoCode != ""),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	c, ok, err := s.customers.FindByID(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "find customer")
	}
	if !ok {
		s.metrics.recordRejected(ctx, "customer_not_found")
		return nil, &CustomerNotFoundError{CustomerID: req.CustomerID}
	}
	if len(req.ProductIDs) == 0 {
		s.metrics.recordRejected(ctx, "no_products")
		return nil, ErrNoProducts
	}

	// Fee and pricing are independent; the first failure cancels the other.
	var (
		fee    decimal.Decimal
		priced product.Priced
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := s.fees.Fee(gctx, req.PostalCode)
		if err != nil {
			return errors.Wrap(err, "resolve delivery fee")
		}
		fee = f
		return nil
	})
	g.Go(func() error {
		p, err := s.pricer.Price(gctx, req.ProductIDs)
		if err != nil {
			return errors.Wrap(err, "price products")
		}
		priced = p
		return nil
	})
	if err := g.Wait(); err != nil {
		var pnfErr *product.ProductNotFoundError
		if errors.As(err, &pnfErr) {
			s.metrics.recordRejected(ctx, "product_not_found")
		}
		return nil, err
	}

	discount, err := s.discount(ctx, req.PromoCode)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := Params{
		Code:        s.newCode(),
		CustomerID:  c.ID,
		PostalCode:  req.PostalCode,
		PromoCode:   req.PromoCode,
		DeliveryFee: fee,
		Discount:    discount,
		Products:    priced.Products,
		CreatedAt:   s.now(),
	}
	o, err := s.create(ctx, params)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx)
	if s.events != nil {
		// The order already exists at this point, so a publish failure is
		// reported rather than undoing the placement.
		if err := s.events.OrderPlaced(ctx, o); err != nil {
			lg.Warn("Publish order placed event failed",
				zap.String("order_code", o.Code()),
				zap.Error(err),
			)
		}
	}

	s.metrics.recordPlaced(ctx, o)
	span.SetAttributes(attribute.String("order.code", o.Code()))
	lg.Info("Order placed",
		zap.String("order_code", o.Code()),
		zap.String("customer_id", o.CustomerID()),
		zap.Stringer("total", o.Total()),
	)

	return o, nil
}

// create builds the order and persists it, drawing a new code whenever the
// repository reports the current one as taken.
func (s *Service) create(ctx context.Context, p Params) (*Order, error) {
	o := New(p)
	if s.orders == nil {
		return o, nil
	}
	for attempt := 1; ; attempt++ {
		err := s.orders.Create(ctx, o)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrDuplicateCode) || attempt == maxCodeAttempts {
			return nil, errors.Wrap(err, "create order")
		}
		zctx.From(ctx).Debug("Order code taken, retrying", zap.String("order_code", p.Code))
		p.Code = s.newCode()
		o = New(p)
	}
}

// discount resolves the promo code to the discount it grants right now.
// A missing, unknown or expired code grants nothing.
func (s *Service) discount(ctx context.Context, code string) (decimal.Decimal, error) {
	if code == "" {
		return decimal.Zero, nil
	}

	p, ok, err := s.promos.FindByCode(ctx, code)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "find promo code")
	}
	if !ok {
		zctx.From(ctx).Debug("Unknown promo code", zap.String("promo_code", code))
		return decimal.Zero, nil
	}

	return p.DiscountAt(s.now()), nil
}
