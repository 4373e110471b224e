package order

import (
	"context"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/goleak"

	"github.com/xenking/order-placement/internal/domain/customer"
	"github.com/xenking/order-placement/internal/domain/delivery"
	"github.com/xenking/order-placement/internal/domain/product"
	"github.com/xenking/order-placement/internal/domain/promo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Mock implementations ---

type mockCustomerRepo struct {
	byID  map[string]customer.Customer
	err   error
	calls atomic.Int32
}

func (m *mockCustomerRepo) FindByID(_ context.Context, id string) (customer.Customer, bool, error) {
	m.calls.Add(1)
	if m.err != nil {
		return customer.Customer{}, false, m.err
	}
	c, ok := m.byID[id]
	return c, ok, nil
}

type mockProductRepo struct {
	products []product.Product
	err      error
	calls    atomic.Int32
}

func (m *mockProductRepo) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, p := range m.products {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
				break
			}
		}
	}
	return out, ctx.Err()
}

type mockRates struct {
	rate  decimal.Decimal
	err   error
	calls atomic.Int32
}

func (m *mockRates) Rate(_ context.Context, _ string) (decimal.Decimal, error) {
	m.calls.Add(1)
	return m.rate, m.err
}

type mockPromoRepo struct {
	byCode map[string]promo.PromoCode
	err    error
	calls  atomic.Int32
}

func (m *mockPromoRepo) FindByCode(_ context.Context, code string) (promo.PromoCode, bool, error) {
	m.calls.Add(1)
	if m.err != nil {
		return promo.PromoCode{}, false, m.err
	}
	p, ok := m.byCode[code]
	return p, ok, nil
}

type mockOrderRepo struct {
	created []*Order
	err     error
	taken   map[string]bool
	tried   []string
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.tried = append(m.tried, o.Code())
	if m.err != nil {
		return m.err
	}
	if m.taken[o.Code()] {
		return errors.Wrapf(ErrDuplicateCode, "creating order %q", o.Code())
	}
	m.created = append(m.created, o)
	return nil
}

func (m *mockOrderRepo) FindByCode(_ context.Context, code string) (*Order, bool, error) {
	for _, o := range m.created {
		if o.Code() == code {
			return o, true, nil
		}
	}
	return nil, false, nil
}

type mockPublisher struct {
	published []string
	err       error
}

func (m *mockPublisher) OrderPlaced(_ context.Context, o *Order) error {
	m.published = append(m.published, o.Code())
	return m.err
}

// --- Helpers ---

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	customers *mockCustomerRepo
	products  *mockProductRepo
	rates     *mockRates
	promos    *mockPromoRepo
}

func newFixture(rawFee string) *fixture {
	return &fixture{
		customers: &mockCustomerRepo{byID: map[string]customer.Customer{
			"C2": {ID: "C2", Name: "Ada Lovelace", Email: "ada@example.com"},
		}},
		products: &mockProductRepo{products: []product.Product{
			{ID: 1, Name: "Waffle", Price: decimal.RequireFromString("10.00")},
			{ID: 2, Name: "Creme Brulee", Price: decimal.RequireFromString("15.50")},
		}},
		rates: &mockRates{rate: decimal.RequireFromString(rawFee)},
		promos: &mockPromoRepo{byCode: map[string]promo.PromoCode{
			"SAVE5": {
				Code:      "SAVE5",
				Discount:  decimal.RequireFromString("5.00"),
				ExpiresAt: fixedNow.Add(24 * time.Hour),
			},
			"OLD5": {
				Code:      "OLD5",
				Discount:  decimal.RequireFromString("5.00"),
				ExpiresAt: fixedNow.Add(-24 * time.Hour),
			},
		}},
	}
}

func (f *fixture) service(opts ...Option) *Service {
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithCodeGenerator(func() string { return "ABCDEF12" }),
	}, opts...)
	return NewService(
		f.customers,
		product.NewPricer(f.products),
		delivery.NewFeeResolver(f.rates),
		f.promos,
		opts...,
	)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "got %s, want %s", got, want)
}

// --- Tests ---

func TestPlaceOrder_CustomerNotFound(t *testing.T) {
	f := newFixture("3.00")
	svc := f.service()

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C1",
		PostalCode: "10115",
		PromoCode:  "SAVE5",
		ProductIDs: []int64{1, 2},
	})

	require.Nil(t, o)
	require.ErrorIs(t, err, ErrCustomerNotFound)
	var cnfErr *CustomerNotFoundError
	require.ErrorAs(t, err, &cnfErr)
	assert.Equal(t, "C1", cnfErr.CustomerID)

	assert.EqualValues(t, 1, f.customers.calls.Load())
	assert.Zero(t, f.rates.calls.Load(), "no fee lookup")
	assert.Zero(t, f.products.calls.Load(), "no pricing")
	assert.Zero(t, f.promos.calls.Load(), "no promo resolution")
}

func TestPlaceOrder_NoPromoFeeClamped(t *testing.T) {
	f := newFixture("3.00")
	svc := f.service()

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		ProductIDs: []int64{1, 2},
	})
	require.NoError(t, err)

	requireDecimal(t, "25.50", o.Subtotal())
	requireDecimal(t, "5.00", o.DeliveryFee())
	requireDecimal(t, "0.00", o.Discount())
	requireDecimal(t, "30.50", o.Total())
	assert.Zero(t, f.promos.calls.Load(), "promo lookup skipped without a code")
	assert.Equal(t, "C2", o.CustomerID())
	assert.Equal(t, "ABCDEF12", o.Code())
	assert.Equal(t, fixedNow, o.CreatedAt())
}

func TestPlaceOrder_ActivePromo(t *testing.T) {
	f := newFixture("8.00")
	svc := f.service()

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		PromoCode:  "SAVE5",
		ProductIDs: []int64{1, 2},
	})
	require.NoError(t, err)

	requireDecimal(t, "25.50", o.Subtotal())
	requireDecimal(t, "8.00", o.DeliveryFee())
	requireDecimal(t, "5.00", o.Discount())
	requireDecimal(t, "28.50", o.Total())
	assert.Equal(t, "SAVE5", o.PromoCode())
}

func TestPlaceOrder_ExpiredPromoIsInert(t *testing.T) {
	f := newFixture("8.00")
	svc := f.service()

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		PromoCode:  "OLD5",
		ProductIDs: []int64{1, 2},
	})
	require.NoError(t, err)

	requireDecimal(t, "0", o.Discount())
	requireDecimal(t, "33.50", o.Total())
	assert.EqualValues(t, 1, f.promos.calls.Load())
}

func TestPlaceOrder_UnknownPromoIsInert(t *testing.T) {
	f := newFixture("8.00")
	svc := f.service()

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		PromoCode:  "BOGUS",
		ProductIDs: []int64{1},
	})
	require.NoError(t, err)
	requireDecimal(t, "0", o.Discount())
	requireDecimal(t, "18.00", o.Total())
}

func TestPlaceOrder_DuplicateProducts(t *testing.T) {
	f := newFixture("8.00")
	svc := f.service()

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		ProductIDs: []int64{2, 1, 2},
	})
	require.NoError(t, err)

	got := make([]int64, 0, 3)
	for _, p := range o.Products() {
		got = append(got, p.ID)
	}
	assert.Equal(t, []int64{2, 1, 2}, got)
	requireDecimal(t, "41.00", o.Subtotal())
	requireDecimal(t, "49.00", o.Total())
}

func TestPlaceOrder_NoProducts(t *testing.T) {
	f := newFixture("8.00")
	svc := f.service()

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
	})
	require.ErrorIs(t, err, ErrNoProducts)
	assert.Equal(t, int32(1), f.customers.calls.Load())
	assert.Zero(t, f.rates.calls.Load())
	assert.Zero(t, f.products.calls.Load())
}

func TestPlaceOrder_UnknownCustomerWithoutProducts(t *testing.T) {
	f := newFixture("8.00")
	svc := f.service()

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C1",
		PostalCode: "10115",
	})
	require.ErrorIs(t, err, ErrCustomerNotFound)
	assert.NotErrorIs(t, err, ErrNoProducts)
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	f := newFixture("8.00")
	orders := &mockOrderRepo{}
	svc := f.service(WithRepository(orders))

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		ProductIDs: []int64{1, 99},
	})

	require.Nil(t, o)
	var pnfErr *product.ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, int64(99), pnfErr.ProductID)
	assert.Empty(t, orders.created)
}

func TestPlaceOrder_FailuresPropagate(t *testing.T) {
	errTransport := errors.New("connection refused")

	tests := []struct {
		name     string
		mutate   func(f *fixture)
		wantText string
	}{
		{
			name:     "customer store failure",
			mutate:   func(f *fixture) { f.customers.err = errTransport },
			wantText: "find customer",
		},
		{
			name:     "rate provider failure",
			mutate:   func(f *fixture) { f.rates.err = errTransport },
			wantText: "resolve delivery fee",
		},
		{
			name:     "product store failure",
			mutate:   func(f *fixture) { f.products.err = errTransport },
			wantText: "price products",
		},
		{
			name:     "promo store failure",
			mutate:   func(f *fixture) { f.promos.err = errTransport },
			wantText: "find promo code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("8.00")
			tt.mutate(f)
			orders := &mockOrderRepo{}
			svc := f.service(WithRepository(orders))

			o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				CustomerID: "C2",
				PostalCode: "10115",
				PromoCode:  "SAVE5",
				ProductIDs: []int64{1},
			})

			require.Nil(t, o)
			require.ErrorIs(t, err, errTransport)
			assert.Contains(t, err.Error(), tt.wantText)
			assert.Empty(t, orders.created)
		})
	}
}

func TestPlaceOrder_CancelledContext(t *testing.T) {
	f := newFixture("8.00")
	svc := f.service()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, err := svc.PlaceOrder(ctx, PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		ProductIDs: []int64{1},
	})
	require.Nil(t, o)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPlaceOrder_PersistsAndPublishes(t *testing.T) {
	f := newFixture("8.00")
	orders := &mockOrderRepo{}
	events := &mockPublisher{}
	metrics, err := NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	svc := f.service(WithRepository(orders), WithPublisher(events), WithMetrics(metrics))

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		PromoCode:  "SAVE5",
		ProductIDs: []int64{1, 2},
	})
	require.NoError(t, err)

	require.Len(t, orders.created, 1)
	assert.Same(t, o, orders.created[0])
	assert.Equal(t, []string{o.Code()}, events.published)
}

func TestPlaceOrder_CreateErrorReturnsNoOrder(t *testing.T) {
	f := newFixture("8.00")
	events := &mockPublisher{}
	svc := f.service(
		WithRepository(&mockOrderRepo{err: errors.New("db write failed")}),
		WithPublisher(events),
	)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		ProductIDs: []int64{1},
	})

	require.Nil(t, o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
	assert.Empty(t, events.published, "nothing announced for an unsaved order")
}

func sequence(codes ...string) func() string {
	i := 0
	return func() string {
		c := codes[i%len(codes)]
		i++
		return c
	}
}

func TestPlaceOrder_RetriesTakenCode(t *testing.T) {
	f := newFixture("8.00")
	orders := &mockOrderRepo{taken: map[string]bool{"AAAAAAAA": true}}
	svc := f.service(
		WithRepository(orders),
		WithCodeGenerator(sequence("AAAAAAAA", "BBBBBBBB")),
	)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		ProductIDs: []int64{1},
	})
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", o.Code())
	assert.Equal(t, []string{"AAAAAAAA", "BBBBBBBB"}, orders.tried)
	require.Len(t, orders.created, 1)
	assert.Same(t, o, orders.created[0])
}

func TestPlaceOrder_GivesUpOnTakenCodes(t *testing.T) {
	f := newFixture("8.00")
	orders := &mockOrderRepo{taken: map[string]bool{"AAAAAAAA": true}}
	svc := f.service(
		WithRepository(orders),
		WithCodeGenerator(sequence("AAAAAAAA")),
	)

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		ProductIDs: []int64{1},
	})
	require.Nil(t, o)
	require.ErrorIs(t, err, ErrDuplicateCode)
	assert.Len(t, orders.tried, maxCodeAttempts)
	assert.Empty(t, orders.created)
}

func TestPlaceOrder_PublishErrorIsNotFatal(t *testing.T) {
	f := newFixture("8.00")
	svc := f.service(WithPublisher(&mockPublisher{err: errors.New("broker down")}))

	o, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		CustomerID: "C2",
		PostalCode: "10115",
		ProductIDs: []int64{1},
	})
	require.NoError(t, err)
	require.NotNil(t, o)
}

func TestOrder_TotalInvariant(t *testing.T) {
	tests := []struct {
		name     string
		prices   []string
		fee      string
		discount string
	}{
		{name: "no discount", prices: []string{"10.00", "15.50"}, fee: "5", discount: "0"},
		{name: "discount", prices: []string{"10.00", "15.50"}, fee: "8.00", discount: "5.00"},
		{name: "many decimals", prices: []string{"0.1", "0.2", "0.3"}, fee: "5.005", discount: "0.333"},
		{name: "discount above subtotal", prices: []string{"1.00"}, fee: "5", discount: "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products := make([]product.Product, len(tt.prices))
			subtotal := decimal.Zero
			for i, p := range tt.prices {
				price := decimal.RequireFromString(p)
				products[i] = product.Product{ID: int64(i + 1), Price: price}
				subtotal = subtotal.Add(price)
			}
			fee := decimal.RequireFromString(tt.fee)
			discount := decimal.RequireFromString(tt.discount)

			o := New(Params{Products: products, DeliveryFee: fee, Discount: discount})

			assert.True(t, subtotal.Equal(o.Subtotal()))
			assert.True(t, subtotal.Sub(discount).Add(fee).Equal(o.Total()))
		})
	}
}

func TestOrder_ProductsAreCopied(t *testing.T) {
	products := []product.Product{{ID: 1, Price: decimal.RequireFromString("10.00")}}
	o := New(Params{Products: products, DeliveryFee: delivery.MinimumFee()})

	products[0].Price = decimal.RequireFromString("1.00")
	out := o.Products()
	out[0].Price = decimal.RequireFromString("2.00")

	want := []product.Product{{ID: 1, Price: decimal.RequireFromString("10.00")}}
	if diff := cmp.Diff(want, o.Products()); diff != "" {
		t.Errorf("products mismatch (-want +got):\n%s", diff)
	}
	requireDecimal(t, "15.00", o.Total())
}

var codePattern = regexp.MustCompile(`^[0-9A-F]{8}$`)

func TestNewCode(t *testing.T) {
	seen := make(map[string]struct{})
	for range 200 {
		code := NewCode()
		require.Len(t, code, CodeLength)
		require.Regexp(t, codePattern, code)
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}
	}
}
