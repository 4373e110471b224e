package order

import (
	"context"
	"encoding/hex"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-placement/internal/domain/product"
)

// CodeLength is the number of characters in an order code.
const CodeLength = 8

// Order is a placed order. It is immutable: amounts and line items are fixed
// at placement and the totals are always derived from them.
type Order struct {
	code        string
	customerID  string
	postalCode  string
	promoCode   string
	deliveryFee decimal.Decimal
	discount    decimal.Decimal
	products    []product.Product
	createdAt   time.Time
}

// Params carries the fields of an Order under construction.
type Params struct {
	Code        string
	CustomerID  string
	PostalCode  string
	PromoCode   string
	DeliveryFee decimal.Decimal
	Discount    decimal.Decimal
	Products    []product.Product
	CreatedAt   time.Time
}

// New builds an Order from p. Products are copied so later changes to the
// caller's slice cannot alter the order.
func New(p Params) *Order {
	return &Order{
		code:        p.Code,
		customerID:  p.CustomerID,
		postalCode:  p.PostalCode,
		promoCode:   p.PromoCode,
		deliveryFee: p.DeliveryFee,
		discount:    p.Discount,
		products:    slices.Clone(p.Products),
		createdAt:   p.CreatedAt,
	}
}

func (o *Order) Code() string                 { return o.code }
func (o *Order) CustomerID() string           { return o.customerID }
func (o *Order) PostalCode() string           { return o.postalCode }
func (o *Order) PromoCode() string            { return o.promoCode }
func (o *Order) DeliveryFee() decimal.Decimal { return o.deliveryFee }
func (o *Order) Discount() decimal.Decimal    { return o.discount }
func (o *Order) CreatedAt() time.Time         { return o.createdAt }

// Products returns a copy of the ordered line items.
func (o *Order) Products() []product.Product {
	return slices.Clone(o.products)
}

// Subtotal is the sum of the line item prices.
func (o *Order) Subtotal() decimal.Decimal {
	return product.Subtotal(o.products)
}

// Total is subtotal - discount + delivery fee, computed exactly.
func (o *Order) Total() decimal.Decimal {
	return o.Subtotal().Sub(o.discount).Add(o.deliveryFee)
}

// NewCode returns a fresh order code: the first CodeLength hex digits of a
// random UUID, upper-cased.
func NewCode() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:CodeLength/2]))
}

// Repository persists placed orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	// FindByCode returns the order with the given code. The boolean is false
	// when no such order exists.
	FindByCode(ctx context.Context, code string) (*Order, bool, error)
}

// Publisher announces placed orders to other systems.
type Publisher interface {
	OrderPlaced(ctx context.Context, o *Order) error
}
