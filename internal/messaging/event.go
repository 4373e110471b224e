package messaging

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-placement/internal/domain/order"
)

// OrderPlacedEvent is the payload of an order.placed message. Amounts are
// decimal strings.
type OrderPlacedEvent struct {
	Code        string
	CustomerID  string
	PostalCode  string
	PromoCode   string
	ProductIDs  []int64
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	PlacedAt    time.Time
}

// EncodeOrderPlaced renders the event for o.
func EncodeOrderPlaced(o *order.Order) []byte {
	products := o.Products()

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Str(o.Code())
	e.FieldStart("customerId")
	e.Str(o.CustomerID())
	e.FieldStart("postalCode")
	e.Str(o.PostalCode())
	if o.PromoCode() != "" {
		e.FieldStart("promoCode")
		e.Str(o.PromoCode())
	}
	e.FieldStart("productIds")
	e.ArrStart()
	for _, p := range products {
		e.Int64(p.ID)
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	e.Str(o.Subtotal().String())
	e.FieldStart("deliveryFee")
	e.Str(o.DeliveryFee().String())
	e.FieldStart("discount")
	e.Str(o.Discount().String())
	e.FieldStart("total")
	e.Str(o.Total().String())
	e.FieldStart("placedAt")
	e.Str(o.CreatedAt().UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}

// DecodeOrderPlaced parses an order.placed payload.
func DecodeOrderPlaced(data []byte) (OrderPlacedEvent, error) {
	var ev OrderPlacedEvent
	amount := func(d *jx.Decoder, dst *decimal.Decimal) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		*dst, err = decimal.NewFromString(s)
		return err
	}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			ev.Code, err = d.Str()
		case "customerId":
			ev.CustomerID, err = d.Str()
		case "postalCode":
			ev.PostalCode, err = d.Str()
		case "promoCode":
			ev.PromoCode, err = d.Str()
		case "productIds":
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Int64()
				if err != nil {
					return err
				}
				ev.ProductIDs = append(ev.ProductIDs, id)
				return nil
			})
		case "subtotal":
			err = amount(d, &ev.Subtotal)
		case "deliveryFee":
			err = amount(d, &ev.DeliveryFee)
		case "discount":
			err = amount(d, &ev.Discount)
		case "total":
			err = amount(d, &ev.Total)
		case "placedAt":
			var s string
			if s, err = d.Str(); err == nil {
				ev.PlacedAt, err = time.Parse(time.RFC3339Nano, s)
			}
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return OrderPlacedEvent{}, errors.Wrap(err, "decode order.placed")
	}
	return ev, nil
}
