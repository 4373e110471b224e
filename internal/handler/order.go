package handler

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/order-placement/internal/domain/order"
	"github.com/xenking/order-placement/internal/domain/product"
)

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read request body")
		return
	}

	req, err := decodePlaceOrder(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scope := h.container.NewScope()
	defer scope.Close()

	o, err := scope.OrderService().PlaceOrder(ctx, req)
	if err != nil {
		status, message := mapOrderError(err)
		if status == http.StatusInternalServerError {
			zctx.From(ctx).Error("Place order failed",
				zap.String("customer_id", req.CustomerID),
				zap.Error(err),
			)
		}
		writeError(w, status, message)
		return
	}

	var e jx.Encoder
	encodeOrder(&e, o, fmt.Sprintf("Order %s has been placed", o.Code()))
	writeJSON(w, http.StatusCreated, &e)
}

// GetOrder handles GET /api/orders/{code}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := strings.ToUpper(chi.URLParam(r, "code"))

	scope := h.container.NewScope()
	defer scope.Close()

	o, ok, err := scope.Orders().FindByCode(ctx, code)
	if err != nil {
		zctx.From(ctx).Error("Find order failed", zap.String("code", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("order %s not found", code))
		return
	}

	var e jx.Encoder
	encodeOrder(&e, o, "")
	writeJSON(w, http.StatusOK, &e)
}

// mapOrderError converts placement errors to a status and a client-facing
// message. Unexpected failures hide their details.
func mapOrderError(err error) (int, string) {
	var cnf *order.CustomerNotFoundError
	if errors.As(err, &cnf) {
		return http.StatusNotFound, cnf.Error()
	}

	var pnf *product.ProductNotFoundError
	if errors.As(err, &pnf) {
		return http.StatusUnprocessableEntity, pnf.Error()
	}

	if errors.Is(err, order.ErrNoProducts) {
		return http.StatusUnprocessableEntity, order.ErrNoProducts.Error()
	}

	return http.StatusInternalServerError, "internal server error"
}

// decodePlaceOrder parses
// {"customerId":"C1","postalCode":"10115","promoCode":null,"productIds":[1,2]}.
func decodePlaceOrder(data []byte) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest

	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return req, errors.New("request body must be a JSON object")
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customerId":
			req.CustomerID, err = d.Str()
		case "postalCode":
			req.PostalCode, err = d.Str()
		case "promoCode":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.PromoCode, err = d.Str()
		case "productIds":
			if d.Next() == jx.Null {
				return d.Null()
			}
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Int64()
				if err != nil {
					return err
				}
				req.ProductIDs = append(req.ProductIDs, id)
				return nil
			})
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "invalid %s", key)
		}
		return nil
	})
	if err != nil {
		return req, err
	}

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PostalCode = strings.TrimSpace(req.PostalCode)
	req.PromoCode = strings.TrimSpace(req.PromoCode)
	switch {
	case req.CustomerID == "":
		return req, errors.New("customerId is required")
	case req.PostalCode == "":
		return req, errors.New("postalCode is required")
	}
	return req, nil
}

func encodeOrder(e *jx.Encoder, o *order.Order, message string) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(o.Code())
	if message != "" {
		e.FieldStart("message")
		e.Str(message)
	}
	e.FieldStart("customerId")
	e.Str(o.CustomerID())
	e.FieldStart("postalCode")
	e.Str(o.PostalCode())
	if o.PromoCode() != "" {
		e.FieldStart("promoCode")
		e.Str(o.PromoCode())
	}
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt().UTC().Format(time.RFC3339))
	e.FieldStart("products")
	e.ArrStart()
	for _, p := range o.Products() {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(p.ID)
		e.FieldStart("name")
		e.Str(p.Name)
		e.FieldStart("price")
		e.Str(formatMoney(p.Price))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	e.Str(formatMoney(o.Subtotal()))
	e.FieldStart("deliveryFee")
	e.Str(formatMoney(o.DeliveryFee()))
	e.FieldStart("discount")
	e.Str(formatMoney(o.Discount()))
	e.FieldStart("total")
	e.Str(formatMoney(o.Total()))
	e.ObjEnd()
}

// formatMoney renders at least two fraction digits without dropping any.
func formatMoney(d decimal.Decimal) string {
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	return d.String()
}
