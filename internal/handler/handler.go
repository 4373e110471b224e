// Package handler exposes order placement over HTTP.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/order-placement/internal/container"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the order API. Every request runs inside its own container
// scope, closed before the handler returns.
type Handler struct {
	container *container.Container
}

// New constructs a Handler resolving its collaborators from c.
func New(c *container.Container) *Handler {
	return &Handler{container: c}
}

// Mount registers the order routes on r. The throttle middlewares guard
// order placement only.
func (h *Handler) Mount(r chi.Router, throttle ...func(http.Handler) http.Handler) {
	r.With(throttle...).Post("/api/orders", h.PlaceOrder)
	r.Get("/api/orders/{code}", h.GetOrder)
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, &e)
}
