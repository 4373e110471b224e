package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/xenking/order-placement/internal/domain/order"

// Metrics holds the order placement instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	placed     metric.Int64Counter
	discounted metric.Int64Counter
	rejected   metric.Int64Counter
}

// NewMetrics registers the order instruments on mp. Instruments are safe for
// concurrent use, so one Metrics is shared by every request.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)

	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders placed successfully"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders.placed counter")
	}
	discounted, err := meter.Int64Counter("orders.discounted",
		metric.WithDescription("Placed orders with a non-zero promo discount"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders.discounted counter")
	}
	rejected, err := meter.Int64Counter("orders.rejected",
		metric.WithDescription("Placement requests rejected before an order was built"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders.rejected counter")
	}

	return &Metrics{
		placed:     placed,
		discounted: discounted,
		rejected:   rejected,
	}, nil
}

func (m *Metrics) recordPlaced(ctx context.Context, o *Order) {
	if m == nil {
		return
	}
	m.placed.Add(ctx, 1)
	if !o.Discount().IsZero() {
		m.discounted.Add(ctx, 1)
	}
}

func (m *Metrics) recordRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
