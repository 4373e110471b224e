package messaging

import (
	"slices"

	"github.com/samber/lo"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
)

var _ propagation.TextMapCarrier = headerCarrier{}

// headerCarrier lets otel propagators read and write Kafka headers in place.
// Setting an existing key overwrites it.
type headerCarrier struct {
	headers *[]kafka.Header
}

func carrierFor(msg *kafka.Message) headerCarrier {
	return headerCarrier{headers: &msg.Headers}
}

func (c headerCarrier) index(key string) int {
	return slices.IndexFunc(*c.headers, func(h kafka.Header) bool { return h.Key == key })
}

func (c headerCarrier) Get(key string) string {
	if i := c.index(key); i >= 0 {
		return string((*c.headers)[i].Value)
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	if i := c.index(key); i >= 0 {
		(*c.headers)[i].Value = []byte(value)
		return
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	return lo.Map(*c.headers, func(h kafka.Header, _ int) string { return h.Key })
}
