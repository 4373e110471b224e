// Package messaging announces placed orders on Kafka.
package messaging

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/order-placement/internal/domain/order"
)

// DefaultTopic receives order.placed events.
const DefaultTopic = "order.placed"

var _ order.Publisher = (*Producer)(nil)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes order events keyed by order code.
type Producer struct {
	writer     Writer
	topic      string
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// ProducerOption configures a Producer.
type ProducerOption func(p *Producer)

// WithWriter replaces the Kafka writer built from the broker list.
func WithWriter(w Writer) ProducerOption {
	return func(p *Producer) { p.writer = w }
}

// WithTracerProvider sets the provider for producer spans.
func WithTracerProvider(tp trace.TracerProvider) ProducerOption {
	return func(p *Producer) { p.tracer = tp.Tracer("github.com/xenking/order-placement/internal/messaging") }
}

// WithPropagator sets the propagator used to inject trace context into
// message headers. Defaults to the global one.
func WithPropagator(prop propagation.TextMapPropagator) ProducerOption {
	return func(p *Producer) { p.propagator = prop }
}

// NewProducer creates a Producer writing to topic on brokers.
func NewProducer(brokers []string, topic string, opts ...ProducerOption) *Producer {
	if topic == "" {
		topic = DefaultTopic
	}
	p := &Producer{
		topic:  topic,
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.propagator == nil {
		p.propagator = otel.GetTextMapPropagator()
	}
	if p.writer == nil {
		p.writer = &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			BatchSize:              1,
			RequiredAcks:           kafka.RequireOne,
		}
	}
	return p
}

// OrderPlaced publishes the order.placed event for o.
func (p *Producer) OrderPlaced(ctx context.Context, o *order.Order) error {
	key := o.Code()
	msg := kafka.Message{
		Key:   []byte(key),
		Value: EncodeOrderPlaced(o),
		Time:  o.CreatedAt(),
	}

	ctx, span := p.tracer.Start(ctx, "send "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingKafkaMessageKey(key),
		),
	)
	defer span.End()

	p.propagator.Inject(ctx, carrierFor(&msg))

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "write %s", p.topic)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
