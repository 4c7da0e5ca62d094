package kafka

import (
	"reservationservice/internal/config"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// NewConsumer creates an instrumented group reader for topic.
func NewConsumer(broker, topic string) (Consumer, error) {
	baseReader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: config.GroupID,
	})
	return otelkafka.NewReader(baseReader)
}

// NewProducer creates an instrumented writer for topic. A nil tp falls back
// to the global tracer provider.
func NewProducer(broker, topic string, tp trace.TracerProvider) (Producer, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	baseWriter := &kafkago.Writer{
		Addr:         kafkago.TCP(broker),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: config.BatchTimeout,
		BatchSize:    config.BatchSize,
	}

	return otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(topic),
				attribute.String("messaging.kafka.client_id", config.ServiceName),
			},
		),
	)
}
