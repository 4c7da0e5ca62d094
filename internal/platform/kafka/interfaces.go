package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Producer is satisfied by the instrumented otel-kafka-konsumer writer.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// Consumer is satisfied by the instrumented otel-kafka-konsumer reader.
// Offsets are committed explicitly, once a message has been handled.
type Consumer interface {
	FetchMessage(ctx context.Context, msg *kafka.Message) error
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
