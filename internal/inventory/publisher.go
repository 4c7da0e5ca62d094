package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	"reservationservice/internal/ledger"
	"reservationservice/internal/platform/kafka"
	"reservationservice/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher writes ReservationEvents keyed by reservation id, so every
// event of one reservation lands on the same partition.
type EventPublisher struct {
	producer kafka.Producer
	logger   observability.Logger
}

func NewEventPublisher(producer kafka.Producer, logger observability.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, logger: logger}
}

// Publish serializes and writes event.
func (p *EventPublisher) Publish(ctx context.Context, event ReservationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("❌ Failed to serialize reservation event",
			zap.Error(err),
			zap.String("reservation_id", event.ReservationID),
		)
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.ReservationID),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		p.logger.Error("❌ Failed to publish reservation event",
			zap.Error(err),
			zap.String("type", event.Type),
			zap.String("reservation_id", event.ReservationID),
		)
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	p.logger.Info("📤 Sent reservation event",
		zap.String("type", event.Type),
		zap.String("reservation_id", event.ReservationID),
	)
	return nil
}

func reservationEvent(eventType string, res ledger.Reservation) ReservationEvent {
	occurredAt := res.ClosedAt
	if occurredAt.IsZero() {
		occurredAt = res.CreatedAt
	}
	return ReservationEvent{
		Type:          eventType,
		ReservationID: res.ID,
		SKU:           res.SKU,
		Quantity:      res.Quantity,
		State:         string(res.State),
		ExpiresAt:     res.ExpiresAt,
		OccurredAt:    occurredAt,
	}
}
