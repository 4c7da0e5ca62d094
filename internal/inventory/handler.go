package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reservationservice/internal/ledger"
	"reservationservice/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// MessageHandler processes one Kafka message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg kafkago.Message) error
}

// CheckoutHandler turns checkout events into ledger transitions and
// publishes the outcome of each.
type CheckoutHandler struct {
	service   *Service
	publisher *EventPublisher
	logger    observability.Logger
	maxTTL    time.Duration
	now       func() time.Time
}

// NewCheckoutHandler creates a handler. Requested TTLs above maxTTL are
// rejected as invalid requests.
func NewCheckoutHandler(service *Service, publisher *EventPublisher, logger observability.Logger, maxTTL time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		service:   service,
		publisher: publisher,
		logger:    logger,
		maxTTL:    maxTTL,
		now:       time.Now,
	}
}

// HandleMessage processes a CheckoutEvents message. Malformed payloads are
// logged and skipped. Ledger rejections are published as
// ReservationRejected and are not returned as errors; only publish failures
// are. The published type always follows the state the reservation is in,
// so a redelivered event reports the current outcome.
func (h *CheckoutHandler) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	msgCtx := extractTraceContext(ctx, msg.Headers)

	h.logger.Info("📨 Raw Kafka message received",
		zap.ByteString("key", msg.Key),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	var event CheckoutEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("❌ Invalid JSON in checkout event",
			zap.Error(err),
			zap.ByteString("raw_value", msg.Value),
		)
		return nil
	}
	if !knownCheckoutEvent(event.Type) {
		h.logger.Warn("Skipping unknown checkout event type",
			zap.String("type", event.Type),
			zap.String("reservation_id", event.ReservationID),
		)
		return nil
	}
	if len(event.Items) > 0 {
		return h.handleOrder(msgCtx, event)
	}

	var (
		res ledger.Reservation
		err error
	)
	switch event.Type {
	case EventOrderPlaced:
		var ttl time.Duration
		if ttl, err = reservationTTL(event.TTLSeconds, h.maxTTL); err == nil {
			res, err = h.service.Reserve(msgCtx, event.SKU, event.Quantity, event.ReservationID, ttl)
		}
	case EventPaymentConfirmed:
		res, err = h.service.Commit(msgCtx, event.ReservationID)
	case EventPaymentFailed, EventCartAbandoned:
		res, err = h.service.Release(msgCtx, event.ReservationID)
	}

	if err != nil {
		if !IsRejection(err) {
			return fmt.Errorf("handle %s: %w", event.Type, err)
		}
		return h.publisher.Publish(msgCtx, h.rejection(event, err))
	}

	out := reservationEvent(outcomeEventType(res.State), res)
	out.OrderID = event.OrderID
	out.Available = h.available(msgCtx, res.SKU)
	return h.publisher.Publish(msgCtx, out)
}

func (h *CheckoutHandler) handleOrder(ctx context.Context, event CheckoutEvent) error {
	key := event.orderKey()
	skus := make([]string, len(event.Items))
	lines := make([]ledger.OrderLine, len(event.Items))
	for i, item := range event.Items {
		skus[i] = item.SKU
		lines[i] = ledger.OrderLine{SKU: item.SKU, Quantity: item.Quantity}
	}

	var (
		held []ledger.Reservation
		err  error
	)
	switch event.Type {
	case EventOrderPlaced:
		var ttl time.Duration
		if ttl, err = reservationTTL(event.TTLSeconds, h.maxTTL); err == nil {
			held, err = h.service.ReserveOrder(ctx, key, lines, ttl)
		}
	case EventPaymentConfirmed:
		held, err = h.service.CommitOrder(ctx, key, skus)
	case EventPaymentFailed, EventCartAbandoned:
		held, err = h.service.ReleaseOrder(ctx, key, skus)
	}

	if err != nil {
		if !IsRejection(err) {
			return fmt.Errorf("handle %s for order %s: %w", event.Type, key, err)
		}
		out := ReservationEvent{
			Type:          EventReservationRejected,
			ReservationID: key,
			OrderID:       event.OrderID,
			Reason:        Reason(err),
			OccurredAt:    h.now(),
		}
		for _, item := range event.Items {
			out.Items = append(out.Items, ReservationLine{SKU: item.SKU, Quantity: item.Quantity})
		}
		return h.publisher.Publish(ctx, out)
	}

	out := reservationEvent(outcomeEventType(held[0].State), held[0])
	out.ReservationID = key
	out.OrderID = event.OrderID
	out.SKU = ""
	out.Quantity = 0
	for _, res := range held {
		out.Items = append(out.Items, ReservationLine{
			ReservationID: res.ID,
			SKU:           res.SKU,
			Quantity:      res.Quantity,
			State:         string(res.State),
			Available:     h.available(ctx, res.SKU),
		})
	}
	return h.publisher.Publish(ctx, out)
}

func (h *CheckoutHandler) rejection(event CheckoutEvent, err error) ReservationEvent {
	out := ReservationEvent{
		Type:          EventReservationRejected,
		ReservationID: event.ReservationID,
		OrderID:       event.OrderID,
		SKU:           event.SKU,
		Quantity:      event.Quantity,
		Reason:        Reason(err),
		OccurredAt:    h.now(),
	}
	if res, lookupErr := h.service.Reservation(context.Background(), event.ReservationID); lookupErr == nil {
		out.SKU = res.SKU
		out.Quantity = res.Quantity
		out.State = string(res.State)
	}
	return out
}

func (h *CheckoutHandler) available(ctx context.Context, sku string) *int {
	available, err := h.service.AvailableStock(ctx, sku)
	if err != nil {
		return nil
	}
	return &available
}

func knownCheckoutEvent(eventType string) bool {
	switch eventType {
	case EventOrderPlaced, EventPaymentConfirmed, EventPaymentFailed, EventCartAbandoned:
		return true
	}
	return false
}

// reservationTTL converts a requested TTL in seconds. Zero selects the
// service default; negative values and values above limit are rejected.
func reservationTTL(seconds int, limit time.Duration) (time.Duration, error) {
	maxSeconds := int64(limit / time.Second)
	if seconds < 0 || int64(seconds) > maxSeconds {
		return 0, fmt.Errorf("%w: ttl_seconds %d outside [0, %d]", ledger.ErrInvalidArgument, seconds, maxSeconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

// extractTraceContext extracts OpenTelemetry trace context from Kafka message headers
func extractTraceContext(ctx context.Context, headers []kafkago.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, header := range headers {
		carrier[string(header.Key)] = string(header.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
