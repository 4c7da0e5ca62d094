package inventory

import (
	"context"
	"time"

	"reservationservice/internal/ledger"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ReserveOrder holds every line of a multi-line order, or none of them.
func (s *Service) ReserveOrder(ctx context.Context, orderID string, lines []ledger.OrderLine, ttl time.Duration) ([]ledger.Reservation, error) {
	_, span := s.tracer.Start(ctx, "reservation.reserve_order")
	defer span.End()

	if ttl == 0 {
		ttl = s.defaultTTL
	}
	span.SetAttributes(
		attribute.String("reservation.order_id", orderID),
		attribute.Int("reservation.lines", len(lines)),
		attribute.String("reservation.ttl", ttl.String()),
	)

	held, err := s.ledger.ReserveOrder(orderID, lines, ttl)
	if err != nil {
		s.fail(span, "reserve_order", err, zap.String("order_id", orderID), zap.Int("lines", len(lines)))
		return nil, err
	}

	s.observeLines(span, held)
	s.succeed(span, "reserve_order", held[0])
	s.logger.Info("🔒 Order reserved",
		zap.String("order_id", orderID),
		zap.Int("lines", len(held)),
		zap.Time("expires_at", held[0].ExpiresAt),
	)
	return held, nil
}

// CommitOrder commits every line of an order reserved with ReserveOrder.
func (s *Service) CommitOrder(ctx context.Context, orderID string, skus []string) ([]ledger.Reservation, error) {
	_, span := s.tracer.Start(ctx, "reservation.commit_order")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.order_id", orderID))

	lines, err := s.ledger.CommitAll(lineIDs(orderID, skus))
	if err != nil {
		s.fail(span, "commit_order", err, zap.String("order_id", orderID))
		return nil, err
	}

	s.observeLines(span, lines)
	s.succeed(span, "commit_order", lines[0])
	s.logger.Info("✅ Order committed", zap.String("order_id", orderID), zap.Int("lines", len(lines)))
	return lines, nil
}

// ReleaseOrder releases every line of an order reserved with ReserveOrder.
func (s *Service) ReleaseOrder(ctx context.Context, orderID string, skus []string) ([]ledger.Reservation, error) {
	_, span := s.tracer.Start(ctx, "reservation.release_order")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.order_id", orderID))

	lines, err := s.ledger.ReleaseAll(lineIDs(orderID, skus))
	if err != nil {
		s.fail(span, "release_order", err, zap.String("order_id", orderID))
		return nil, err
	}

	s.observeLines(span, lines)
	s.succeed(span, "release_order", lines[0])
	s.logger.Info("🔓 Order released", zap.String("order_id", orderID), zap.Int("lines", len(lines)))
	return lines, nil
}

func (s *Service) observeLines(span trace.Span, lines []ledger.Reservation) {
	for _, line := range lines {
		if available, err := s.ledger.AvailableStock(line.SKU); err == nil {
			s.metrics.Available.WithLabelValues(line.SKU).Set(float64(available))
		}
	}
	span.SetAttributes(attribute.Int("reservation.lines", len(lines)))
}

func lineIDs(orderID string, skus []string) []string {
	ids := make([]string, len(skus))
	for i, sku := range skus {
		ids[i] = ledger.LineReservationID(orderID, sku)
	}
	return ids
}
