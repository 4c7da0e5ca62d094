package inventory

import (
	"context"

	"reservationservice/internal/platform/observability"

	"go.uber.org/zap"
)

// Sweeper expires overdue reservations and announces each expiry.
type Sweeper struct {
	service   *Service
	publisher *EventPublisher
	logger    observability.Logger
}

func NewSweeper(service *Service, publisher *EventPublisher, logger observability.Logger) *Sweeper {
	return &Sweeper{service: service, publisher: publisher, logger: logger}
}

// SweepOnce runs one expiry pass and returns how many reservations expired.
// Publish failures are logged; the stock has already been restored.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	expired := s.service.Sweep(ctx)
	for _, res := range expired {
		if err := s.publisher.Publish(ctx, reservationEvent(EventReservationExpired, res)); err != nil {
			s.logger.Warn("Expiry not announced", zap.String("reservation_id", res.ID), zap.Error(err))
		}
	}
	return len(expired)
}
