package inventory

import (
	"context"
	"errors"
	"time"

	"reservationservice/internal/ledger"
	"reservationservice/internal/platform/metrics"
	"reservationservice/internal/platform/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Service is the entry point transports use to drive the reservation ledger.
// It adds tracing, logging and metrics around each ledger operation.
type Service struct {
	ledger     *ledger.Ledger
	logger     observability.Logger
	tracer     observability.Tracer
	metrics    *metrics.Metrics
	defaultTTL time.Duration
	now        func() time.Time
}

// NewService creates a service with explicit dependencies. defaultTTL
// applies to reservations requested without a TTL.
func NewService(l *ledger.Ledger, logger observability.Logger, tracer observability.Tracer, m *metrics.Metrics, defaultTTL time.Duration) *Service {
	return &Service{
		ledger:     l,
		logger:     logger,
		tracer:     tracer,
		metrics:    m,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Reserve holds stock for a checkout.
func (s *Service) Reserve(ctx context.Context, sku string, quantity int, reservationID string, ttl time.Duration) (ledger.Reservation, error) {
	_, span := s.tracer.Start(ctx, "reservation.reserve")
	defer span.End()

	if ttl == 0 {
		ttl = s.defaultTTL
	}
	span.SetAttributes(
		attribute.String("inventory.sku", sku),
		attribute.String("reservation.id", reservationID),
		attribute.Int("inventory.requested_quantity", quantity),
		attribute.String("reservation.ttl", ttl.String()),
	)

	res, err := s.ledger.Reserve(sku, quantity, reservationID, ttl)
	if err != nil {
		s.fail(span, "reserve", err, zap.String("sku", sku), zap.String("reservation_id", reservationID), zap.Int("quantity", quantity))
		return ledger.Reservation{}, err
	}

	available := s.observeAvailable(span, sku)
	s.succeed(span, "reserve", res)
	s.logger.Info("🔒 Stock reserved",
		zap.String("reservation_id", res.ID),
		zap.String("sku", sku),
		zap.Int("quantity", quantity),
		zap.Int("available", available),
		zap.Time("expires_at", res.ExpiresAt),
	)
	return res, nil
}

// Commit finalises a reservation after payment is confirmed.
func (s *Service) Commit(ctx context.Context, reservationID string) (ledger.Reservation, error) {
	_, span := s.tracer.Start(ctx, "reservation.commit")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	res, err := s.ledger.Commit(reservationID)
	if err != nil {
		s.fail(span, "commit", err, zap.String("reservation_id", reservationID))
		return ledger.Reservation{}, err
	}

	s.observeAvailable(span, res.SKU)
	s.succeed(span, "commit", res)
	s.logger.Info("✅ Reservation committed", zap.String("reservation_id", res.ID), zap.String("sku", res.SKU))
	return res, nil
}

// Release returns a reservation's stock after payment failure or cart
// abandonment.
func (s *Service) Release(ctx context.Context, reservationID string) (ledger.Reservation, error) {
	_, span := s.tracer.Start(ctx, "reservation.release")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	res, err := s.ledger.Release(reservationID)
	if err != nil {
		s.fail(span, "release", err, zap.String("reservation_id", reservationID))
		return ledger.Reservation{}, err
	}

	available := s.observeAvailable(span, res.SKU)
	s.succeed(span, "release", res)
	s.logger.Info("🔓 Reservation released",
		zap.String("reservation_id", res.ID),
		zap.String("sku", res.SKU),
		zap.String("state", string(res.State)),
		zap.Int("available", available),
	)
	return res, nil
}

// Sweep expires overdue reservations.
func (s *Service) Sweep(ctx context.Context) []ledger.Reservation {
	_, span := s.tracer.Start(ctx, "reservation.sweep")
	defer span.End()

	expired := s.ledger.Sweep(s.now())
	span.SetAttributes(attribute.Int("reservation.expired_count", len(expired)))

	skus := make(map[string]struct{})
	for _, res := range expired {
		skus[res.SKU] = struct{}{}
		s.logger.Info("⌛ Reservation expired",
			zap.String("reservation_id", res.ID),
			zap.String("sku", res.SKU),
			zap.Int("quantity", res.Quantity),
		)
	}
	for sku := range skus {
		s.observeAvailable(span, sku)
	}
	s.metrics.Expired.Add(float64(len(expired)))
	s.metrics.Operations.WithLabelValues("sweep", "ok").Inc()
	span.SetStatus(codes.Ok, "sweep complete")
	return expired
}

// Adjust applies a restock or shrinkage to a SKU.
func (s *Service) Adjust(ctx context.Context, sku string, delta int) (ledger.StockRecord, error) {
	_, span := s.tracer.Start(ctx, "stock.adjust")
	defer span.End()
	span.SetAttributes(attribute.String("inventory.sku", sku), attribute.Int("inventory.delta", delta))

	rec, err := s.ledger.Adjust(sku, delta)
	if err != nil {
		s.fail(span, "adjust", err, zap.String("sku", sku), zap.Int("delta", delta))
		return ledger.StockRecord{}, err
	}

	s.observeAvailable(span, sku)
	s.metrics.Operations.WithLabelValues("adjust", "ok").Inc()
	span.SetStatus(codes.Ok, "stock adjusted")
	s.logger.Info("📦 Stock adjusted", zap.String("sku", sku), zap.Int("delta", delta), zap.Int("available", rec.Available))
	return rec, nil
}

// SetThreshold changes a SKU's low-stock threshold.
func (s *Service) SetThreshold(ctx context.Context, sku string, threshold int) (ledger.StockRecord, error) {
	_, span := s.tracer.Start(ctx, "stock.set_threshold")
	defer span.End()
	span.SetAttributes(attribute.String("inventory.sku", sku), attribute.Int("inventory.threshold", threshold))

	rec, err := s.ledger.SetThreshold(sku, threshold)
	if err != nil {
		s.fail(span, "set_threshold", err, zap.String("sku", sku))
		return ledger.StockRecord{}, err
	}
	s.metrics.Operations.WithLabelValues("set_threshold", "ok").Inc()
	span.SetStatus(codes.Ok, "threshold updated")
	return rec, nil
}

// Register adds a new SKU.
func (s *Service) Register(ctx context.Context, sku string, available, threshold int) error {
	_, span := s.tracer.Start(ctx, "stock.register")
	defer span.End()
	span.SetAttributes(attribute.String("inventory.sku", sku))

	if err := s.ledger.Register(sku, available, threshold); err != nil {
		s.fail(span, "register", err, zap.String("sku", sku))
		return err
	}
	s.observeAvailable(span, sku)
	s.metrics.Operations.WithLabelValues("register", "ok").Inc()
	span.SetStatus(codes.Ok, "sku registered")
	s.logger.Info("🆕 SKU registered", zap.String("sku", sku), zap.Int("available", available), zap.Int("threshold", threshold))
	return nil
}

// Stock returns the current record of a SKU.
func (s *Service) Stock(_ context.Context, sku string) (ledger.StockRecord, error) {
	return s.ledger.Stock(sku)
}

// AvailableStock returns the available-to-sell quantity of a SKU.
func (s *Service) AvailableStock(_ context.Context, sku string) (int, error) {
	return s.ledger.AvailableStock(sku)
}

// Reservation returns a reservation by id.
func (s *Service) Reservation(_ context.Context, reservationID string) (ledger.Reservation, error) {
	return s.ledger.Reservation(reservationID)
}

func (s *Service) observeAvailable(span trace.Span, sku string) int {
	available, err := s.ledger.AvailableStock(sku)
	if err != nil {
		return 0
	}
	s.metrics.Available.WithLabelValues(sku).Set(float64(available))
	span.SetAttributes(attribute.Int("inventory.available", available))
	return available
}

func (s *Service) succeed(span trace.Span, operation string, res ledger.Reservation) {
	s.metrics.Operations.WithLabelValues(operation, "ok").Inc()
	span.SetAttributes(attribute.String("reservation.state", string(res.State)))
	span.SetStatus(codes.Ok, "reservation "+string(res.State))
}

func (s *Service) fail(span trace.Span, operation string, err error, fields ...zap.Field) {
	reason := Reason(err)
	s.metrics.Operations.WithLabelValues(operation, reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)

	fields = append(fields, zap.Error(err), zap.String("reason", reason))
	if reason == ReasonInsufficientStock {
		// Expected during normal checkout traffic.
		s.logger.Info("⚠️ Reservation rejected", fields...)
		return
	}
	s.logger.Warn("❌ Ledger operation failed: "+operation, fields...)
}

// Reason maps a ledger error to the reason code published with
// ReservationRejected.
func Reason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientStock):
		return ReasonInsufficientStock
	case errors.Is(err, ledger.ErrUnknownReservation):
		return ReasonUnknownReservation
	case errors.Is(err, ledger.ErrInvalidTransition):
		return ReasonInvalidTransition
	case errors.Is(err, ledger.ErrDuplicateReservation):
		return ReasonDuplicate
	case errors.Is(err, ledger.ErrUnknownSKU):
		return ReasonUnknownSKU
	default:
		return ReasonInvalidRequest
	}
}

// IsRejection reports whether err is a business outcome to report back to
// the caller rather than an infrastructure failure.
func IsRejection(err error) bool {
	for _, target := range []error{
		ledger.ErrInsufficientStock,
		ledger.ErrUnknownReservation,
		ledger.ErrInvalidTransition,
		ledger.ErrDuplicateReservation,
		ledger.ErrUnknownSKU,
		ledger.ErrInvalidArgument,
		ledger.ErrSKUExists,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
