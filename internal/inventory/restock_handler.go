package inventory

import (
	"context"
	"encoding/json"
	"errors"

	"reservationservice/internal/ledger"
	"reservationservice/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// RestockHandler applies StockAdjusted events from the admin flow.
type RestockHandler struct {
	service *Service
	logger  observability.Logger
}

func NewRestockHandler(service *Service, logger observability.Logger) *RestockHandler {
	return &RestockHandler{service: service, logger: logger}
}

// HandleMessage registers unknown SKUs that carry InitialAvailable, then
// applies the threshold and delta. Rejected adjustments are logged and
// skipped.
func (h *RestockHandler) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	msgCtx := extractTraceContext(ctx, msg.Headers)

	var event StockAdjustedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("❌ Invalid JSON in StockAdjusted event",
			zap.Error(err),
			zap.ByteString("raw_value", msg.Value),
		)
		return nil
	}

	if err := h.apply(msgCtx, event); err != nil {
		if IsRejection(err) {
			h.logger.Warn("Stock adjustment rejected", zap.String("sku", event.SKU), zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

func (h *RestockHandler) apply(ctx context.Context, event StockAdjustedEvent) error {
	if event.InitialAvailable != nil {
		threshold := 0
		if event.Threshold != nil {
			threshold = *event.Threshold
		}
		// The delta is folded into the opening count so that a new SKU is
		// registered with its final quantity or not at all.
		err := h.service.Register(ctx, event.SKU, *event.InitialAvailable+event.Delta, threshold)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ledger.ErrSKUExists) {
			return err
		}
	}

	if event.Threshold != nil {
		if _, err := h.service.SetThreshold(ctx, event.SKU, *event.Threshold); err != nil {
			return err
		}
	}
	if event.Delta != 0 {
		if _, err := h.service.Adjust(ctx, event.SKU, event.Delta); err != nil {
			return err
		}
	}
	return nil
}
