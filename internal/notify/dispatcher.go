// Package notify delivers low-stock events to the LowStockAlerts topic.
//
// The ledger hands events to a Dispatcher through NotifyLowStock, which only
// enqueues. A single worker publishes them with exponential backoff. A
// failed or dropped delivery never affects the ledger transition that
// produced the event.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"reservationservice/internal/ledger"
	"reservationservice/internal/platform/kafka"
	"reservationservice/internal/platform/metrics"
	"reservationservice/internal/platform/observability"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LowStockAlert is the wire form of a ledger.LowStockEvent.
type LowStockAlert struct {
	EventID           string    `json:"event_id"`
	SKU               string    `json:"sku"`
	AvailableQuantity int       `json:"available_quantity"`
	Threshold         int       `json:"threshold"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type Dispatcher struct {
	queue      chan LowStockAlert
	producer   kafka.Producer
	logger     observability.Logger
	metrics    *metrics.Metrics
	maxRetries uint64
	newBackOff func() backoff.BackOff

	// drainTimeout bounds delivery of queued alerts after Run's context ends.
	drainTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBackOff replaces the default exponential backoff policy.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(d *Dispatcher) { d.newBackOff = newBackOff }
}

// WithDrainTimeout sets how long Run keeps delivering queued alerts after
// its context is cancelled.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.drainTimeout = timeout }
}

// NewDispatcher creates a dispatcher with a queue of queueSize events.
func NewDispatcher(producer kafka.Producer, logger observability.Logger, m *metrics.Metrics, queueSize, maxRetries int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:        make(chan LowStockAlert, queueSize),
		producer:     producer,
		logger:       logger,
		metrics:      m,
		maxRetries:   uint64(maxRetries),
		drainTimeout: 5 * time.Second,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotifyLowStock implements ledger.Notifier. It never blocks: when the queue
// is full the event is dropped and logged.
func (d *Dispatcher) NotifyLowStock(event ledger.LowStockEvent) {
	alert := LowStockAlert{
		EventID:           uuid.NewString(),
		SKU:               event.SKU,
		AvailableQuantity: event.AvailableQuantity,
		Threshold:         event.Threshold,
		OccurredAt:        event.OccurredAt,
	}

	select {
	case d.queue <- alert:
		d.metrics.LowStockEvents.WithLabelValues("emitted").Inc()
	default:
		d.metrics.LowStockEvents.WithLabelValues("dropped").Inc()
		d.logger.Error("❌ Low-stock queue full, dropping alert",
			zap.String("sku", alert.SKU),
			zap.Int("available", alert.AvailableQuantity),
		)
	}
}

// Run publishes queued alerts until ctx is cancelled, then spends up to the
// drain timeout delivering what is still queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Low-stock dispatcher started")
	for {
		if ctx.Err() != nil {
			d.drain()
			return nil
		}
		select {
		case <-ctx.Done():
		case alert := <-d.queue:
			d.deliver(ctx, alert)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	processed := 0
	for ctx.Err() == nil {
		select {
		case alert := <-d.queue:
			d.deliver(ctx, alert)
			processed++
		default:
			d.logger.Info("Low-stock queue drained", zap.Int("processed", processed))
			return
		}
	}
	d.logger.Warn("Low-stock dispatcher stopping with undelivered alerts",
		zap.Int("processed", processed),
		zap.Int("pending", len(d.queue)),
	)
}

func (d *Dispatcher) deliver(ctx context.Context, alert LowStockAlert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		d.metrics.LowStockEvents.WithLabelValues("failed").Inc()
		d.logger.Error("❌ Failed to serialize LowStockAlert", zap.Error(err), zap.String("sku", alert.SKU))
		return
	}
	msg := kafkago.Message{
		Key:   []byte(alert.SKU),
		Value: payload,
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), d.maxRetries), ctx)
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		err := d.producer.WriteMessage(ctx, msg)
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil {
		d.metrics.LowStockEvents.WithLabelValues("failed").Inc()
		d.logger.Error("❌ Failed to publish LowStockAlert",
			zap.Error(err),
			zap.String("sku", alert.SKU),
			zap.Int("attempts", attempt),
		)
		return
	}

	d.metrics.LowStockEvents.WithLabelValues("published").Inc()
	d.logger.Info("📤 Sent LowStockAlert",
		zap.String("sku", alert.SKU),
		zap.Int("available", alert.AvailableQuantity),
		zap.Int("threshold", alert.Threshold),
	)
}
