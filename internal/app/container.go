package app

import (
	"context"
	"fmt"

	"reservationservice/internal/config"
	"reservationservice/internal/inventory"
	"reservationservice/internal/ledger"
	"reservationservice/internal/notify"
	"reservationservice/internal/platform/kafka"
	"reservationservice/internal/platform/metrics"
	"reservationservice/internal/platform/observability"
	"reservationservice/internal/store"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Container holds expensive-to-create singleton resources and dependencies
type Container struct {
	config  *config.Config
	logger  *zap.Logger
	tracer  observability.Tracer
	metrics *metrics.Metrics

	ledger     *ledger.Ledger
	store      *store.Store
	dispatcher *notify.Dispatcher
	service    *inventory.Service
	sweeper    *inventory.Sweeper

	checkoutConsumer kafka.Consumer
	restockConsumer  kafka.Consumer
	eventsProducer   kafka.Producer
	alertsProducer   kafka.Producer

	consumers []*inventory.ConsumerService

	otelShutdown observability.ShutdownFunc
}

// NewContainer creates and initializes all infrastructure components
func NewContainer(ctx context.Context) (*Container, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	c := &Container{config: cfg}

	tp, err := c.setupObservability(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.setupKafka(tp); err != nil {
		c.Shutdown(ctx)
		return nil, err
	}

	c.dispatcher = notify.NewDispatcher(c.alertsProducer, c.logger, c.metrics, cfg.NotifierQueueSize, cfg.NotifierMaxRetries)
	c.ledger = ledger.New(ledger.WithNotifier(c.dispatcher))

	if err := c.setupStore(ctx); err != nil {
		c.Shutdown(ctx)
		return nil, err
	}

	c.service = inventory.NewService(c.ledger, c.logger, c.tracer, c.metrics, cfg.DefaultReservationTTL)
	publisher := inventory.NewEventPublisher(c.eventsProducer, c.logger)
	c.sweeper = inventory.NewSweeper(c.service, publisher, c.logger)
	c.consumers = []*inventory.ConsumerService{
		inventory.NewConsumerService(config.CheckoutEventsTopic, c.checkoutConsumer,
			inventory.NewCheckoutHandler(c.service, publisher, c.logger, cfg.MaxReservationTTL), c.logger),
		inventory.NewConsumerService(config.StockAdjustedTopic, c.restockConsumer,
			inventory.NewRestockHandler(c.service, c.logger), c.logger),
	}

	return c, nil
}

// setupObservability configures OpenTelemetry logging and tracing, then
// builds the logger on top of the bridge. Export failures are logged and the
// service carries on with no-op providers.
func (c *Container) setupObservability(ctx context.Context) (trace.TracerProvider, error) {
	bootstrap, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	otelLogShutdown, err := observability.SetupLoggingSDK(ctx, c.config)
	if err != nil {
		bootstrap.Error("Failed to setup OpenTelemetry logging", zap.Error(err))
	}

	sdkTP, otelTraceShutdown, err := observability.SetupTracingSDK(ctx, c.config)
	if err != nil {
		bootstrap.Error("Failed to setup OpenTelemetry tracing", zap.Error(err))
	}
	c.otelShutdown = observability.JoinShutdown(otelLogShutdown, otelTraceShutdown)

	c.logger = observability.NewLogger()
	c.logger.Info("Logger initialized",
		zap.Bool("telemetry_export", c.config.TelemetryEnabled()),
	)

	c.tracer = otel.Tracer(config.ServiceName)
	c.metrics = metrics.New()
	return tracerProvider(sdkTP), nil
}

// tracerProvider keeps a nil SDK provider from becoming a non-nil interface.
func tracerProvider(tp *sdktrace.TracerProvider) trace.TracerProvider {
	if tp == nil {
		return nil
	}
	return tp
}

func (c *Container) setupKafka(tp trace.TracerProvider) error {
	var err error
	if c.checkoutConsumer, err = kafka.NewConsumer(c.config.KafkaBroker, config.CheckoutEventsTopic); err != nil {
		return fmt.Errorf("checkout consumer: %w", err)
	}
	if c.restockConsumer, err = kafka.NewConsumer(c.config.KafkaBroker, config.StockAdjustedTopic); err != nil {
		return fmt.Errorf("restock consumer: %w", err)
	}
	if c.eventsProducer, err = kafka.NewProducer(c.config.KafkaBroker, config.ReservationEventsTopic, tp); err != nil {
		return fmt.Errorf("reservation events producer: %w", err)
	}
	if c.alertsProducer, err = kafka.NewProducer(c.config.KafkaBroker, config.LowStockAlertsTopic, tp); err != nil {
		return fmt.Errorf("low-stock alerts producer: %w", err)
	}
	return nil
}

// setupStore restores the ledger from Postgres when DATABASE_URL is set.
func (c *Container) setupStore(ctx context.Context) error {
	if c.config.DatabaseURL == "" {
		c.logger.Info("No DATABASE_URL configured, ledger runs in memory only")
		return nil
	}

	st, err := store.Open(ctx, c.config.DatabaseURL)
	if err != nil {
		return err
	}
	c.store = st

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	records, reservations, err := st.Load(ctx)
	if err != nil {
		return err
	}
	if err := c.ledger.Load(records, reservations); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}

	c.logger.Info("Ledger restored from storage",
		zap.Int("skus", len(records)),
		zap.Int("reservations", len(reservations)),
	)
	return nil
}

// Checkpoint writes a snapshot of the ledger to storage. It is a no-op
// without a store.
func (c *Container) Checkpoint(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	records, reservations := c.ledger.Snapshot()
	if err := c.store.Save(ctx, records, reservations); err != nil {
		c.metrics.Checkpoints.WithLabelValues("failed").Inc()
		return err
	}
	c.metrics.Checkpoints.WithLabelValues("ok").Inc()
	c.logger.Info("💾 Ledger checkpoint written",
		zap.Int("skus", len(records)),
		zap.Int("reservations", len(reservations)),
	)
	return nil
}

// Shutdown writes a final checkpoint and releases every resource. It is
// safe on a partially built container.
func (c *Container) Shutdown(ctx context.Context) {
	c.logger.Info("Shutting down infrastructure...")

	if c.store != nil && c.ledger != nil {
		if err := c.Checkpoint(ctx); err != nil {
			c.logger.Error("Failed to write final checkpoint", zap.Error(err))
		}
	}

	closers := []struct {
		name   string
		closer interface{ Close() error }
	}{
		{"checkout consumer", c.checkoutConsumer},
		{"restock consumer", c.restockConsumer},
		{"reservation events producer", c.eventsProducer},
		{"low-stock alerts producer", c.alertsProducer},
	}
	for _, cl := range closers {
		if cl.closer == nil {
			continue
		}
		if err := cl.closer.Close(); err != nil {
			c.logger.Error("Failed to close "+cl.name, zap.Error(err))
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Error("Failed to close store", zap.Error(err))
		}
	}

	if c.otelShutdown != nil {
		if err := c.otelShutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown OpenTelemetry", zap.Error(err))
		}
	}

	c.logger.Info("Infrastructure shutdown complete")
	// Sync on stdout returns EINVAL on some platforms; nothing to report.
	_ = c.logger.Sync()
}

func (c *Container) Logger() observability.Logger { return c.logger }
