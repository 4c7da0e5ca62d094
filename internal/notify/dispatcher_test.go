package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"reservationservice/internal/ledger"
	"reservationservice/internal/platform/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type flakyProducer struct {
	mu       sync.Mutex
	failures int
	calls    int
	written  []kafkago.Message
}

func (p *flakyProducer) WriteMessage(_ context.Context, msg kafkago.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.written = append(p.written, msg)
	return nil
}

func (p *flakyProducer) Close() error { return nil }

func (p *flakyProducer) Written() []kafkago.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafkago.Message(nil), p.written...)
}

func newTestDispatcher(producer *flakyProducer, queueSize, maxRetries int) (*Dispatcher, *metrics.Metrics, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	m := metrics.New()
	d := NewDispatcher(producer, zap.New(core), m, queueSize, maxRetries,
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	return d, m, logs
}

func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDispatcherPublishesAfterRetries(t *testing.T) {
	producer := &flakyProducer{failures: 2}
	d, m, _ := newTestDispatcher(producer, 8, 5)
	runDispatcher(t, d)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d.NotifyLowStock(ledger.LowStockEvent{SKU: "X", AvailableQuantity: 4, Threshold: 5, OccurredAt: at})

	require.Eventually(t, func() bool { return len(producer.Written()) == 1 }, time.Second, 5*time.Millisecond)

	msg := producer.Written()[0]
	assert.Equal(t, "X", string(msg.Key))
	var alert LowStockAlert
	require.NoError(t, json.Unmarshal(msg.Value, &alert))
	assert.Equal(t, "X", alert.SKU)
	assert.Equal(t, 4, alert.AvailableQuantity)
	assert.Equal(t, 5, alert.Threshold)
	assert.True(t, at.Equal(alert.OccurredAt))
	assert.NotEmpty(t, alert.EventID)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.LowStockEvents.WithLabelValues("published")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LowStockEvents.WithLabelValues("emitted")))
}

func TestDispatcherGivesUpAfterMaxRetries(t *testing.T) {
	producer := &flakyProducer{failures: 100}
	d, m, logs := newTestDispatcher(producer, 8, 2)
	runDispatcher(t, d)

	d.NotifyLowStock(ledger.LowStockEvent{SKU: "X", AvailableQuantity: 1})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.LowStockEvents.WithLabelValues("failed")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, producer.Written())
	assert.Equal(t, 1, logs.FilterMessage("❌ Failed to publish LowStockAlert").Len())
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	producer := &flakyProducer{}
	d, m, logs := newTestDispatcher(producer, 1, 0)

	// No worker is running, so the second event finds the queue full.
	d.NotifyLowStock(ledger.LowStockEvent{SKU: "A"})
	d.NotifyLowStock(ledger.LowStockEvent{SKU: "B"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LowStockEvents.WithLabelValues("emitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LowStockEvents.WithLabelValues("dropped")))
	assert.Equal(t, 1, logs.FilterMessage("❌ Low-stock queue full, dropping alert").Len())
}

func TestLedgerTransitionSurvivesDeliveryFailure(t *testing.T) {
	producer := &flakyProducer{failures: 100}
	d, _, _ := newTestDispatcher(producer, 8, 0)
	runDispatcher(t, d)

	l := ledger.New(ledger.WithNotifier(d))
	require.NoError(t, l.Register("X", 6, 5))
	_, err := l.Reserve("X", 3, "r1", time.Minute)
	require.NoError(t, err)

	available, err := l.AvailableStock("X")
	require.NoError(t, err)
	assert.Equal(t, 3, available)
}

func TestDispatcherDrainsQueueOnShutdown(t *testing.T) {
	producer := &flakyProducer{}
	d, m, logs := newTestDispatcher(producer, 8, 0)
	for _, sku := range []string{"A", "B", "C"} {
		d.NotifyLowStock(ledger.LowStockEvent{SKU: sku})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	assert.Len(t, producer.Written(), 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LowStockEvents.WithLabelValues("published")))
	assert.Equal(t, 1, logs.FilterMessage("Low-stock queue drained").Len())
}

func TestDispatcherDrainStopsAtTimeout(t *testing.T) {
	producer := &flakyProducer{failures: 1 << 30}
	core, logs := observer.New(zap.InfoLevel)
	d := NewDispatcher(producer, zap.New(core), metrics.New(), 8, 1<<20,
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(5 * time.Millisecond) }),
		WithDrainTimeout(50*time.Millisecond),
	)
	for _, sku := range []string{"A", "B", "C"} {
		d.NotifyLowStock(ledger.LowStockEvent{SKU: sku})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.NoError(t, d.Run(ctx))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, producer.Written())
	assert.Equal(t, 1, logs.FilterMessage("Low-stock dispatcher stopping with undelivered alerts").Len())
}
