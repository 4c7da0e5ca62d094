package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"reservationservice/internal/ledger"
	"reservationservice/internal/platform/metrics"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureProducer struct {
	mu       sync.Mutex
	messages []kafkago.Message
	err      error
	failures int
}

// failNext makes the next n writes fail with errBroker.
func (p *captureProducer) failNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

func (p *captureProducer) WriteMessage(_ context.Context, msg kafkago.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.failures > 0 {
		p.failures--
		return errBroker
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *captureProducer) Close() error { return nil }

func (p *captureProducer) Events(t *testing.T) []ReservationEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	events := make([]ReservationEvent, len(p.messages))
	for i, msg := range p.messages {
		require.NoError(t, json.Unmarshal(msg.Value, &events[i]))
		require.Equal(t, events[i].ReservationID, string(msg.Key))
	}
	return events
}

// chanConsumer serves messages from a channel and blocks until ctx is done
// once it is drained. Committed messages are recorded.
type chanConsumer struct {
	messages chan kafkago.Message
	errs     chan error

	mu        sync.Mutex
	committed []kafkago.Message
}

func newChanConsumer(msgs ...kafkago.Message) *chanConsumer {
	c := &chanConsumer{messages: make(chan kafkago.Message, len(msgs)), errs: make(chan error, 4)}
	for _, m := range msgs {
		c.messages <- m
	}
	return c
}

func (c *chanConsumer) FetchMessage(ctx context.Context, msg *kafkago.Message) error {
	select {
	case err := <-c.errs:
		return err
	default:
	}
	select {
	case m := <-c.messages:
		*msg = m
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *chanConsumer) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, msgs...)
	return nil
}

func (c *chanConsumer) Committed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, len(c.committed))
	for i, m := range c.committed {
		keys[i] = string(m.Key)
	}
	return keys
}

func (c *chanConsumer) Close() error { return nil }

type fixture struct {
	ledger   *ledger.Ledger
	service  *Service
	metrics  *metrics.Metrics
	spans    *tracetest.SpanRecorder
	logs     *observer.ObservedLogs
	logger   *zap.Logger
	clock    *testClock
	producer *captureProducer
	events   *EventPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: testEpoch}
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	m := metrics.New()

	l := ledger.New(ledger.WithClock(clock.Now))
	svc := NewService(l, logger, tp.Tracer("test"), m, 10*time.Minute)
	svc.now = clock.Now

	producer := &captureProducer{}
	return &fixture{
		ledger:   l,
		service:  svc,
		metrics:  m,
		spans:    spans,
		logs:     logs,
		logger:   logger,
		clock:    clock,
		producer: producer,
		events:   NewEventPublisher(producer, logger),
	}
}

func jsonMessage(t *testing.T, key string, v any) kafkago.Message {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return kafkago.Message{Key: []byte(key), Value: payload}
}

var errBroker = errors.New("broker unavailable")
