package inventory

import (
	"context"
	"errors"
	"time"

	"reservationservice/internal/platform/kafka"
	"reservationservice/internal/platform/observability"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ConsumerService feeds messages from one topic to a handler until its
// context is cancelled.
type ConsumerService struct {
	name           string
	consumer       kafka.Consumer
	messageHandler MessageHandler
	logger         observability.Logger
	newBackOff     func() backoff.BackOff
}

// ConsumerOption configures a ConsumerService.
type ConsumerOption func(*ConsumerService)

// WithRetryBackOff replaces the policy used to retry a failed message.
func WithRetryBackOff(newBackOff func() backoff.BackOff) ConsumerOption {
	return func(c *ConsumerService) { c.newBackOff = newBackOff }
}

func NewConsumerService(name string, consumer kafka.Consumer, messageHandler MessageHandler, logger observability.Logger, opts ...ConsumerOption) *ConsumerService {
	c := &ConsumerService{
		name:           name,
		consumer:       consumer,
		messageHandler: messageHandler,
		logger:         logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start blocks reading messages. A failing message is retried with backoff
// and its offset is committed once the handler succeeds. When ctx is
// cancelled first the offset stays uncommitted and the message is
// redelivered on restart.
func (c *ConsumerService) Start(ctx context.Context) error {
	c.logger.Info("Kafka consumer started. Waiting for messages...", zap.String("consumer", c.name))

	for {
		var msg kafkago.Message
		if err := c.consumer.FetchMessage(ctx, &msg); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.logger.Info("Context done, exiting Kafka read loop.", zap.String("consumer", c.name), zap.Error(err))
				break
			}
			c.logger.Error("❌ Error reading from Kafka", zap.String("consumer", c.name), zap.Error(err))
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Context done before message was handled; leaving offset uncommitted",
					zap.String("consumer", c.name),
					zap.Int64("offset", msg.Offset),
				)
				break
			}
			c.logger.Error("❌ Giving up on message",
				zap.String("consumer", c.name),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}

		if err := c.consumer.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("❌ Failed to commit offset",
				zap.String("consumer", c.name),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}

	c.logger.Info("Consumer service finished. Shutting down...", zap.String("consumer", c.name))
	return nil
}

// handle runs the handler until it succeeds or the retry policy stops.
func (c *ConsumerService) handle(ctx context.Context, msg kafkago.Message) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.messageHandler.HandleMessage(ctx, msg)
		if err != nil {
			c.logger.Error("❌ Failed to handle message",
				zap.String("consumer", c.name),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}, backoff.WithContext(c.newBackOff(), ctx))
}
