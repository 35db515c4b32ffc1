// Package events publishes engine domain events on a watermill pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/pitabwire/stepwise/internal/observability"
	"github.com/pitabwire/stepwise/model"
)

// Topic is the watermill topic every domain event is published on.
const Topic = "stepwise.domain_events"

// Metadata keys set on every message.
const (
	MetadataType    = "event_type"
	MetadataSource  = "source_module"
	MetadataTargets = "target_modules"
)

// Handler consumes one domain event. A returned error is retried with
// backoff; once retries run out the event is dropped.
type Handler func(ctx context.Context, event model.DomainEvent) error

// Option configures a Bus.
type Option func(*Bus)

// WithRetry sets how often a failing handler is retried and the first
// backoff interval. maxRetries 0 disables retries.
func WithRetry(maxRetries int, initialInterval time.Duration) Option {
	return func(b *Bus) {
		if maxRetries >= 0 {
			b.retry.MaxRetries = maxRetries
		}
		if initialInterval > 0 {
			b.retry.InitialInterval = initialInterval
		}
	}
}

// Bus implements model.EventPublisher over a watermill publisher and
// subscriber.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *zap.Logger
	retry      middleware.Retry
}

// NewBus creates a Bus. sub may be nil for publish-only use. Failing handlers
// are retried 3 times with exponential backoff from 100ms.
func NewBus(pub message.Publisher, sub message.Subscriber, logger *zap.Logger, opts ...Option) *Bus {
	logger = logger.Named("events")
	b := &Bus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
		retry: middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2,
			Logger:          NewLoggerAdapter(logger),
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewGoChannel creates an in-process pub/sub usable as both publisher and
// subscriber.
func NewGoChannel(buffer int64, logger *zap.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            buffer,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		NewLoggerAdapter(logger),
	)
}

// Publish implements model.EventPublisher. The trace context of ctx travels
// in the message metadata.
func (b *Bus) Publish(ctx context.Context, event model.DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal domain event: %w", err)
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(MetadataType, event.Type)
	msg.Metadata.Set(MetadataSource, event.SourceModule)
	msg.Metadata.Set(MetadataTargets, strings.Join(event.TargetModules, ","))
	observability.InjectTraceMetadata(ctx, msg.Metadata)

	if err := b.publisher.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Subscribe delivers every event on Topic to handler until ctx is done.
// Every message is acked: undecodable payloads are logged and skipped, and a
// handler that keeps failing is retried and then given up on.
func (b *Bus) Subscribe(ctx context.Context, handler Handler) error {
	if b.subscriber == nil {
		return fmt.Errorf("events: bus has no subscriber")
	}
	messages, err := b.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	go func() {
		for msg := range messages {
			b.consume(msg, handler)
		}
	}()

	return nil
}

func (b *Bus) consume(msg *message.Message, handler Handler) {
	defer msg.Ack()

	var event model.DomainEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		b.logger.Warn("dropping undecodable event",
			zap.String("message_uuid", msg.UUID),
			zap.Error(err),
		)
		return
	}

	hctx := observability.ExtractTraceMetadata(msg.Context(), msg.Metadata)
	var deliver message.HandlerFunc = func(*message.Message) ([]*message.Message, error) {
		return nil, handler(hctx, event)
	}
	if b.retry.MaxRetries > 0 {
		deliver = b.retry.Middleware(deliver)
	}
	if _, err := deliver(msg); err != nil {
		b.logger.Error("dropping event after handler retries",
			zap.String("event_type", event.Type),
			zap.String("message_uuid", msg.UUID),
			zap.Int("max_retries", b.retry.MaxRetries),
			zap.Error(err),
		)
	}
}

// Close closes the publisher and, when distinct, the subscriber.
func (b *Bus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	if b.subscriber != nil && any(b.subscriber) != any(b.publisher) {
		return b.subscriber.Close()
	}
	return nil
}

var _ model.EventPublisher = (*Bus)(nil)
