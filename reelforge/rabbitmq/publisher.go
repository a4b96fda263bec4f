package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	constant "github.com/LerianStudio/lib-reelforge/reelforge/constants"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry"
	"github.com/LerianStudio/lib-reelforge/reelforge/pipeline"
)

var (
	ErrChannelRequired        = errors.New("rabbitmq channel is required")
	ErrConfirmModeUnavailable = errors.New("channel does not support confirm mode")
	ErrPublishNacked          = errors.New("message was nacked by broker")
	ErrConfirmTimeout         = errors.New("confirmation timed out")
	ErrPublisherClosed        = errors.New("publisher is closed")
	ErrConfirmOutOfOrder      = errors.New("confirmation skipped the pending delivery tag")
)

const (
	// DefaultConfirmTimeout bounds the wait for a broker confirmation.
	DefaultConfirmTimeout = 5 * time.Second
	// DefaultRoutingKeyPrefix starts every routing key.
	DefaultRoutingKeyPrefix = "reelforge"

	confirmChannelBuffer = 256
)

// ConfirmableChannel is the subset of *amqp.Channel the publisher uses.
type ConfirmableChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
	Close() error
}

// Option configures a ProgressPublisher.
type Option func(*ProgressPublisher)

// WithLogger sets a structured logger for the publisher.
func WithLogger(logger log.Logger) Option {
	return func(pub *ProgressPublisher) { pub.logger = log.OrNop(logger) }
}

// WithConfirmTimeout sets the timeout for waiting on broker confirmation.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(pub *ProgressPublisher) {
		if timeout > 0 {
			pub.confirmTimeout = timeout
		}
	}
}

// WithRoutingKeyPrefix replaces DefaultRoutingKeyPrefix.
func WithRoutingKeyPrefix(prefix string) Option {
	return func(pub *ProgressPublisher) {
		if prefix = strings.Trim(prefix, "."); prefix != "" {
			pub.prefix = prefix
		}
	}
}

// ProgressPublisher publishes pipeline events with publisher confirms.
type ProgressPublisher struct {
	ch             ConfirmableChannel
	exchange       string
	prefix         string
	confirms       chan amqp.Confirmation
	logger         log.Logger
	confirmTimeout time.Duration
	now            func() time.Time

	// publishMu pairs each publish with its confirmation.
	publishMu sync.Mutex
	closed    bool
	// nextTag is the delivery tag the broker assigns to the next publish.
	// Tags start at 1 once the channel is in confirm mode.
	nextTag uint64
}

var _ pipeline.EventSink = (*ProgressPublisher)(nil)

// NewProgressPublisher puts ch in confirm mode and returns a publisher to
// exchange.
func NewProgressPublisher(ch ConfirmableChannel, exchange string, opts ...Option) (*ProgressPublisher, error) {
	if ch == nil {
		return nil, ErrChannelRequired
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfirmModeUnavailable, err)
	}

	if exchange == "" {
		exchange = DefaultExchange
	}

	confirms := make(chan amqp.Confirmation, confirmChannelBuffer)
	ch.NotifyPublish(confirms)

	pub := &ProgressPublisher{
		ch:             ch,
		exchange:       exchange,
		prefix:         DefaultRoutingKeyPrefix,
		confirms:       confirms,
		logger:         log.NewNop(),
		confirmTimeout: DefaultConfirmTimeout,
		now:            time.Now,
		nextTag:        1,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pub)
		}
	}

	return pub, nil
}

// RoutingKey returns the routing key event is published with.
func (pub *ProgressPublisher) RoutingKey(event pipeline.Event) string {
	return pub.prefix + "." + routingSegment(event.Stage) + "." + routingSegment(event.Status)
}

// routingSegment keeps topic wildcards and separators out of a key segment.
func routingSegment(s string) string {
	if s == "" {
		return "unknown"
	}

	return strings.NewReplacer(".", "_", "*", "_", "#", "_", " ", "_").Replace(strings.ToLower(s))
}

// Publish sends event and waits for the broker to confirm it. Confirms left
// over from earlier publishes that timed out are skipped by delivery tag.
func (pub *ProgressPublisher) Publish(ctx context.Context, event pipeline.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = pub.now()
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    timestamp,
		Type:         "reelforge.progress",
		Headers: amqp.Table(opentelemetry.PrepareQueueHeaders(ctx, map[string]any{
			constant.HeaderJobID: event.JobID,
		})),
		Body: body,
	}

	pub.publishMu.Lock()
	defer pub.publishMu.Unlock()

	if pub.closed {
		return ErrPublisherClosed
	}

	key := pub.RoutingKey(event)

	if err := pub.ch.PublishWithContext(ctx, pub.exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	tag := pub.nextTag
	pub.nextTag++

	if err := pub.waitForConfirm(ctx, tag); err != nil {
		pub.logger.Log(ctx, log.LevelWarn, "progress event not confirmed",
			log.JobID(event.JobID),
			log.String("routing_key", key),
			log.Err(err),
		)

		return err
	}

	return nil
}

// waitForConfirm reads confirmations until the one for tag arrives.
func (pub *ProgressPublisher) waitForConfirm(ctx context.Context, tag uint64) error {
	timeout := time.NewTimer(pub.confirmTimeout)
	defer timeout.Stop()

	for {
		select {
		case confirmed, ok := <-pub.confirms:
			if !ok {
				return ErrPublisherClosed
			}

			switch {
			case confirmed.DeliveryTag < tag:
				pub.logger.Log(ctx, log.LevelDebug, "skipping late confirmation",
					log.Any("delivery_tag", confirmed.DeliveryTag),
					log.Any("pending_tag", tag),
				)

				continue
			case confirmed.DeliveryTag > tag:
				return fmt.Errorf("%w: got %d, want %d", ErrConfirmOutOfOrder, confirmed.DeliveryTag, tag)
			case !confirmed.Ack:
				return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirmed.DeliveryTag)
			}

			return nil
		case <-timeout.C:
			return ErrConfirmTimeout
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		}
	}
}

// Close closes the channel. Publishing afterwards returns ErrPublisherClosed.
func (pub *ProgressPublisher) Close() error {
	pub.publishMu.Lock()
	defer pub.publishMu.Unlock()

	if pub.closed {
		return nil
	}

	pub.closed = true

	if err := pub.ch.Close(); err != nil {
		return fmt.Errorf("closing publisher channel: %w", err)
	}

	return nil
}
