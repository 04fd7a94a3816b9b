package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/metrics"
	"github.com/vhvplatform/go-smart-notification-service/internal/service"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/rabbitmq"
)

const (
	exchangeKind = "topic"
	routingKey   = "community.#"
	consumerTag  = "smart-notification-service"
	prefetch     = 32
	eventTimeout = 30 * time.Second
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// Broker is the subset of the RabbitMQ client the consumer uses
type Broker interface {
	DeclareExchange(name, kind string) error
	DeclareQueue(name string) error
	BindQueue(queue, routingKey, exchange string) error
	SetPrefetch(count int) error
	Consume(queue, consumerTag string) (<-chan rabbitmq.Message, error)
	Close() error
}

// Dialer opens a fresh broker connection
type Dialer func() (Broker, error)

// EventProcessor fans a community event out to its recipients
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event *domain.CommunityEvent) (service.FanOutResult, error)
}

type disposition int

const (
	ack disposition = iota
	reject
)

// EventConsumer consumes community events from RabbitMQ
type EventConsumer struct {
	dial      Dialer
	processor EventProcessor
	exchange  string
	queue     string
	retry     time.Duration
	log       *logger.Logger
}

// NewEventConsumer creates a new event consumer
func NewEventConsumer(dial Dialer, processor EventProcessor, exchange, queue string, log *logger.Logger) *EventConsumer {
	return &EventConsumer{
		dial:      dial,
		processor: processor,
		exchange:  exchange,
		queue:     queue,
		retry:     time.Second,
		log:       log,
	}
}

// Run consumes until ctx is cancelled, reconnecting with exponential backoff
// whenever the connection drops
func (c *EventConsumer) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry
	bo.MaxInterval = 30 * c.retry
	bo.MaxElapsedTime = 0

	for {
		err := c.consume(ctx, bo)
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()
		c.log.Warn("Event consumer stopped, restarting", "error", err, "retry_in", wait)
		metrics.ConsumerRestarts.Inc()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *EventConsumer) consume(ctx context.Context, bo backoff.BackOff) error {
	broker, err := c.dial()
	if err != nil {
		return err
	}
	defer broker.Close()

	if err := c.setup(broker); err != nil {
		return err
	}

	messages, err := broker.Consume(c.queue, consumerTag)
	if err != nil {
		c.log.Error("Failed to start consuming", "error", err)
		return err
	}

	c.log.Info("Event consumer started", "exchange", c.exchange, "queue", c.queue)
	bo.Reset()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errDeliveriesClosed
			}
			c.settle(&msg, c.handle(ctx, msg.RoutingKey, msg.Body))
		}
	}
}

func (c *EventConsumer) setup(broker Broker) error {
	if err := broker.DeclareExchange(c.exchange, exchangeKind); err != nil {
		c.log.Error("Failed to declare exchange", "error", err)
		return err
	}
	if err := broker.DeclareQueue(c.queue); err != nil {
		c.log.Error("Failed to declare queue", "error", err)
		return err
	}
	if err := broker.BindQueue(c.queue, routingKey, c.exchange); err != nil {
		c.log.Error("Failed to bind queue", "error", err)
		return err
	}
	return broker.SetPrefetch(prefetch)
}

// handle processes one delivery. Enqueue failures never fail the event, so
// the only outcome besides ack is rejecting a payload that can never succeed.
func (c *EventConsumer) handle(ctx context.Context, key string, body []byte) disposition {
	var event domain.CommunityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.log.Error("Failed to unmarshal event", "routing_key", key, "error", err)
		metrics.EventsConsumed.WithLabelValues("unknown", "invalid").Inc()
		return reject
	}

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	result, err := c.processor.ProcessEvent(ctx, &event)
	if err != nil {
		c.log.Warn("Rejecting event", "event_id", event.ID, "type", event.Type, "error", err)
		metrics.EventsConsumed.WithLabelValues(string(event.Type), "invalid").Inc()
		return reject
	}

	metrics.EventsConsumed.WithLabelValues(string(event.Type), "processed").Inc()
	c.log.Debug("Event processed",
		"event_id", event.ID,
		"type", event.Type,
		"recipients", result.Recipients,
		"enqueued", result.Enqueued,
		"dropped", result.Dropped,
	)
	return ack
}

func (c *EventConsumer) settle(msg *rabbitmq.Message, d disposition) {
	var err error
	switch d {
	case ack:
		err = msg.Ack(false)
	case reject:
		err = msg.Nack(false, false) // Don't requeue invalid messages
	}
	if err != nil {
		c.log.Error("Failed to settle message", "routing_key", msg.RoutingKey, "error", err)
	}
}
