package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"zenj-service/internal/telemetry"
)

// Publisher publishes JSON events to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher, or a noop publisher when AMQP is
// disabled or the broker cannot be reached at startup.
func NewPublisher(amqpURL, exchange string, logger *zap.Logger) Publisher {
	if amqpURL == "" {
		logger.Info("rabbitmq disabled, using noop", zap.String("reason", "empty amqp url"))
		return noopPublisher{reason: "empty amqp url", logger: logger}
	}

	conn, ch, err := connect(amqpURL, exchange)
	if err != nil {
		logger.Warn("rabbitmq disabled, using noop", zap.Error(err))
		return noopPublisher{reason: err.Error(), logger: logger}
	}

	logger.Info("rabbitmq connected", zap.String("exchange", exchange))
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}
}

// connect dials the broker and declares a durable topic exchange.
func connect(amqpURL, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	// durable, not auto-deleted, not internal, wait for confirmation
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

type amqpPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return p.PublishJSON(ctx, routingKey, event, nil)
}

func (p *amqpPublisher) PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", routingKey, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if len(headers) > 0 {
		msg.Headers = make(amqp.Table, len(headers))
		for key, value := range headers {
			msg.Headers[key] = value
		}
	}

	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

type noopPublisher struct {
	reason string
	logger *zap.Logger
}

func (p noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return p.PublishJSON(ctx, routingKey, event, nil)
}

// PublishJSON drops the event, leaving a debug line so local runs still show
// what would have been sent.
func (p noopPublisher) PublishJSON(_ context.Context, routingKey string, event any, _ map[string]string) error {
	if p.logger == nil {
		return nil
	}
	fields := []zap.Field{zap.String("routing_key", routingKey)}
	if env, ok := event.(telemetry.AuditEnvelope); ok {
		fields = append(fields, zap.String("action", env.Payload.Action), zap.String("request_id", env.RequestID))
	}
	p.logger.Debug("rabbitmq noop publish", fields...)
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why a noop publisher was chosen.
func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
