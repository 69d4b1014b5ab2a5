package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rentflow/internal/config"
	"rentflow/internal/domain"
	"rentflow/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// EventRecord is the wire form consumed by the notification service.
type EventRecord struct {
	EventID     string                     `json:"event_id"`
	RecipientID int64                      `json:"recipient_id"`
	Kind        models.NotificationKind    `json:"kind"`
	Summary     string                     `json:"summary"`
	Payload     models.NotificationPayload `json:"payload"`
	CreatedAt   time.Time                  `json:"created_at"`
	Attempt     int                        `json:"attempt"`
}

func encodeRecord(n *models.Notification) ([]byte, error) {
	return json.Marshal(EventRecord{
		EventID:     n.EventID,
		RecipientID: n.RecipientID,
		Kind:        n.Kind,
		Summary:     n.Summary,
		Payload:     n.Payload,
		CreatedAt:   n.CreatedAt,
		Attempt:     n.RetryCount + 1,
	})
}

// NewTransport builds the transport selected by cfg.Transport.
func NewTransport(cfg config.NotificationsConfig, amqpCfg config.AMQPConfig, redisClient *redis.Client, logger *zerolog.Logger) (domain.Transport, error) {
	switch cfg.Transport {
	case "", config.TransportNone:
		return NewLogTransport(logger), nil
	case config.TransportRedis:
		if redisClient == nil {
			return nil, errors.New("redis transport requires a redis client")
		}
		return NewRedisTransport(redisClient, cfg.QueueKey, cfg.DeadLetterKey), nil
	case config.TransportAMQP:
		return NewAMQPTransport(amqpCfg.URL, amqpCfg.Queue)
	default:
		return nil, fmt.Errorf("unsupported notification transport %q", cfg.Transport)
	}
}

// LogTransport only logs records; used when no external service is configured.
type LogTransport struct {
	logger *zerolog.Logger
}

func NewLogTransport(logger *zerolog.Logger) *LogTransport {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Publish(_ context.Context, n *models.Notification) error {
	t.logger.Info().
		Str("event_id", n.EventID).
		Str("kind", string(n.Kind)).
		Int64("recipient_id", n.RecipientID).
		Msg(n.Summary)
	return nil
}

func (t *LogTransport) DeadLetter(_ context.Context, n *models.Notification) error {
	t.logger.Warn().Str("event_id", n.EventID).Msg("notification dead-lettered")
	return nil
}

func (t *LogTransport) Close() error { return nil }

// RedisTransport pushes records onto a redis list for the notification service.
type RedisTransport struct {
	client        *redis.Client
	queueKey      string
	deadLetterKey string
}

func NewRedisTransport(client *redis.Client, queueKey, deadLetterKey string) *RedisTransport {
	return &RedisTransport{client: client, queueKey: queueKey, deadLetterKey: deadLetterKey}
}

func (t *RedisTransport) Publish(ctx context.Context, n *models.Notification) error {
	return t.push(ctx, t.queueKey, n)
}

func (t *RedisTransport) DeadLetter(ctx context.Context, n *models.Notification) error {
	return t.push(ctx, t.deadLetterKey, n)
}

func (t *RedisTransport) push(ctx context.Context, key string, n *models.Notification) error {
	data, err := encodeRecord(n)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", n.EventID, err)
	}
	if err := t.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the redis client is shared with the limiter.
func (t *RedisTransport) Close() error { return nil }

// AMQPTransport publishes persistent records to a durable queue.
type AMQPTransport struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	queue     string
	deadQueue string
}

func NewAMQPTransport(url, queue string) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	t := &AMQPTransport{conn: conn, ch: ch, queue: queue, deadQueue: queue + ".deadletter"}
	for _, q := range []string{t.queue, t.deadQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("amqp declare %s: %w", q, err)
		}
	}
	return t, nil
}

func (t *AMQPTransport) Publish(_ context.Context, n *models.Notification) error {
	return t.publish(t.queue, n)
}

func (t *AMQPTransport) DeadLetter(_ context.Context, n *models.Notification) error {
	return t.publish(t.deadQueue, n)
}

func (t *AMQPTransport) publish(queue string, n *models.Notification) error {
	body, err := encodeRecord(n)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", n.EventID, err)
	}
	err = t.ch.Publish("", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.EventID,
		Timestamp:    n.CreatedAt,
		Type:         string(n.Kind),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish to %s: %w", queue, err)
	}
	return nil
}

func (t *AMQPTransport) Close() error {
	var errs []error
	if t.ch != nil {
		errs = append(errs, t.ch.Close())
	}
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
	}
	return errors.Join(errs...)
}
