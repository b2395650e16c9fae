package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

const defaultBuriedSuffix = ".buried"

// RabbitMQBackendConfig configures the RabbitMQ backend.
type RabbitMQBackendConfig struct {
	URL              string
	OperationTimeout time.Duration
	// BuriedSuffix names the queue receiving buried jobs of a tube.
	BuriedSuffix string
}

func (c *RabbitMQBackendConfig) normalize() {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 10 * time.Second
	}
	if strings.TrimSpace(c.BuriedSuffix) == "" {
		c.BuriedSuffix = defaultBuriedSuffix
	}
}

// amqpChannel is the subset of *amqp.Channel used by RabbitMQBackend.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Close() error
}

// RabbitMQBackend maps each tube onto a durable queue reached through the
// default exchange.
type RabbitMQBackend struct {
	conn   *amqp.Connection
	ch     amqpChannel
	log    logger.Logger
	config RabbitMQBackendConfig

	chMu     sync.Mutex
	declared map[string]bool

	mu     sync.RWMutex
	closed bool
}

// NewRabbitMQBackend dials the broker and opens the channel shared by all tubes.
func NewRabbitMQBackend(cfg RabbitMQBackendConfig, log logger.Logger) (*RabbitMQBackend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create rabbitmq channel: %w", err)
	}

	backend := newRabbitMQBackendWithChannel(ch, cfg, log)
	backend.conn = conn
	return backend, nil
}

func newRabbitMQBackendWithChannel(ch amqpChannel, cfg RabbitMQBackendConfig, log logger.Logger) *RabbitMQBackend {
	cfg.normalize()
	return &RabbitMQBackend{ch: ch, log: log, config: cfg, declared: map[string]bool{}}
}

func (b *RabbitMQBackend) Push(ctx context.Context, tube, name string, payload []byte) (string, error) {
	return b.PushDelayed(ctx, 0, tube, name, payload)
}

// PushDelayed parks delayed jobs in "<tube>.delay.<ms>", a queue whose
// message TTL dead-letters them back onto the tube.
func (b *RabbitMQBackend) PushDelayed(ctx context.Context, delay time.Duration, tube, name string, payload []byte) (string, error) {
	if err := b.ensureOpen(); err != nil {
		return "", err
	}
	env, err := newEnvelope(tube, name, payload)
	if err != nil {
		return "", err
	}
	body, err := encodeEnvelope(env)
	if err != nil {
		return "", err
	}

	b.chMu.Lock()
	defer b.chMu.Unlock()

	if err := b.declareLocked(env.Tube, nil); err != nil {
		return "", err
	}
	target := env.Tube
	if delay > 0 {
		ms := delay.Milliseconds()
		target = env.Tube + ".delay." + strconv.FormatInt(ms, 10)
		if err := b.declareLocked(target, amqp.Table{
			"x-message-ttl":             ms,
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": env.Tube,
		}); err != nil {
			return "", err
		}
	}

	if err := b.publishLocked(ctx, target, env.ID, body); err != nil {
		return "", err
	}
	recordJobPushed("rabbitmq", env.Tube)
	return env.ID, nil
}

// Size returns the ready message count reported by a passive declare.
func (b *RabbitMQBackend) Size(ctx context.Context, tube string) (int64, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	tube, err := validateTube(tube)
	if err != nil {
		return 0, err
	}
	b.chMu.Lock()
	defer b.chMu.Unlock()
	q, err := b.ch.QueueDeclarePassive(tube, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect rabbitmq queue %s: %w", tube, err)
	}
	return int64(q.Messages), nil
}

func (b *RabbitMQBackend) Pop(ctx context.Context, tube string) (Job, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	tube, err := validateTube(tube)
	if err != nil {
		return nil, err
	}

	b.chMu.Lock()
	if err := b.declareLocked(tube, nil); err != nil {
		b.chMu.Unlock()
		return nil, err
	}
	delivery, ok, err := b.ch.Get(tube, false)
	b.chMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to get rabbitmq message: %w", err)
	}
	if !ok {
		return nil, nil
	}

	env, err := decodeEnvelope(delivery.Body)
	if err != nil {
		b.log.Warn("discarding malformed rabbitmq message", "tube", tube, "message_id", delivery.MessageId, "error", err)
		_ = delivery.Ack(false)
		return nil, nil
	}
	env.Tube = tube
	env.Attempts = deliveryAttempts(delivery)

	return &buriableJob{
		reservedJob: &reservedJob{
			env:       env,
			deleteFn:  func(context.Context) error { return delivery.Ack(false) },
			releaseFn: func(context.Context) error { return delivery.Nack(false, true) },
		},
		buryFn: func(ctx context.Context) error {
			buried := tube + b.config.BuriedSuffix
			b.chMu.Lock()
			err := b.declareLocked(buried, nil)
			if err == nil {
				err = b.publishLocked(ctx, buried, env.ID, delivery.Body)
			}
			b.chMu.Unlock()
			if err != nil {
				return err
			}
			return delivery.Ack(false)
		},
	}, nil
}

func (b *RabbitMQBackend) AutoDeletes() bool { return false }

// HealthCheck reports whether the broker connection is still open.
func (b *RabbitMQBackend) HealthCheck(context.Context) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if b.conn != nil && b.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

func (b *RabbitMQBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var errs []error
	if b.ch != nil {
		if err := b.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *RabbitMQBackend) declareLocked(name string, args amqp.Table) error {
	if b.declared[name] {
		return nil
	}
	if _, err := b.ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare rabbitmq queue %s: %w", name, err)
	}
	b.declared[name] = true
	return nil
}

func (b *RabbitMQBackend) publishLocked(ctx context.Context, queue, id string, body []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opCtx, cancel := context.WithTimeout(ctx, b.config.OperationTimeout)
	defer cancel()
	err := b.ch.PublishWithContext(opCtx, "", queue, false, false, amqp.Publishing{
		MessageId:    id,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish rabbitmq message: %w", err)
	}
	return nil
}

func (b *RabbitMQBackend) ensureOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return queueError(ErrClosed, "rabbitmq backend is closed")
	}
	return nil
}

// deliveryAttempts prefers the quorum queue delivery counter and falls back
// to the redelivered bit of classic queues.
func deliveryAttempts(d amqp.Delivery) int {
	switch count := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(count) + 1
	case int32:
		return int(count) + 1
	case int:
		return count + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}
