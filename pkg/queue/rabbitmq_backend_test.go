package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

type published struct {
	queue string
	msg   amqp.Publishing
}

type fakeAcker struct {
	acks  []uint64
	nacks []uint64
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcker) Nack(tag uint64, _ bool, _ bool) error {
	a.nacks = append(a.nacks, tag)
	return nil
}

func (a *fakeAcker) Reject(tag uint64, _ bool) error {
	a.nacks = append(a.nacks, tag)
	return nil
}

type fakeChannel struct {
	declared   map[string]amqp.Table
	published  []published
	deliveries []amqp.Delivery
	messages   int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{declared: map[string]amqp.Table{}}
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	c.declared[name] = args
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueDeclarePassive(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if _, ok := c.declared[name]; !ok {
		return amqp.Queue{}, errors.New("NOT_FOUND")
	}
	return amqp.Queue{Name: name, Messages: c.messages}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.published = append(c.published, published{queue: key, msg: msg})
	return nil
}

func (c *fakeChannel) Get(string, bool) (amqp.Delivery, bool, error) {
	if len(c.deliveries) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := c.deliveries[0]
	c.deliveries = c.deliveries[1:]
	return d, true, nil
}

func (c *fakeChannel) Close() error { return nil }

func TestRabbitMQBackend_PushDelayed(t *testing.T) {
	ch := newFakeChannel()
	b := newRabbitMQBackendWithChannel(ch, RabbitMQBackendConfig{}, logger.Nop())

	if _, err := b.PushDelayed(context.Background(), 1500*time.Millisecond, "mail", "send", []byte("x")); err != nil {
		t.Fatalf("PushDelayed() error = %v", err)
	}
	args, ok := ch.declared["mail.delay.1500"]
	if !ok {
		t.Fatalf("expected delay queue declared, got %v", ch.declared)
	}
	if args["x-message-ttl"] != int64(1500) || args["x-dead-letter-routing-key"] != "mail" {
		t.Fatalf("unexpected delay queue args %v", args)
	}
	if len(ch.published) != 1 || ch.published[0].queue != "mail.delay.1500" {
		t.Fatalf("unexpected publishes %+v", ch.published)
	}
	if ch.published[0].msg.DeliveryMode != amqp.Persistent {
		t.Fatal("jobs must be published as persistent messages")
	}
}

func TestRabbitMQBackend_PopAndSettle(t *testing.T) {
	ch := newFakeChannel()
	b := newRabbitMQBackendWithChannel(ch, RabbitMQBackendConfig{}, logger.Nop())
	env, _ := newEnvelope("mail", "send", []byte("x"))
	body, _ := encodeEnvelope(env)
	acker := &fakeAcker{}
	ch.deliveries = []amqp.Delivery{
		{Acknowledger: acker, DeliveryTag: 1, Body: body, Redelivered: true},
		{Acknowledger: acker, DeliveryTag: 2, Body: body, Headers: amqp.Table{"x-delivery-count": int64(4)}},
	}

	first, err := b.Pop(context.Background(), "mail")
	if err != nil || first == nil {
		t.Fatalf("Pop() = %v, %v", first, err)
	}
	if first.Attempts() != 2 {
		t.Fatalf("redelivered job attempts = %d, want 2", first.Attempts())
	}
	if err := first.Release(context.Background()); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if len(acker.nacks) != 1 || acker.nacks[0] != 1 {
		t.Fatalf("expected nack of tag 1, got %v", acker.nacks)
	}

	second, _ := b.Pop(context.Background(), "mail")
	if second.Attempts() != 5 {
		t.Fatalf("quorum delivery count attempts = %d, want 5", second.Attempts())
	}
	if err := second.(Burier).Bury(context.Background()); err != nil {
		t.Fatalf("Bury() error = %v", err)
	}
	if _, ok := ch.declared["mail.buried"]; !ok {
		t.Fatal("expected buried queue declared")
	}
	last := ch.published[len(ch.published)-1]
	if last.queue != "mail.buried" || last.msg.MessageId != env.ID {
		t.Fatalf("unexpected bury publish %+v", last)
	}
	if len(acker.acks) != 1 || acker.acks[0] != 2 {
		t.Fatalf("expected ack of tag 2 after bury, got %v", acker.acks)
	}
}

func TestRabbitMQBackend_PopEmptyAndSize(t *testing.T) {
	ch := newFakeChannel()
	ch.messages = 4
	b := newRabbitMQBackendWithChannel(ch, RabbitMQBackendConfig{}, logger.Nop())

	job, err := b.Pop(context.Background(), "mail")
	if err != nil || job != nil {
		t.Fatalf("Pop() = %v, %v; want nil, nil", job, err)
	}
	size, err := b.Size(context.Background(), "mail")
	if err != nil || size != 4 {
		t.Fatalf("Size() = %d, %v; want 4", size, err)
	}
}

func TestRabbitMQBackend_Closed(t *testing.T) {
	b := newRabbitMQBackendWithChannel(newFakeChannel(), RabbitMQBackendConfig{}, logger.Nop())
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := b.Push(context.Background(), "mail", "send", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
