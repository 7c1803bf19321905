package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared  string
	published []amqp.Publishing
	deliver   chan amqp.Delivery
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if durable {
		f.declared = name
	}
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliver, nil
}

func (f *fakeChannel) Close() error { return nil }

type fakeAck struct{ acked, nacked int }

func (a *fakeAck) Ack(tag uint64, multiple bool) error { a.acked++; return nil }
func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked++
	return nil
}
func (a *fakeAck) Reject(tag uint64, requeue bool) error { return nil }

func TestAMQPBackend_PublishAndAck(t *testing.T) {
	ch := &fakeChannel{deliver: make(chan amqp.Delivery, 2)}
	b, err := newAMQPBackend(ch, "tasks")
	require.NoError(t, err)
	assert.Equal(t, "tasks", ch.declared)

	require.NoError(t, New(b).Enqueue(context.Background(), TaskBotNotifySales, map[string]string{"phone": "1"}))
	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)

	ack := &fakeAck{}
	ch.deliver <- amqp.Delivery{Acknowledger: ack, Body: []byte("not json")}
	ch.deliver <- amqp.Delivery{Acknowledger: ack, Body: msg.Body}

	d, err := b.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ack.nacked, "poison message is dropped")

	var payload map[string]string
	require.NoError(t, json.Unmarshal(d.Task.Payload, &payload))
	assert.Equal(t, "1", payload["phone"])

	require.NoError(t, d.Done(true))
	assert.Equal(t, 1, ack.acked)
}
