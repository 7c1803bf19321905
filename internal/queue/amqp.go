package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// amqpChannel is the subset of *amqp.Channel the backend uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQPBackend publishes persistent JSON envelopes to a durable queue.
// Deliveries are acked after the handler finishes; failures are dropped, not requeued.
type AMQPBackend struct {
	conn  *amqp.Connection
	ch    amqpChannel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

func DialAMQP(url, queue string) (*AMQPBackend, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP server: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	b, err := newAMQPBackend(ch, queue)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	b.conn = conn
	return b, nil
}

func newAMQPBackend(ch amqpChannel, queue string) (*AMQPBackend, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	return &AMQPBackend{ch: ch, queue: queue}, nil
}

func (a *AMQPBackend) Push(ctx context.Context, t Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return a.ch.Publish("", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    t.EnqueuedAt,
		Type:         t.Name,
		Body:         body,
	})
}

func (a *AMQPBackend) consume() (<-chan amqp.Delivery, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deliveries != nil {
		return a.deliveries, nil
	}
	d, err := a.ch.Consume(a.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", a.queue, err)
	}
	a.deliveries = d
	return d, nil
}

func (a *AMQPBackend) Pop(ctx context.Context) (*Delivery, error) {
	deliveries, err := a.consume()
	if err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil, ErrClosed
			}
			var t Task
			if err := json.Unmarshal(d.Body, &t); err != nil {
				// Poison message.
				_ = d.Nack(false, false)
				continue
			}
			return &Delivery{Task: t, done: func(ok bool) error {
				if ok {
					return d.Ack(false)
				}
				return d.Nack(false, false)
			}}, nil
		}
	}
}

func (a *AMQPBackend) Close() error {
	err := a.ch.Close()
	if a.conn != nil {
		if cerr := a.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
