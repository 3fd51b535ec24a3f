package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// broker is an in-memory stand-in for a RabbitMQ server: publishing to the
// default exchange delivers to the queue named by the routing key.
type broker struct {
	mu        sync.Mutex
	queues    map[string]chan amqp.Delivery
	seq       int
	published []amqp.Publishing
}

func newBroker() *broker {
	return &broker{queues: map[string]chan amqp.Delivery{}}
}

func (b *broker) queue(name string) chan amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan amqp.Delivery, 16)
		b.queues[name] = q
	}
	return q
}

func (b *broker) lastPublished() amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[len(b.published)-1]
}

type mockChannel struct {
	b          *broker
	closed     bool
	declareErr error
	consumeErr error
	publishErr error
	// drop swallows publishes so calls wait forever
	drop bool
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if m.declareErr != nil {
		return amqp.Queue{}, m.declareErr
	}
	if name == "" {
		m.b.mu.Lock()
		m.b.seq++
		name = fmt.Sprintf("amq.gen-%d", m.b.seq)
		m.b.mu.Unlock()
	}
	m.b.queue(name)
	return amqp.Queue{Name: name}, nil
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.b.mu.Lock()
	m.b.published = append(m.b.published, msg)
	m.b.mu.Unlock()
	if m.drop {
		return nil
	}
	d := deliveryOf(msg)
	d.RoutingKey = key
	m.b.queue(key) <- d
	return nil
}

func (m *mockChannel) ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if m.consumeErr != nil {
		return nil, m.consumeErr
	}
	src := m.b.queue(queue)
	out := make(chan amqp.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case d := <-src:
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *mockChannel) Close() error { m.closed = true; return nil }

type mockConn struct {
	ch     *mockChannel
	closed bool
}

func (c *mockConn) Channel() (amqpChannel, error) { return c.ch, nil }
func (c *mockConn) Close() error                  { c.closed = true; return nil }

type errConn struct{}

func (e *errConn) Channel() (amqpChannel, error) { return nil, fmt.Errorf("chan") }
func (e *errConn) Close() error                  { return nil }

func deliveryOf(msg amqp.Publishing) amqp.Delivery {
	return amqp.Delivery{
		Headers:       msg.Headers,
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		Type:          msg.Type,
		Body:          msg.Body,
	}
}
