package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes jobs to a durable topic exchange on RabbitMQ.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials url and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish sends payload as a persistent message.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, publishing(payload))
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func publishing(payload []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		_ = p.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}
	return p.conn.Close()
}

// AMQPConsumer reads jobs for a set of listeners from RabbitMQ. Each listener
// gets a durable queue named after it, bound to its routing key.
type AMQPConsumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queues   []string
	prefetch int
}

// NewAMQPConsumer declares the exchange and one queue per listener.
func NewAMQPConsumer(url, exchange, prefix string, listeners []string, prefetch int) (*AMQPConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	fail := func(err error) (*AMQPConsumer, error) {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fail(fmt.Errorf("declare exchange %s: %w", exchange, err))
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fail(fmt.Errorf("set prefetch: %w", err))
	}
	for _, name := range listeners {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fail(fmt.Errorf("declare queue %s: %w", name, err))
		}
		if err := ch.QueueBind(name, RoutingKey(prefix, name), exchange, false, nil); err != nil {
			return fail(fmt.Errorf("bind queue %s: %w", name, err))
		}
	}
	return &AMQPConsumer{conn: conn, ch: ch, queues: listeners, prefetch: prefetch}, nil
}

// Delivery is a consumed message with its acknowledgement.
type Delivery struct {
	RoutingKey string
	Body       []byte
	// Settle acks the message on nil and rejects it without requeue
	// otherwise; consumers own retries.
	Settle func(err error)
}

// Consume streams deliveries from every listener queue until ctx ends or the
// connection closes.
func (c *AMQPConsumer) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	var sources []<-chan amqp.Delivery
	for _, name := range c.queues {
		msgs, err := c.ch.ConsumeWithContext(ctx, name, "", false, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("consume %s: %w", name, err)
		}
		sources = append(sources, msgs)
	}
	done := make(chan struct{}, len(sources))
	for _, msgs := range sources {
		go func(msgs <-chan amqp.Delivery) {
			defer func() { done <- struct{}{} }()
			for d := range msgs {
				select {
				case out <- toDelivery(d):
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}(msgs)
	}
	go func() {
		for range sources {
			<-done
		}
		close(out)
	}()
	return out, nil
}

func toDelivery(d amqp.Delivery) Delivery {
	return Delivery{
		RoutingKey: d.RoutingKey,
		Body:       d.Body,
		Settle: func(err error) {
			if err != nil {
				_ = d.Nack(false, false)
				return
			}
			_ = d.Ack(false)
		},
	}
}

// Close closes the channel and the connection.
func (c *AMQPConsumer) Close() error {
	if err := c.ch.Close(); err != nil {
		_ = c.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}
	return c.conn.Close()
}
