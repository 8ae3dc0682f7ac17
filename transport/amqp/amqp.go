// Package amqp is the default transport.Transport implementation, talking
// to a RabbitMQ (or any AMQP 0-9-1) broker over github.com/rabbitmq/amqp091-go.
// It is the transport the Lifecycle Coordinator's invariants in SPEC_FULL.md
// are written against; transport/kafka and transport/nats are alternates
// registered the same way but with broker-appropriate semantics.
package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/go-coworkers/coworkers/transport"
)

func init() {
	transport.Register("amqp", func() transport.Transport { return New() })
}

// Transport dials RabbitMQ connections.
type Transport struct {
	opts options
}

// New returns an amqp Transport. fns configure exchange/queue defaults
// applied to every queue this transport asserts, unless overridden per-call
// via QueueOptions/ConsumeOptions.
func New(fns ...Option) *Transport {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Transport{opts: opts}
}

func (t *Transport) Connect(ctx context.Context, url string, socketOpts transport.SocketOptions) (transport.Connection, error) {
	cfg := amqp.Config{}
	if heartbeat, ok := socketOpts["heartbeat"].(int); ok {
		cfg.Heartbeat = time.Duration(heartbeat) * time.Second
	}
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, fmt.Errorf("coworkers/transport/amqp: dial %q: %w", url, err)
	}
	return &Connection{conn: conn, opts: t.opts}, nil
}

// Connection wraps a live *amqp.Connection.
type Connection struct {
	conn *amqp.Connection
	opts options
}

func (c *Connection) OpenChannel(ctx context.Context) (transport.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("coworkers/transport/amqp: open channel: %w", err)
	}
	return &Channel{ch: ch, opts: c.opts}, nil
}

func (c *Connection) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("coworkers/transport/amqp: close connection: %w", err)
	}
	return nil
}

// Channel wraps a live *amqp.Channel. Each channel this package opens is
// single-direction by convention (consume or publish), matching how
// core.Application uses transport.Connection.
type Channel struct {
	ch   *amqp.Channel
	opts options

	mu      sync.Mutex
	tags    map[string]string // consumerTag -> queue name
}

func (c *Channel) SetPrefetch(count int) error {
	if count <= 0 {
		return nil
	}
	if err := c.ch.Qos(count, 0, false); err != nil {
		return fmt.Errorf("coworkers/transport/amqp: set qos: %w", err)
	}
	return nil
}

func (c *Channel) AssertAndConsume(ctx context.Context, queueName string, queueOpts transport.QueueOptions, consumeOpts transport.ConsumeOptions, onMessage transport.DeliveryFunc) (string, error) {
	durable := boolOpt(queueOpts, "durable", c.opts.durable)
	autoDelete := boolOpt(queueOpts, "autoDelete", c.opts.autoDelete)
	exclusive := boolOpt(queueOpts, "exclusive", c.opts.exclusive)
	args := amqpTable(queueOpts["arguments"])

	q, err := c.ch.QueueDeclare(queueName, durable, autoDelete, exclusive, false, args)
	if err != nil {
		return "", fmt.Errorf("coworkers/transport/amqp: declare queue %q: %w", queueName, err)
	}

	if exchange, ok := queueOpts["exchange"].(string); ok && exchange != "" {
		routingKey := queueName
		if rk, ok := queueOpts["routingKey"].(string); ok && rk != "" {
			routingKey = rk
		}
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return "", fmt.Errorf("coworkers/transport/amqp: bind queue %q to exchange %q: %w", q.Name, exchange, err)
		}
	}

	consumerTag := boolOptString(consumeOpts, "consumerTag", "")
	if consumerTag == "" {
		// Without an explicit tag, consume under the queue name so the tag
		// returned below is the one the broker knows and Cancel can use.
		consumerTag = q.Name
	}
	noLocal := boolOpt(consumeOpts, "noLocal", false)
	consumeExclusive := boolOpt(consumeOpts, "exclusive", exclusive)

	deliveries, err := c.ch.Consume(q.Name, consumerTag, false, consumeExclusive, noLocal, false, nil)
	if err != nil {
		return "", fmt.Errorf("coworkers/transport/amqp: consume %q: %w", q.Name, err)
	}

	go func() {
		for d := range deliveries {
			onMessage(toDelivery(d))
		}
	}()

	c.mu.Lock()
	if c.tags == nil {
		c.tags = make(map[string]string)
	}
	c.tags[consumerTag] = q.Name
	c.mu.Unlock()

	return consumerTag, nil
}

func (c *Channel) Cancel(ctx context.Context, consumerTag string) error {
	if err := c.ch.Cancel(consumerTag, false); err != nil {
		return fmt.Errorf("coworkers/transport/amqp: cancel consumer %q: %w", consumerTag, err)
	}
	return nil
}

func (c *Channel) Publish(ctx context.Context, exchange, routingKey string, body []byte, opts transport.PublishOptions) error {
	headers := amqp.Table{}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	err := c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		Body:          body,
		ContentType:   opts.ContentType,
		Headers:       headers,
		ReplyTo:       opts.ReplyTo,
		CorrelationId: opts.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("coworkers/transport/amqp: publish to %q/%q: %w", exchange, routingKey, err)
	}
	return nil
}

func (c *Channel) Ack(ctx context.Context, deliveryTag uint64) error {
	if err := c.ch.Ack(deliveryTag, false); err != nil {
		return fmt.Errorf("coworkers/transport/amqp: ack %d: %w", deliveryTag, err)
	}
	return nil
}

func (c *Channel) Nack(ctx context.Context, deliveryTag uint64, requeue bool) error {
	if err := c.ch.Nack(deliveryTag, false, requeue); err != nil {
		return fmt.Errorf("coworkers/transport/amqp: nack %d: %w", deliveryTag, err)
	}
	return nil
}

func (c *Channel) Close() error {
	if err := c.ch.Close(); err != nil {
		return fmt.Errorf("coworkers/transport/amqp: close channel: %w", err)
	}
	return nil
}

func toDelivery(d amqp.Delivery) transport.Delivery {
	headers := make(map[string]any, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}
	return transport.Delivery{
		Body:          d.Body,
		ContentType:   d.ContentType,
		Headers:       headers,
		ReplyTo:       d.ReplyTo,
		CorrelationID: d.CorrelationId,
		RoutingKey:    d.RoutingKey,
		Redelivered:   d.Redelivered,
		DeliveryTag:   d.DeliveryTag,
	}
}

func boolOpt(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func boolOptString(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

func amqpTable(v any) amqp.Table {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	t := amqp.Table{}
	for k, val := range m {
		t[k] = val
	}
	return t
}
