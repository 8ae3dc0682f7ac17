// Package nats is an alternate transport.Transport backed by NATS
// JetStream, using github.com/nats-io/nats.go and its jetstream
// subpackage for persistence and at-least-once delivery.
//
// A queueName maps to a JetStream stream/subject pair, and AssertAndConsume
// creates or updates a durable consumer for it. DeliveryTag has no native
// JetStream equivalent, so Channel keeps an in-memory table from an
// incrementing tag to the jetstream.Msg that must be acked or nak'd.
package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/go-coworkers/coworkers/transport"
)

func init() {
	transport.Register("nats", func() transport.Transport { return New() })
}

// Transport dials NATS connections and wraps them with JetStream.
type Transport struct {
	opts options
}

// New returns a nats Transport. fns configure default stream/consumer
// behavior applied to every queue this transport asserts.
func New(fns ...Option) *Transport {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Transport{opts: opts}
}

func (t *Transport) Connect(ctx context.Context, url string, socketOpts transport.SocketOptions) (transport.Connection, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("coworkers/transport/nats: connect to %q: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("coworkers/transport/nats: init jetstream: %w", err)
	}

	group, _ := socketOpts["group"].(string)

	return &Connection{conn: nc, js: js, group: group, opts: t.opts}, nil
}

// Connection wraps a live NATS connection and its JetStream context.
type Connection struct {
	conn  *nats.Conn
	js    jetstream.JetStream
	group string
	opts  options
}

func (c *Connection) OpenChannel(ctx context.Context) (transport.Channel, error) {
	return &Channel{js: c.js, group: c.group, opts: c.opts}, nil
}

func (c *Connection) Close() error {
	c.conn.Close()
	return nil
}

// Channel multiplexes consumers and publishes over one JetStream context.
type Channel struct {
	js    jetstream.JetStream
	group string
	opts  options

	mu      sync.Mutex
	subs    map[string]jetstream.ConsumeContext // consumerTag -> active consume
	pending map[uint64]jetstream.Msg
	nextTag uint64
}

func (c *Channel) SetPrefetch(count int) error { return nil }

func (c *Channel) AssertAndConsume(ctx context.Context, queueName string, queueOpts transport.QueueOptions, consumeOpts transport.ConsumeOptions, onMessage transport.DeliveryFunc) (string, error) {
	streamName := sanitizeStreamName(queueName)
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{queueName},
		MaxMsgs:   c.opts.maxMsgs,
		MaxBytes:  c.opts.maxBytes,
		MaxAge:    c.opts.maxAge,
		Replicas:  c.opts.replicas,
		Retention: c.opts.retention,
		Storage:   c.opts.storage,
	})
	if err != nil {
		return "", fmt.Errorf("coworkers/transport/nats: create stream %q: %w", streamName, err)
	}

	consumerName := c.group
	if g, ok := consumeOpts["group"].(string); ok && g != "" {
		consumerName = g
	}
	if consumerName == "" {
		consumerName = "coworkers-" + streamName
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    consumerName,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    c.opts.ackWait,
		MaxDeliver: c.opts.maxDeliver,
	})
	if err != nil {
		return "", fmt.Errorf("coworkers/transport/nats: create consumer %q: %w", consumerName, err)
	}

	cc, err := cons.Consume(func(jsMsg jetstream.Msg) {
		c.mu.Lock()
		c.nextTag++
		tag := c.nextTag
		if c.pending == nil {
			c.pending = make(map[uint64]jetstream.Msg)
		}
		c.pending[tag] = jsMsg
		c.mu.Unlock()
		onMessage(toDelivery(jsMsg, tag))
	})
	if err != nil {
		return "", fmt.Errorf("coworkers/transport/nats: start consume on %q: %w", consumerName, err)
	}

	consumerTag := consumerName
	c.mu.Lock()
	if c.subs == nil {
		c.subs = make(map[string]jetstream.ConsumeContext)
	}
	c.subs[consumerTag] = cc
	c.mu.Unlock()

	return consumerTag, nil
}

func (c *Channel) Cancel(ctx context.Context, consumerTag string) error {
	c.mu.Lock()
	cc, ok := c.subs[consumerTag]
	delete(c.subs, consumerTag)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coworkers/transport/nats: unknown consumer %q", consumerTag)
	}
	cc.Stop()
	return nil
}

func (c *Channel) Publish(ctx context.Context, exchange, routingKey string, body []byte, opts transport.PublishOptions) error {
	headers := nats.Header{}
	for k, v := range opts.Headers {
		headers.Set(k, fmt.Sprintf("%v", v))
	}
	if opts.ReplyTo != "" {
		headers.Set("reply-to", opts.ReplyTo)
	}
	if opts.CorrelationID != "" {
		headers.Set("correlation-id", opts.CorrelationID)
	}

	nm := &nats.Msg{Subject: routingKey, Data: body, Header: headers}
	if _, err := c.js.PublishMsg(ctx, nm); err != nil {
		return fmt.Errorf("coworkers/transport/nats: publish to %q: %w", routingKey, err)
	}
	return nil
}

func (c *Channel) Ack(ctx context.Context, deliveryTag uint64) error {
	c.mu.Lock()
	msg, ok := c.pending[deliveryTag]
	delete(c.pending, deliveryTag)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coworkers/transport/nats: unknown delivery tag %d", deliveryTag)
	}
	if err := msg.Ack(); err != nil {
		return fmt.Errorf("coworkers/transport/nats: ack: %w", err)
	}
	return nil
}

func (c *Channel) Nack(ctx context.Context, deliveryTag uint64, requeue bool) error {
	c.mu.Lock()
	msg, ok := c.pending[deliveryTag]
	delete(c.pending, deliveryTag)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coworkers/transport/nats: unknown delivery tag %d", deliveryTag)
	}
	if err := msg.Nak(); err != nil {
		return fmt.Errorf("coworkers/transport/nats: nack: %w", err)
	}
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cc := range c.subs {
		cc.Stop()
	}
	return nil
}

func toDelivery(msg jetstream.Msg, tag uint64) transport.Delivery {
	raw := msg.Headers()
	headers := make(map[string]any, len(raw))
	var replyTo, correlationID string
	for k, v := range raw {
		if len(v) == 0 {
			continue
		}
		switch k {
		case "reply-to":
			replyTo = v[0]
		case "correlation-id":
			correlationID = v[0]
		default:
			headers[k] = v[0]
		}
	}
	return transport.Delivery{
		Body:          msg.Data(),
		Headers:       headers,
		ReplyTo:       replyTo,
		CorrelationID: correlationID,
		RoutingKey:    msg.Subject(),
		DeliveryTag:   tag,
	}
}

// sanitizeStreamName converts a subject pattern to a valid stream name by
// replacing wildcard/separator characters JetStream rejects in names.
func sanitizeStreamName(subject string) string {
	buf := make([]byte, len(subject))
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		if c == '.' || c == '*' || c == '>' {
			buf[i] = '-'
		} else {
			buf[i] = c
		}
	}
	return string(buf)
}
