// Package kafka is an alternate transport.Transport backed by Apache Kafka
// via github.com/segmentio/kafka-go. Kafka has no connection/channel notion,
// so Connection here is a thin handle around the broker address list and
// consumer group, and Channel lazily owns one shared kafka.Writer plus one
// kafka.Reader per consumed queue (topic).
//
// DeliveryTag has no Kafka equivalent (acks are offset commits keyed by
// partition+offset), so Channel keeps an in-memory table from an
// incrementing tag to the original kafka.Message and the reader that must
// commit it.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/go-coworkers/coworkers/transport"
)

func init() {
	transport.Register("kafka", func() transport.Transport { return New() })
}

// Transport dials Kafka "connections" — in practice just broker address
// bookkeeping, since kafka-go opens actual TCP connections lazily per
// reader/writer.
type Transport struct {
	opts options
}

// New returns a kafka Transport. fns configure default writer/reader
// behavior applied to every channel this transport opens.
func New(fns ...Option) *Transport {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Transport{opts: opts}
}

// Connect parses url as a comma-separated list of broker addresses,
// optionally followed by "/group-name" naming the consumer group (see
// parseURL); socketOpts["group"] overrides that group. No network I/O
// happens here; kafka-go dials lazily.
func (t *Transport) Connect(ctx context.Context, url string, socketOpts transport.SocketOptions) (transport.Connection, error) {
	brokers, group := parseURL(url)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("coworkers/transport/kafka: at least one broker address is required")
	}
	if g, ok := socketOpts["group"].(string); ok && g != "" {
		group = g
	}
	return &Connection{brokers: brokers, group: group, opts: t.opts}, nil
}

// Connection is a Kafka broker-address/consumer-group handle.
type Connection struct {
	brokers []string
	group   string
	opts    options
}

func (c *Connection) OpenChannel(ctx context.Context) (transport.Channel, error) {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(c.brokers...),
		Balancer:     c.opts.balancer,
		BatchSize:    c.opts.batchSize,
		Async:        c.opts.async,
		RequiredAcks: kafkago.RequireAll,
	}
	if c.opts.dialer != nil {
		w.Transport = &kafkago.Transport{TLS: c.opts.dialer.TLS, SASL: c.opts.dialer.SASLMechanism}
	}
	return &Channel{brokers: c.brokers, group: c.group, opts: c.opts, writer: w}, nil
}

func (c *Connection) Close() error { return nil }

// Channel owns one writer shared by every Publish call and one reader per
// topic consumed through AssertAndConsume.
type Channel struct {
	brokers []string
	group   string
	opts    options

	writer *kafkago.Writer

	mu      sync.Mutex
	readers map[string]*kafkago.Reader // queueName -> reader
	pending map[uint64]pendingAck
	nextTag uint64
	cancel  map[string]context.CancelFunc
}

type pendingAck struct {
	reader *kafkago.Reader
	msg    kafkago.Message
}

func (c *Channel) SetPrefetch(count int) error { return nil }

func (c *Channel) AssertAndConsume(ctx context.Context, queueName string, queueOpts transport.QueueOptions, consumeOpts transport.ConsumeOptions, onMessage transport.DeliveryFunc) (string, error) {
	group := c.group
	if g, ok := consumeOpts["group"].(string); ok && g != "" {
		group = g
	}

	cfg := kafkago.ReaderConfig{
		Brokers:  c.brokers,
		Topic:    queueName,
		GroupID:  group,
		MinBytes: c.opts.minBytes,
		MaxBytes: c.opts.maxBytes,
		MaxWait:  c.opts.maxWait,
	}
	if c.opts.dialer != nil {
		cfg.Dialer = c.opts.dialer
	}
	if group == "" {
		cfg.StartOffset = c.opts.startOffset
	}

	r := kafkago.NewReader(cfg)

	consumerTag := fmt.Sprintf("kafka-%s", queueName)
	consumeCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.readers == nil {
		c.readers = make(map[string]*kafkago.Reader)
		c.pending = make(map[uint64]pendingAck)
		c.cancel = make(map[string]context.CancelFunc)
	}
	c.readers[queueName] = r
	c.cancel[consumerTag] = cancel
	c.mu.Unlock()

	go c.consumeLoop(consumeCtx, r, onMessage)

	return consumerTag, nil
}

func (c *Channel) consumeLoop(ctx context.Context, r *kafkago.Reader, onMessage transport.DeliveryFunc) {
	for {
		raw, err := r.FetchMessage(ctx)
		if err != nil {
			return
		}

		c.mu.Lock()
		c.nextTag++
		tag := c.nextTag
		c.pending[tag] = pendingAck{reader: r, msg: raw}
		c.mu.Unlock()

		onMessage(toDelivery(raw, tag))
	}
}

func (c *Channel) Cancel(ctx context.Context, consumerTag string) error {
	c.mu.Lock()
	cancel, ok := c.cancel[consumerTag]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coworkers/transport/kafka: unknown consumer %q", consumerTag)
	}
	cancel()
	return nil
}

func (c *Channel) Publish(ctx context.Context, exchange, routingKey string, body []byte, opts transport.PublishOptions) error {
	km := kafkago.Message{
		Topic:   routingKey,
		Value:   body,
		Headers: toHeaders(opts),
	}
	if err := c.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("coworkers/transport/kafka: publish to %q: %w", routingKey, err)
	}
	return nil
}

// Ack commits the offset for the message identified by deliveryTag.
func (c *Channel) Ack(ctx context.Context, deliveryTag uint64) error {
	c.mu.Lock()
	p, ok := c.pending[deliveryTag]
	delete(c.pending, deliveryTag)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coworkers/transport/kafka: unknown delivery tag %d", deliveryTag)
	}
	if err := p.reader.CommitMessages(ctx, p.msg); err != nil {
		return fmt.Errorf("coworkers/transport/kafka: commit offset: %w", err)
	}
	return nil
}

// Nack is a deliberate no-op: not committing the offset is how Kafka
// redelivers a message, on the next rebalance or restart. requeue is
// ignored because Kafka has no immediate-requeue primitive.
func (c *Channel) Nack(ctx context.Context, deliveryTag uint64, requeue bool) error {
	c.mu.Lock()
	delete(c.pending, deliveryTag)
	c.mu.Unlock()
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	readers := make([]*kafkago.Reader, 0, len(c.readers))
	for _, r := range c.readers {
		readers = append(readers, r)
	}
	c.mu.Unlock()

	var errs []error
	if err := c.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("coworkers/transport/kafka: close: %v", errs)
	}
	return nil
}

func toDelivery(raw kafkago.Message, tag uint64) transport.Delivery {
	headers := make(map[string]any, len(raw.Headers))
	for _, h := range raw.Headers {
		headers[h.Key] = string(h.Value)
	}
	return transport.Delivery{
		Body:        raw.Value,
		Headers:     headers,
		RoutingKey:  raw.Topic,
		DeliveryTag: tag,
	}
}

func toHeaders(opts transport.PublishOptions) []kafkago.Header {
	if len(opts.Headers) == 0 && opts.ReplyTo == "" && opts.CorrelationID == "" {
		return nil
	}
	headers := make([]kafkago.Header, 0, len(opts.Headers)+2)
	for k, v := range opts.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(fmt.Sprintf("%v", v))})
	}
	if opts.ReplyTo != "" {
		headers = append(headers, kafkago.Header{Key: "reply-to", Value: []byte(opts.ReplyTo)})
	}
	if opts.CorrelationID != "" {
		headers = append(headers, kafkago.Header{Key: "correlation-id", Value: []byte(opts.CorrelationID)})
	}
	return headers
}

// parseURL splits a "host1:9092,host2:9092/group-name" style url into
// broker addresses and an optional consumer group.
func parseURL(url string) (brokers []string, group string) {
	if url == "" {
		return nil, ""
	}
	addrPart := url
	if i := strings.IndexByte(url, '/'); i >= 0 {
		addrPart = url[:i]
		group = url[i+1:]
	}
	for _, addr := range strings.Split(addrPart, ",") {
		if addr != "" {
			brokers = append(brokers, addr)
		}
	}
	return brokers, group
}
