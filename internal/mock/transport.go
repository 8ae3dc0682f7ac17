// Package mock provides test doubles for transport.Transport, used by
// core's lifecycle and pipeline tests in place of a live broker — adapted
// from the teacher's internal/mock/broker.go test-double pattern.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-coworkers/coworkers/transport"
)

// Transport is a test double for transport.Transport.
type Transport struct {
	mu         sync.Mutex
	ConnectErr error
	Connections []*Connection
}

func NewTransport() *Transport { return &Transport{} }

func (t *Transport) Connect(ctx context.Context, url string, opts transport.SocketOptions) (transport.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	conn := &Connection{URL: url}
	t.Connections = append(t.Connections, conn)
	return conn, nil
}

// Connection is a test double for transport.Connection.
type Connection struct {
	URL string

	mu            sync.Mutex
	OpenChannelErr error
	Channels      []*Channel
	Closed        bool
	CloseErr      error
}

func (c *Connection) OpenChannel(ctx context.Context) (transport.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenChannelErr != nil {
		return nil, c.OpenChannelErr
	}
	ch := &Channel{}
	c.Channels = append(c.Channels, ch)
	return ch, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return c.CloseErr
}

// ChannelConsuming returns the channel that registered a consumer for
// queueName, or nil if none has. Lets callers outside this package find the
// consumer channel without relying on channel-open ordering, which is
// nondeterministic across the goroutines Application.openChannels starts.
func (c *Connection) ChannelConsuming(queueName string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.Channels {
		ch.mu.Lock()
		_, ok := ch.Consumers[queueName]
		ch.mu.Unlock()
		if ok {
			return ch
		}
	}
	return nil
}

// Channel is a test double for transport.Channel.
type Channel struct {
	mu sync.Mutex

	AssertAndConsumeErr error
	CancelErr           error
	PublishErr          error
	AckErr              error
	NackErr              error

	Prefetch     int
	Consumers    map[string]transport.DeliveryFunc
	Cancelled    []string
	Published    []Published
	Acked        []uint64
	Nacked       []NackCall
	Closed       bool
	nextTag      int
}

type Published struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Opts       transport.PublishOptions
}

type NackCall struct {
	DeliveryTag uint64
	Requeue     bool
}

func (c *Channel) SetPrefetch(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Prefetch = n
	return nil
}

func (c *Channel) AssertAndConsume(ctx context.Context, queueName string, queueOpts transport.QueueOptions, consumeOpts transport.ConsumeOptions, onMessage transport.DeliveryFunc) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AssertAndConsumeErr != nil {
		return "", c.AssertAndConsumeErr
	}
	if c.Consumers == nil {
		c.Consumers = make(map[string]transport.DeliveryFunc)
	}
	c.nextTag++
	tag := fmt.Sprintf("consumer-%s-%d", queueName, c.nextTag)
	c.Consumers[queueName] = onMessage
	return tag, nil
}

// Deliver simulates an inbound message for queueName, invoking the
// registered onMessage callback outside the lock (tests run it inline).
func (c *Channel) Deliver(queueName string, d transport.Delivery) {
	c.mu.Lock()
	fn := c.Consumers[queueName]
	c.mu.Unlock()
	if fn != nil {
		fn(d)
	}
}

func (c *Channel) Cancel(ctx context.Context, consumerTag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CancelErr != nil {
		return c.CancelErr
	}
	c.Cancelled = append(c.Cancelled, consumerTag)
	return nil
}

func (c *Channel) Publish(ctx context.Context, exchange, routingKey string, body []byte, opts transport.PublishOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr != nil {
		return c.PublishErr
	}
	c.Published = append(c.Published, Published{Exchange: exchange, RoutingKey: routingKey, Body: body, Opts: opts})
	return nil
}

func (c *Channel) Ack(ctx context.Context, deliveryTag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AckErr != nil {
		return c.AckErr
	}
	c.Acked = append(c.Acked, deliveryTag)
	return nil
}

func (c *Channel) Nack(ctx context.Context, deliveryTag uint64, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NackErr != nil {
		return c.NackErr
	}
	c.Nacked = append(c.Nacked, NackCall{DeliveryTag: deliveryTag, Requeue: requeue})
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}
