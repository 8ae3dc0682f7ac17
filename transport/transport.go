// Package transport defines the collaborator interface the core Application
// drives to talk to a broker. Implementations live under transport/amqp,
// transport/kafka, and transport/nats; the core never imports them directly
// and only depends on these interfaces (spec §6 "Transport collaborator").
package transport

import "context"

// SocketOptions is opaque dial configuration passed through to the
// underlying client library (TLS config, timeouts, heartbeat interval...).
type SocketOptions map[string]any

// QueueOptions is opaque queue-assertion configuration (durable, exclusive,
// auto-delete, arguments...). Owned by the schema collaborator when one is
// configured — see core.Registry.
type QueueOptions map[string]any

// ConsumeOptions is opaque per-consumer configuration (consumer tag,
// no-local, exclusive, consumer group...). Prefetch is set separately
// through Channel.SetPrefetch.
type ConsumeOptions map[string]any

// PublishOptions carries the metadata a publish needs beyond the body.
type PublishOptions struct {
	ContentType   string
	Headers       map[string]any
	ReplyTo       string
	CorrelationID string
}

// Delivery is the broker-agnostic envelope handed to the core for every
// inbound message: content bytes plus the broker-supplied envelope fields
// the spec's Context exposes.
type Delivery struct {
	Body          []byte
	ContentType   string
	Headers       map[string]any
	ReplyTo       string
	CorrelationID string
	RoutingKey    string
	Redelivered   bool
	// DeliveryTag is the opaque per-delivery identifier Ack/Nack use to
	// settle this specific message. For brokers without a numeric tag
	// (e.g. Kafka offsets) implementations encode whatever is needed to
	// settle the delivery.
	DeliveryTag uint64
}

// DeliveryFunc is invoked once per inbound message for a consumer started
// with Channel.AssertAndConsume.
type DeliveryFunc func(Delivery)

// Transport opens connections to a broker. One Transport implementation
// exists per supported broker (transport/amqp is the default and the only
// one the Lifecycle Coordinator's invariants are written against).
type Transport interface {
	// Connect dials the broker at url using socketOpts and returns a live
	// Connection. core.Application substitutes COWORKERS_RABBITMQ_URL for
	// an empty url before calling Connect; implementations do not read the
	// environment themselves.
	Connect(ctx context.Context, url string, socketOpts SocketOptions) (Connection, error)
}

// Connection is a live broker connection. The Lifecycle Coordinator opens
// exactly two Channels per Connection: consumerChannel and publisherChannel.
type Connection interface {
	OpenChannel(ctx context.Context) (Channel, error)
	Close() error
}

// Channel is a lightweight logical session multiplexed on a Connection,
// owning one direction of traffic (consume or publish).
type Channel interface {
	// SetPrefetch bounds how many unacknowledged deliveries the broker will
	// hand this channel at once. A no-op for transports without the concept.
	SetPrefetch(count int) error

	// AssertAndConsume declares/binds queueName per queueOpts, attaches a
	// consumer per consumeOpts, and invokes onMessage for every delivery.
	// Returns the consumer tag that Cancel accepts to stop this consumer.
	AssertAndConsume(ctx context.Context, queueName string, queueOpts QueueOptions, consumeOpts ConsumeOptions, onMessage DeliveryFunc) (consumerTag string, err error)

	// Cancel stops the consumer identified by consumerTag.
	Cancel(ctx context.Context, consumerTag string) error

	// Publish sends body to exchange/routingKey (exchange "" is the
	// broker's default exchange, routingKey a queue name for direct
	// delivery).
	Publish(ctx context.Context, exchange, routingKey string, body []byte, opts PublishOptions) error

	// Ack settles a delivery as processed.
	Ack(ctx context.Context, deliveryTag uint64) error

	// Nack settles a delivery as failed; requeue controls redelivery.
	Nack(ctx context.Context, deliveryTag uint64, requeue bool) error

	Close() error
}
