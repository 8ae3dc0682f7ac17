package kafka

import (
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Option configures a Transport's writer/reader defaults.
type Option func(*options)

type options struct {
	balancer  kafkago.Balancer
	batchSize int
	async     bool

	minBytes    int
	maxBytes    int
	maxWait     time.Duration
	startOffset int64

	dialer *kafkago.Dialer
}

func defaults() options {
	return options{
		balancer:    &kafkago.LeastBytes{},
		batchSize:   100,
		minBytes:    1,
		maxBytes:    10e6,
		maxWait:     500 * time.Millisecond,
		startOffset: kafkago.LastOffset,
	}
}

// WithBalancer sets the partition balancer used for writes.
func WithBalancer(b kafkago.Balancer) Option {
	return func(o *options) { o.balancer = b }
}

// WithBatchSize sets the writer's maximum batch size.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithAsync enables asynchronous (fire-and-forget) writes.
func WithAsync(async bool) Option {
	return func(o *options) { o.async = async }
}

// WithMaxBytes sets the maximum bytes fetched per read.
func WithMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxWait sets the maximum wait time for a fetch.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithStartOffset sets the consumer start offset for groupless readers
// (kafkago.FirstOffset or kafkago.LastOffset).
func WithStartOffset(offset int64) Option {
	return func(o *options) { o.startOffset = offset }
}

// WithDialer sets a custom dialer for TLS/SASL connections.
func WithDialer(d *kafkago.Dialer) Option {
	return func(o *options) { o.dialer = d }
}
