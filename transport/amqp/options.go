package amqp

// Option configures default queue-assertion behavior for a Transport. These
// defaults apply whenever a call's QueueOptions/ConsumeOptions omit the
// corresponding key; a per-queue call always wins.
type Option func(*options)

type options struct {
	durable    bool
	autoDelete bool
	exclusive  bool
}

func defaults() options {
	return options{
		durable: true,
	}
}

// WithDurable controls whether queues survive a broker restart by default.
func WithDurable(d bool) Option {
	return func(o *options) { o.durable = d }
}

// WithAutoDelete causes queues to be deleted when the last consumer
// disconnects, by default.
func WithAutoDelete(d bool) Option {
	return func(o *options) { o.autoDelete = d }
}

// WithExclusive restricts queues to the declaring connection by default.
func WithExclusive(e bool) Option {
	return func(o *options) { o.exclusive = e }
}
