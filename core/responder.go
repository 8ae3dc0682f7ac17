package core

import (
	"context"
	"fmt"
)

// respond reads ctx's post-pipeline decision and issues exactly one of
// ack, nack, or (if a reply was set) publish-then-ack, per spec.md §4.4.
// If none was set by middleware the default is ack. Failures are reported
// through emit rather than returned, since they must not prevent the
// handler's completion from resolving.
func (a *Application) respond(c *msgContext) {
	tag := c.msg.deliveryTag

	if rep, ok := c.pendingReply(); ok {
		if err := a.publishReply(c.ctx, c.msg, rep); err != nil {
			a.emitError(fmt.Errorf("coworkers: publish reply: %w", err), c)
		}
		if err := a.ackConsumer(c.ctx, tag); err != nil {
			a.emitError(fmt.Errorf("coworkers: ack after reply: %w", err), c)
		}
		return
	}

	switch d := c.decision(); d.kind {
	case decisionNack:
		if err := a.nackConsumer(c.ctx, tag, d.requeue); err != nil {
			a.emitError(fmt.Errorf("coworkers: nack: %w", err), c)
		}
	case decisionAck, decisionNone:
		if err := a.ackConsumer(c.ctx, tag); err != nil {
			a.emitError(fmt.Errorf("coworkers: ack: %w", err), c)
		}
	}
}

// publishReply derives routing metadata from the original message's
// ReplyTo/CorrelationID (spec.md §4.4) and publishes on publisherChannel.
func (a *Application) publishReply(ctx context.Context, msg Message, r reply) error {
	a.mu.Lock()
	ch := a.publisherChannel
	a.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("coworkers: publisher channel is not open")
	}

	opts := r.opts
	if opts.CorrelationID == "" {
		opts.CorrelationID = msg.CorrelationID
	}
	return ch.Publish(ctx, "", msg.ReplyTo, r.body, opts)
}

func (a *Application) ackConsumer(ctx context.Context, tag uint64) error {
	a.mu.Lock()
	ch := a.consumerChannel
	a.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("coworkers: consumer channel is not open")
	}
	return ch.Ack(ctx, tag)
}

func (a *Application) nackConsumer(ctx context.Context, tag uint64, requeue bool) error {
	a.mu.Lock()
	ch := a.consumerChannel
	a.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("coworkers: consumer channel is not open")
	}
	return ch.Nack(ctx, tag, requeue)
}
