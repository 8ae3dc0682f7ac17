package core

import (
	"context"
	"sync"

	"github.com/go-coworkers/coworkers/transport"
)

// Context is the per-message bundle exposed to middleware (spec.md §3). It
// is created fresh for every inbound delivery and discarded once the
// Responder has run; it is never reused across messages.
type Context interface {
	// Context returns the underlying context.Context for the in-flight
	// delivery. The core starts it as context.Background(); it is not
	// cancelled when the owning channel is torn down mid-handling.
	Context() context.Context
	SetContext(ctx context.Context)

	// App returns the owning Application. This is a non-owning
	// back-reference: the Application always outlives every Context it
	// creates.
	App() *Application

	// Queue is the name of the queue this message was delivered on.
	Queue() string

	// Message is the raw inbound content and envelope.
	Message() Message

	// Set and Get give middleware a place to pass data to the rest of the
	// pipeline without mutating Message.
	Set(key string, val any)
	Get(key string) (any, bool)

	// Ack and Nack record the post-pipeline acknowledgement decision the
	// Responder will act on. Between Ack and Nack the last call wins; a
	// Reply, if set, takes precedence over both (the reply is published,
	// then the message is acked). Calling none of them defaults to Ack.
	Ack()
	Nack(requeue bool)

	// Reply sets a response message the Responder publishes to the
	// inbound message's ReplyTo/CorrelationID before acking (spec.md §4.4).
	Reply(body []byte, opts transport.PublishOptions)

	// decision and pendingReply are read by the Responder; unexported so
	// only this package can inspect post-pipeline state.
	decision() decision
	pendingReply() (reply, bool)
}

type msgContext struct {
	ctx   context.Context
	app   *Application
	queue string
	msg   Message

	mu    sync.RWMutex
	store map[string]any

	dec      decision
	rep      reply
	hasReply bool
}

func newContext(ctx context.Context, app *Application, queue string, d transport.Delivery) *msgContext {
	return &msgContext{
		ctx:   ctx,
		app:   app,
		queue: queue,
		msg:   newMessage(d),
		store: make(map[string]any),
	}
}

func (c *msgContext) Context() context.Context   { return c.ctx }
func (c *msgContext) SetContext(ctx context.Context) { c.ctx = ctx }
func (c *msgContext) App() *Application           { return c.app }
func (c *msgContext) Queue() string               { return c.queue }
func (c *msgContext) Message() Message            { return c.msg }

func (c *msgContext) Set(key string, val any) {
	c.mu.Lock()
	c.store[key] = val
	c.mu.Unlock()
}

func (c *msgContext) Get(key string) (any, bool) {
	c.mu.RLock()
	v, ok := c.store[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *msgContext) Ack() {
	c.dec = decision{kind: decisionAck}
}

func (c *msgContext) Nack(requeue bool) {
	c.dec = decision{kind: decisionNack, requeue: requeue}
}

func (c *msgContext) Reply(body []byte, opts transport.PublishOptions) {
	c.rep = reply{body: body, opts: opts}
	c.hasReply = true
}

func (c *msgContext) decision() decision { return c.dec }

func (c *msgContext) pendingReply() (reply, bool) { return c.rep, c.hasReply }
