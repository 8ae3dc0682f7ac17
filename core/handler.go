package core

import (
	"context"

	"github.com/go-coworkers/coworkers/transport"
)

// handleDelivery is the Message Handler Factory's product (spec.md §4.3):
// build a fresh Context, flatten global++queue middleware, run the
// pipeline, and on success hand the context to the Responder. On failure
// it emits an error event instead of responding, leaving the observable
// ack/nack policy to whatever error-handler middleware the operator
// installed first — the core chooses no default ack/nack on unhandled
// errors to preserve at-least-once delivery (spec.md §4.3 point 5).
//
// It runs synchronously on the goroutine the transport calls it from, so
// the transport's own prefetch/backpressure naturally throttles delivery
// (spec.md §4.3 "handler returns a completion so the transport can apply
// backpressure").
func (a *Application) handleDelivery(queue string, d transport.Delivery) {
	mws, ok := a.registry.Pipeline(queue)
	if !ok {
		return
	}

	mc := newContext(context.Background(), a, queue, d)

	if err := Execute(mc, mws); err != nil {
		a.emitError(err, mc)
		return
	}

	a.respond(mc)
}
