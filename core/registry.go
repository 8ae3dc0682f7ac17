package core

import (
	"github.com/go-coworkers/coworkers/schema"
	"github.com/go-coworkers/coworkers/transport"
)

// QueueEntry is a registered queue: its assertion/consume options and the
// ordered, non-empty middleware pipeline attached to it (spec.md §3).
type QueueEntry struct {
	Name           string
	QueueOptions   transport.QueueOptions
	ConsumeOptions transport.ConsumeOptions
	Middleware     []MiddlewareFunc
}

// Registry validates and stores {queue -> (consume-options, middleware
// list)} (spec.md §4.2). It is append-only: re-registering a name fails.
type Registry struct {
	schema  schema.Validator
	global  []MiddlewareFunc
	entries map[string]*QueueEntry
	order   []string
}

// NewRegistry creates an empty Registry. schema may be nil, meaning no
// schema collaborator is configured.
func NewRegistry(schema schema.Validator) *Registry {
	return &Registry{
		schema:  schema,
		entries: make(map[string]*QueueEntry),
	}
}

// Use appends mw to the global middleware list, applied to every queue in
// registration order ahead of that queue's own middleware.
func (r *Registry) Use(mw MiddlewareFunc) error {
	if mw == nil {
		return NewValidationError("use: middleware must not be nil")
	}
	r.global = append(r.global, mw)
	return nil
}

// QueueOption configures a single Queue call.
type QueueOption func(*queueCall)

type queueCall struct {
	queueOpts   transport.QueueOptions
	consumeOpts transport.ConsumeOptions
}

// WithQueueOptions sets the queue-assertion options for a Queue call.
func WithQueueOptions(o transport.QueueOptions) QueueOption {
	return func(c *queueCall) { c.queueOpts = o }
}

// WithConsumeOptions sets the consume options for a Queue call.
func WithConsumeOptions(o transport.ConsumeOptions) QueueOption {
	return func(c *queueCall) { c.consumeOpts = o }
}

// Queue registers a queue entry. Validation follows spec.md §4.2: name
// must be non-empty and unique, at least one middleware is required, and
// when a schema collaborator is configured the name must resolve in it
// and queueOpts must be absent (the schema owns queue topology).
func (r *Registry) Queue(name string, mws []MiddlewareFunc, opts ...QueueOption) error {
	if name == "" {
		return NewValidationError("queue: name must be a non-empty string")
	}
	if len(mws) == 0 {
		return NewValidationError("queue %q: at least one middleware is required", name)
	}
	for i, mw := range mws {
		if mw == nil {
			return NewValidationError("queue %q: middleware at index %d must not be nil", name, i)
		}
	}
	if _, exists := r.entries[name]; exists {
		return NewError(AlreadyExists, "queue \""+name+"\" is already registered", nil)
	}

	var call queueCall
	for _, o := range opts {
		o(&call)
	}

	if r.schema != nil {
		if !r.schema.Resolves(name) {
			return NewError(SchemaViolation, "queue \""+name+"\" does not resolve in the configured schema", nil)
		}
		if call.queueOpts != nil {
			return NewError(SchemaViolation, "queue \""+name+"\": queueOptions are owned by the schema collaborator", nil)
		}
	}

	entry := &QueueEntry{
		Name:           name,
		QueueOptions:   call.queueOpts,
		ConsumeOptions: call.consumeOpts,
		Middleware:     append([]MiddlewareFunc(nil), mws...),
	}
	r.entries[name] = entry
	r.order = append(r.order, name)
	return nil
}

// QueueNames returns the registered names in insertion order.
func (r *Registry) QueueNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Entry returns the registered entry for name, if any.
func (r *Registry) Entry(name string) (*QueueEntry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Pipeline flattens the global middleware list followed by entry's own
// middleware into one sequence (spec.md §4.1, last paragraph).
func (r *Registry) Pipeline(name string) ([]MiddlewareFunc, bool) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	flat := make([]MiddlewareFunc, 0, len(r.global)+len(entry.Middleware))
	flat = append(flat, r.global...)
	flat = append(flat, entry.Middleware...)
	return flat, true
}
