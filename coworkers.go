// Package coworkers provides the top-level API for the coworkers message
// consumer framework. It re-exports core types at the package level, so
// callers write:
//
//	app, err := coworkers.New(coworkers.Options{Transport: amqp.New()})
//	app.Use(middleware.Logging())
//	app.Queue("orders.created", []coworkers.MiddlewareFunc{
//	    func(c coworkers.Context, next coworkers.Next) error {
//	        c.Ack()
//	        return nil
//	    },
//	})
//	app.Connect(ctx, url, nil)
package coworkers

import (
	"github.com/go-coworkers/coworkers/core"
)

// Re-export core types at the package level for ergonomic usage.
type (
	Context          = core.Context
	Message          = core.Message
	Next             = core.Next
	MiddlewareFunc   = core.MiddlewareFunc
	Options          = core.Options
	Application      = core.Application
	ErrorHandler     = core.ErrorHandler
	ClusterSupervisor = core.ClusterSupervisor
	Error            = core.Error
	Kind             = core.Kind
	QueueOption      = core.QueueOption
)

// Error kind constants, re-exported for callers matching on them.
const (
	ValidationError  = core.ValidationError
	AlreadyExists    = core.AlreadyExists
	SchemaViolation  = core.SchemaViolation
	TransportError   = core.TransportError
	CancelledByPeer  = core.CancelledByPeer
	PipelineMisuse   = core.PipelineMisuse
)

// New creates an Application. opts.Transport must be non-nil.
func New(opts Options) (*Application, error) {
	return core.New(opts)
}

// WithQueueOptions attaches broker queue-assertion options to a Queue call.
func WithQueueOptions(o map[string]any) QueueOption {
	return core.WithQueueOptions(o)
}

// WithConsumeOptions attaches per-consumer options to a Queue call.
func WithConsumeOptions(o map[string]any) QueueOption {
	return core.WithConsumeOptions(o)
}

// KindOf extracts the error Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	return core.KindOf(err)
}
