package middleware

import "github.com/go-coworkers/coworkers/core"

// NackOnError returns the opt-in middleware spec.md §9's Design Notes
// describe: by default the core acks or nacks nothing when a pipeline
// fails, preserving at-least-once delivery by leaving redelivery to
// channel loss. An operator who wants an explicit nack-and-requeue policy
// on unhandled errors installs this first (outermost) in the chain; it
// must run before any middleware that might fail so it observes every
// downstream error on its upstream half.
//
// It never changes the core's silent-on-error default itself — it only
// gives an operator who wants different behavior a ready-made template,
// per the spec's explicit instruction not to change the default.
func NackOnError(requeue bool) core.MiddlewareFunc {
	return func(ctx core.Context, next core.Next) error {
		if err := next(); err != nil {
			ctx.Nack(requeue)
			return nil
		}
		return nil
	}
}
