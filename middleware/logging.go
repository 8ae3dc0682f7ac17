// Package middleware holds opt-in core.MiddlewareFunc implementations an
// operator wires with Application.Use or per-queue, adapted from the
// teacher's core/middleware package (stdlib log, no structured logger —
// see SPEC_FULL.md §2).
package middleware

import (
	"log"
	"time"

	"github.com/go-coworkers/coworkers/core"
)

// Logging returns middleware that logs message processing duration and
// errors.
func Logging() core.MiddlewareFunc {
	return func(ctx core.Context, next core.Next) error {
		start := time.Now()
		err := next()
		elapsed := time.Since(start)

		msg := ctx.Message()
		if err != nil {
			log.Printf("[coworkers] ERROR queue=%s elapsed=%s err=%v", ctx.Queue(), elapsed, err)
		} else {
			log.Printf("[coworkers] OK    queue=%s elapsed=%s bytes=%d", ctx.Queue(), elapsed, len(msg.Body))
		}
		return err
	}
}
