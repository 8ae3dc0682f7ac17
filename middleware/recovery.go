package middleware

import (
	"fmt"
	"log"
	"runtime"

	"github.com/go-coworkers/coworkers/core"
)

// Recovery returns middleware that recovers from panics in downstream
// middleware, logs the stack trace, and turns the panic into an error so
// the pipeline unwinds normally instead of crashing the process.
func Recovery() core.MiddlewareFunc {
	return func(ctx core.Context, next core.Next) (err error) {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				log.Printf("[coworkers] PANIC recovered: %v\n%s", r, buf[:n])
				err = fmt.Errorf("coworkers: panic recovered: %v", r)
			}
		}()
		return next()
	}
}
