package core

// Next is the continuation a middleware invokes to run the remainder of
// the pipeline and observe its result. It may be invoked at most once; a
// second invocation resolves to a PipelineMisuse error rather than
// re-entering the pipeline (spec.md §4.1).
type Next func() error

// MiddlewareFunc is a resumable unit: it runs until it calls next, the
// pipeline suspends it there while downstream middleware run, and it
// resumes with next's result once they (and everything behind them) have
// completed. This is the idiomatic Go rendering of spec.md §3's
// "resumable computation" — the call stack itself is the suspension
// point, with no explicit coroutine machinery needed.
type MiddlewareFunc func(ctx Context, next Next) error

// Execute runs mws over ctx with the two-phase traversal spec.md §4.1
// requires: m1 enters, calls next, which enters m2, ... until mn's next
// resolves immediately; each mi then resumes in reverse order. If a
// middleware never calls next, everything after it is skipped and only
// already-entered middleware run their upstream half. If any middleware
// returns an error, no further downstream middleware are entered; the
// error propagates back up as the result of each next() call in turn.
func Execute(ctx Context, mws []MiddlewareFunc) error {
	return executeFrom(ctx, mws, 0)
}

func executeFrom(ctx Context, mws []MiddlewareFunc, i int) error {
	if i >= len(mws) {
		return nil
	}

	called := false
	next := Next(func() error {
		if called {
			return &Error{
				Kind: PipelineMisuse,
				Msg:  "coworkers: middleware invoked next more than once",
			}
		}
		called = true
		return executeFrom(ctx, mws, i+1)
	})

	return mws[i](ctx, next)
}
