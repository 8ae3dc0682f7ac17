package core

import (
	"context"
	"errors"
	"testing"

	"github.com/go-coworkers/coworkers/transport"
)

func testContext() *msgContext {
	return newContext(context.Background(), nil, "q", transport.Delivery{Body: []byte("x")})
}

// recorder builds a middleware that appends its entry index, calls next,
// then appends its exit index as a primed string — the shape spec.md §8
// invariant 2 checks.
func recorder(trace *[]string, name string) MiddlewareFunc {
	return func(ctx Context, next Next) error {
		*trace = append(*trace, name)
		err := next()
		*trace = append(*trace, name+"'")
		return err
	}
}

func TestExecute_Ordering(t *testing.T) {
	var trace []string
	mws := []MiddlewareFunc{
		recorder(&trace, "1"),
		recorder(&trace, "2"),
		recorder(&trace, "3"),
		recorder(&trace, "4"),
	}

	if err := Execute(testContext(), mws); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"1", "2", "3", "4", "4'", "3'", "2'", "1'"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestExecute_ShortCircuit(t *testing.T) {
	var trace []string
	cNeverRuns := false
	mws := []MiddlewareFunc{
		recorder(&trace, "A"),
		func(ctx Context, next Next) error {
			trace = append(trace, "B")
			// never calls next — pipeline short-circuits here.
			trace = append(trace, "B'")
			return nil
		},
		func(ctx Context, next Next) error {
			cNeverRuns = true
			return next()
		},
	}

	if err := Execute(testContext(), mws); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"A", "B", "B'", "A'"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
	if cNeverRuns {
		t.Fatal("middleware C ran despite B never calling next")
	}
}

func TestExecute_Error(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	cNeverRuns := false
	mws := []MiddlewareFunc{
		recorder(&trace, "A"),
		func(ctx Context, next Next) error {
			trace = append(trace, "B")
			return boom
		},
		func(ctx Context, next Next) error {
			cNeverRuns = true
			return next()
		},
	}

	err := Execute(testContext(), mws)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if cNeverRuns {
		t.Fatal("middleware C ran after B raised")
	}
	want := []string{"A", "B", "A'"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
}

func TestExecute_DoubleNextIsPipelineMisuse(t *testing.T) {
	var gotErr error
	mws := []MiddlewareFunc{
		func(ctx Context, next Next) error {
			_ = next()
			gotErr = next()
			return gotErr
		},
	}

	err := Execute(testContext(), mws)
	if err == nil {
		t.Fatal("expected error from double next invocation")
	}
	kind, ok := KindOf(err)
	if !ok || kind != PipelineMisuse {
		t.Fatalf("kind = %v, ok = %v, want PipelineMisuse", kind, ok)
	}
	if gotErr != err {
		t.Fatalf("second next() result did not propagate")
	}
}
