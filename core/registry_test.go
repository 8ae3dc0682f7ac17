package core

import (
	"testing"

	"github.com/go-coworkers/coworkers/transport"
)

func noopMW(ctx Context, next Next) error { return next() }

func TestRegistry_QueueNamesInsertionOrder(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Queue("b", []MiddlewareFunc{noopMW}); err != nil {
		t.Fatalf("queue b: %v", err)
	}
	if err := r.Queue("a", []MiddlewareFunc{noopMW}); err != nil {
		t.Fatalf("queue a: %v", err)
	}
	if err := r.Queue("c", []MiddlewareFunc{noopMW}); err != nil {
		t.Fatalf("queue c: %v", err)
	}

	got := r.QueueNames()
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("QueueNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("QueueNames() = %v, want %v", got, want)
		}
	}
}

func TestRegistry_DuplicateNameFails(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Queue("q", []MiddlewareFunc{noopMW}); err != nil {
		t.Fatalf("first queue: %v", err)
	}
	err := r.Queue("q", []MiddlewareFunc{noopMW})
	if err == nil {
		t.Fatal("expected AlreadyExists error")
	}
	if kind, ok := KindOf(err); !ok || kind != AlreadyExists {
		t.Fatalf("kind = %v, want AlreadyExists", kind)
	}
}

func TestRegistry_EmptyNameFails(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Queue("", []MiddlewareFunc{noopMW})
	if kind, ok := KindOf(err); !ok || kind != ValidationError {
		t.Fatalf("kind = %v, want ValidationError", kind)
	}
}

func TestRegistry_NoMiddlewareFails(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Queue("q", nil)
	if kind, ok := KindOf(err); !ok || kind != ValidationError {
		t.Fatalf("kind = %v, want ValidationError", kind)
	}
}

type fakeSchema struct{ known map[string]bool }

func (f fakeSchema) Resolves(name string) bool { return f.known[name] }

func TestRegistry_SchemaViolation_UnknownQueue(t *testing.T) {
	r := NewRegistry(fakeSchema{known: map[string]bool{"orders": true}})
	err := r.Queue("unknown", []MiddlewareFunc{noopMW})
	if kind, ok := KindOf(err); !ok || kind != SchemaViolation {
		t.Fatalf("kind = %v, want SchemaViolation", kind)
	}
}

func TestRegistry_SchemaViolation_QueueOptionsNotAllowed(t *testing.T) {
	r := NewRegistry(fakeSchema{known: map[string]bool{"orders": true}})
	err := r.Queue("orders", []MiddlewareFunc{noopMW}, WithQueueOptions(transport.QueueOptions{"durable": true}))
	if kind, ok := KindOf(err); !ok || kind != SchemaViolation {
		t.Fatalf("kind = %v, want SchemaViolation", kind)
	}
}

func TestRegistry_Pipeline_FlattensGlobalThenQueue(t *testing.T) {
	r := NewRegistry(nil)
	var trace []string
	global := func(name string) MiddlewareFunc {
		return func(ctx Context, next Next) error {
			trace = append(trace, name)
			return next()
		}
	}

	if err := r.Use(global("g1")); err != nil {
		t.Fatalf("use: %v", err)
	}
	if err := r.Use(global("g2")); err != nil {
		t.Fatalf("use: %v", err)
	}
	if err := r.Queue("q", []MiddlewareFunc{global("q1"), global("q2")}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	mws, ok := r.Pipeline("q")
	if !ok {
		t.Fatal("pipeline not found")
	}
	if len(mws) != 4 {
		t.Fatalf("len(mws) = %d, want 4", len(mws))
	}

	if err := Execute(testContext(), mws); err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []string{"g1", "g2", "q1", "q2"}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want prefix %v", trace, want)
		}
	}
}
