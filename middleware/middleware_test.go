package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/go-coworkers/coworkers/core"
	"github.com/go-coworkers/coworkers/internal/mock"
	"github.com/go-coworkers/coworkers/middleware"
	"github.com/go-coworkers/coworkers/transport"
)

// queueChannel finds the mock channel that registered the consumer for
// queueName, regardless of which of the two channels Application opened
// concurrently ended up with it.
func queueChannel(t *testing.T, tr *mock.Transport, queueName string) *mock.Channel {
	t.Helper()
	if len(tr.Connections) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(tr.Connections))
	}
	ch := tr.Connections[0].ChannelConsuming(queueName)
	if ch == nil {
		t.Fatalf("no channel is consuming queue %q", queueName)
	}
	return ch
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer log.SetOutput(os.Stderr)

	tr := mock.NewTransport()
	cluster := false
	app, err := core.New(core.Options{Transport: tr, Cluster: &cluster})
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	if err := app.Use(middleware.Logging()); err != nil {
		t.Fatalf("use: %v", err)
	}
	if err := app.Queue("q", []core.MiddlewareFunc{
		func(ctx core.Context, next core.Next) error { return next() },
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := app.Connect(context.Background(), "amqp://x", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer app.Close(context.Background())

	ch := queueChannel(t, tr, "q")
	ch.Deliver("q", transport.Delivery{Body: []byte("v")})

	if !strings.Contains(buf.String(), "OK") {
		t.Errorf("expected OK log, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "q") {
		t.Errorf("expected queue name in log, got: %s", buf.String())
	}
}

func TestLogging_Error(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer log.SetOutput(os.Stderr)

	tr := mock.NewTransport()
	cluster := false
	app, _ := core.New(core.Options{Transport: tr, Cluster: &cluster})
	app.OnError(func(error, core.Context) {})
	if err := app.Use(middleware.Logging()); err != nil {
		t.Fatalf("use: %v", err)
	}
	boom := errors.New("boom")
	if err := app.Queue("q", []core.MiddlewareFunc{
		func(ctx core.Context, next core.Next) error { return boom },
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := app.Connect(context.Background(), "amqp://x", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer app.Close(context.Background())

	ch := queueChannel(t, tr, "q")
	ch.Deliver("q", transport.Delivery{Body: []byte("v")})

	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("expected ERROR log, got: %s", buf.String())
	}
}

func TestRecovery(t *testing.T) {
	tr := mock.NewTransport()
	cluster := false
	app, _ := core.New(core.Options{Transport: tr, Cluster: &cluster})
	var gotErr error
	app.OnError(func(err error, _ core.Context) { gotErr = err })
	if err := app.Use(middleware.Recovery()); err != nil {
		t.Fatalf("use: %v", err)
	}
	if err := app.Queue("q", []core.MiddlewareFunc{
		func(ctx core.Context, next core.Next) error { panic("test panic") },
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := app.Connect(context.Background(), "amqp://x", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer app.Close(context.Background())

	ch := queueChannel(t, tr, "q")
	ch.Deliver("q", transport.Delivery{Body: []byte("v")})

	if gotErr == nil {
		t.Fatal("expected error from recovered panic")
	}
	if !strings.Contains(gotErr.Error(), "panic recovered") {
		t.Errorf("unexpected error: %v", gotErr)
	}
}

func TestNackOnError(t *testing.T) {
	tr := mock.NewTransport()
	cluster := false
	app, _ := core.New(core.Options{Transport: tr, Cluster: &cluster})
	if err := app.Use(middleware.NackOnError(true)); err != nil {
		t.Fatalf("use: %v", err)
	}
	boom := errors.New("boom")
	if err := app.Queue("q", []core.MiddlewareFunc{
		func(ctx core.Context, next core.Next) error { return boom },
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := app.Connect(context.Background(), "amqp://x", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer app.Close(context.Background())

	ch := queueChannel(t, tr, "q")
	ch.Deliver("q", transport.Delivery{Body: []byte("v"), DeliveryTag: 42})

	if len(ch.Nacked) != 1 || ch.Nacked[0].DeliveryTag != 42 || !ch.Nacked[0].Requeue {
		t.Fatalf("Nacked = %v, want [{42 true}]", ch.Nacked)
	}
}
