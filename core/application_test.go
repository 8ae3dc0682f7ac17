package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-coworkers/coworkers/internal/mock"
	"github.com/go-coworkers/coworkers/transport"
)

func newTestApp(t *testing.T, tr *mock.Transport) *Application {
	t.Helper()
	cluster := false
	app, err := New(Options{Transport: tr, Cluster: &cluster})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return app
}

func TestApplication_ConnectOpensChannelsAndConsumes(t *testing.T) {
	tr := mock.NewTransport()
	app := newTestApp(t, tr)
	if err := app.Queue("orders", []MiddlewareFunc{noopMW}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	if err := app.Connect(context.Background(), "amqp://x", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer app.Close(context.Background())

	if len(tr.Connections) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(tr.Connections))
	}
	conn := tr.Connections[0]
	if len(conn.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(conn.Channels))
	}
	if _, ok := app.consumerTags["orders"]; !ok {
		t.Fatal("expected a consumer tag for queue 'orders'")
	}
}

func TestApplication_ConnectFailureRollsBack(t *testing.T) {
	tr := mock.NewTransport()
	boom := errors.New("boom")
	tr.ConnectErr = boom
	app := newTestApp(t, tr)
	if err := app.Queue("orders", []MiddlewareFunc{noopMW}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	err := app.Connect(context.Background(), "amqp://x", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping %v", err, boom)
	}

	app.mu.Lock()
	inFlight := app.connectingFuture
	app.mu.Unlock()
	if inFlight != nil {
		t.Fatal("connectingFuture was not cleared after failure")
	}
	if app.connection != nil {
		t.Fatal("connection should be nil after a rolled-back connect")
	}
}

func TestApplication_CloseIdempotent(t *testing.T) {
	tr := mock.NewTransport()
	app := newTestApp(t, tr)
	if err := app.Queue("orders", []MiddlewareFunc{noopMW}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := app.Connect(context.Background(), "amqp://x", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var err1, err2 error
	done := make(chan struct{}, 2)
	go func() { err1 = app.Close(context.Background()); done <- struct{}{} }()
	go func() { err2 = app.Close(context.Background()); done <- struct{}{} }()
	<-done
	<-done

	if err1 != nil || err2 != nil {
		t.Fatalf("close errors: %v, %v", err1, err2)
	}

	conn := tr.Connections[0]
	if !conn.Closed {
		t.Fatal("connection was not closed")
	}
	for _, ch := range conn.Channels {
		if !ch.Closed {
			t.Fatal("channel was not closed")
		}
	}
}

func TestApplication_ConnectThenCloseRace(t *testing.T) {
	tr := mock.NewTransport()
	app := newTestApp(t, tr)
	if err := app.Queue("orders", []MiddlewareFunc{noopMW}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	connectErrCh := make(chan error, 1)
	go func() { connectErrCh <- app.Connect(context.Background(), "amqp://x", nil) }()

	time.Sleep(5 * time.Millisecond)
	closeErr := app.Close(context.Background())
	connectErr := <-connectErrCh

	if connectErr != nil {
		t.Fatalf("connect should have succeeded before close ran: %v", connectErr)
	}
	if closeErr != nil {
		t.Fatalf("close should have succeeded: %v", closeErr)
	}
}

func TestApplication_HandleDelivery_DefaultAck(t *testing.T) {
	tr := mock.NewTransport()
	app := newTestApp(t, tr)
	called := false
	if err := app.Queue("orders", []MiddlewareFunc{
		func(ctx Context, next Next) error { called = true; return next() },
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := app.Connect(context.Background(), "amqp://x", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer app.Close(context.Background())

	ch := app.consumerChannel.(*mock.Channel)
	ch.Deliver("orders", transport.Delivery{Body: []byte("hi"), DeliveryTag: 7})

	if !called {
		t.Fatal("handler middleware was not invoked")
	}
	if len(ch.Acked) != 1 || ch.Acked[0] != 7 {
		t.Fatalf("Acked = %v, want [7]", ch.Acked)
	}
}

func TestApplication_HandleDelivery_ExplicitNack(t *testing.T) {
	tr := mock.NewTransport()
	app := newTestApp(t, tr)
	if err := app.Queue("orders", []MiddlewareFunc{
		func(ctx Context, next Next) error {
			ctx.Nack(true)
			return next()
		},
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := app.Connect(context.Background(), "amqp://x", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer app.Close(context.Background())

	ch := app.consumerChannel.(*mock.Channel)
	ch.Deliver("orders", transport.Delivery{Body: []byte("hi"), DeliveryTag: 3})

	if len(ch.Nacked) != 1 || ch.Nacked[0].DeliveryTag != 3 || !ch.Nacked[0].Requeue {
		t.Fatalf("Nacked = %v, want [{3 true}]", ch.Nacked)
	}
	if len(ch.Acked) != 0 {
		t.Fatalf("Acked = %v, want none", ch.Acked)
	}
}

func TestApplication_HandleDelivery_ErrorEmitsEventNoResponse(t *testing.T) {
	tr := mock.NewTransport()
	app := newTestApp(t, tr)
	boom := errors.New("boom")
	var gotErr error
	var gotCtx Context
	app.OnError(func(err error, ctx Context) {
		gotErr = err
		gotCtx = ctx
	})
	if err := app.Queue("orders", []MiddlewareFunc{
		func(ctx Context, next Next) error { return boom },
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := app.Connect(context.Background(), "amqp://x", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer app.Close(context.Background())

	ch := app.consumerChannel.(*mock.Channel)
	ch.Deliver("orders", transport.Delivery{Body: []byte("hi"), DeliveryTag: 1})

	if !errors.Is(gotErr, boom) {
		t.Fatalf("gotErr = %v, want %v", gotErr, boom)
	}
	if gotCtx == nil {
		t.Fatal("expected a context to be passed to the error sink")
	}
	if len(ch.Acked) != 0 || len(ch.Nacked) != 0 {
		t.Fatal("responder must not run when the pipeline fails")
	}
}

func TestApplication_Reply(t *testing.T) {
	tr := mock.NewTransport()
	app := newTestApp(t, tr)
	if err := app.Queue("rpc", []MiddlewareFunc{
		func(ctx Context, next Next) error {
			ctx.Reply([]byte("pong"), transport.PublishOptions{})
			return next()
		},
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := app.Connect(context.Background(), "amqp://x", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer app.Close(context.Background())

	consumerCh := app.consumerChannel.(*mock.Channel)
	publisherCh := app.publisherChannel.(*mock.Channel)
	consumerCh.Deliver("rpc", transport.Delivery{
		Body:          []byte("ping"),
		ReplyTo:       "reply-queue",
		CorrelationID: "corr-1",
		DeliveryTag:   9,
	})

	if len(publisherCh.Published) != 1 {
		t.Fatalf("expected 1 published reply, got %d", len(publisherCh.Published))
	}
	p := publisherCh.Published[0]
	if p.RoutingKey != "reply-queue" || string(p.Body) != "pong" {
		t.Fatalf("unexpected reply: %+v", p)
	}
	if p.Opts.CorrelationID != "corr-1" {
		t.Fatalf("CorrelationID = %q, want corr-1", p.Opts.CorrelationID)
	}
	if len(consumerCh.Acked) != 1 || consumerCh.Acked[0] != 9 {
		t.Fatalf("Acked = %v, want [9]", consumerCh.Acked)
	}
}
