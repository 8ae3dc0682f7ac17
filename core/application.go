// Package core implements the lifecycle state machine, pipeline executor,
// queue registry, and responder at the heart of coworkers: connecting to
// an AMQP 0-9-1 broker, asserting and consuming queues, dispatching
// deliveries through a per-queue middleware pipeline, and tearing
// everything down cleanly under concurrent connect/close requests, broker
// errors, and process signals (spec.md §1).
package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-coworkers/coworkers/internal/env"
	"github.com/go-coworkers/coworkers/schema"
	"github.com/go-coworkers/coworkers/transport"
)

const (
	envCluster        = "COWORKERS_CLUSTER"
	envQueue          = "COWORKERS_QUEUE"
	envQueueWorkerNum = "COWORKERS_QUEUE_WORKER_NUM"
	envRabbitMQURL    = "COWORKERS_RABBITMQ_URL"
)

// ErrorHandler is the asynchronous error sink for pipeline failures and for
// failed reply/ack/nack calls made by the Responder (spec.md §6 "Emitted
// event"). The core always passes the Context of the message the error
// concerns; lifecycle errors are returned from Connect/Close instead.
type ErrorHandler func(err error, ctx Context)

// ClusterSupervisor is the interface Application drives in cluster-master
// mode (spec.md §4.6). cluster.Manager implements it; it is an interface
// here so core has no import-time dependency on process-forking.
type ClusterSupervisor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// Options holds the recognized configuration keys from spec.md §6.
type Options struct {
	// Cluster enables master/worker supervision. Defaults to true; the
	// COWORKERS_CLUSTER=true env var forces it on regardless of this field.
	Cluster *bool

	// QueueName is the single queue a worker process consumes. Required
	// for a cluster worker process; optional in non-cluster mode, where
	// setting it binds this process to one queue instead of the default
	// of consuming every registered queue (see DESIGN.md "queueName
	// scope" for why spec.md's own wording under-specifies this).
	QueueName string

	// Prefetch sets the consumer channel's QoS prefetch count. Zero means
	// "use the transport's default."
	Prefetch int

	// Schema is the optional message-schema validator collaborator.
	Schema schema.Validator

	// Transport is the broker collaborator. Required.
	Transport transport.Transport

	// ClusterManager is the ClusterSupervisor used when clustering is enabled
	// and this process is the master. Optional when the process is known
	// to always run as a worker.
	ClusterManager ClusterSupervisor
}

func (o Options) effectiveCluster() bool {
	if env.Bool(envCluster, false) {
		return true
	}
	if o.Cluster != nil {
		return *o.Cluster
	}
	return true
}

func isWorkerProcess() bool {
	return env.String(envQueueWorkerNum, "") != ""
}

// Application is the root entity (spec.md §3): configuration, global
// middleware, queue registry, transport connection/channel handles, the
// consumer-tag map, the connect/close promise slots, an optional cluster
// manager, and the async error sink.
type Application struct {
	opts     Options
	registry *Registry
	sink     ErrorHandler
	cluster  ClusterSupervisor

	mu               sync.Mutex
	connection       transport.Connection
	consumerChannel  transport.Channel
	publisherChannel transport.Channel
	consumerTags     map[string]string
	sigint           *sigintHandler

	connectingFuture *future
	closingFuture    *future
}

type sigintHandler struct {
	ch   chan os.Signal
	done chan struct{}
}

// New creates an Application. opts.Transport must be non-nil.
func New(opts Options) (*Application, error) {
	if opts.Transport == nil {
		return nil, NewValidationError("coworkers: Options.Transport is required")
	}
	return &Application{
		opts:     opts,
		registry: NewRegistry(opts.Schema),
		cluster:  opts.ClusterManager,
		sink:     func(error, Context) {},
		consumerTags: make(map[string]string),
	}, nil
}

// OnError sets the error sink. There is exactly one per Application; the
// last call wins.
func (a *Application) OnError(h ErrorHandler) {
	if h == nil {
		h = func(error, Context) {}
	}
	a.sink = h
}

// Use appends global middleware, applied to every queue ahead of its own
// middleware, in registration order.
func (a *Application) Use(mw MiddlewareFunc) error {
	return a.registry.Use(mw)
}

// Queue registers a queue entry. See Registry.Queue for validation rules.
func (a *Application) Queue(name string, mws []MiddlewareFunc, opts ...QueueOption) error {
	return a.registry.Queue(name, mws, opts...)
}

// QueueNames returns the registered queue names in insertion order.
func (a *Application) QueueNames() []string {
	return a.registry.QueueNames()
}

func (a *Application) emitError(err error, c Context) {
	a.sink(err, c)
}

// isClusterMaster reports whether this process should delegate lifecycle
// operations to the ClusterSupervisor instead of opening broker resources
// directly (spec.md §4.5 "Cluster path").
func (a *Application) isClusterMaster() bool {
	return a.opts.effectiveCluster() && !isWorkerProcess()
}

// Connect implements spec.md §4.5's connect algorithm: idempotent against
// an in-flight connect, cross-cancelled against an in-flight close, a
// no-op when already fully open, and otherwise performs the connect
// sequence exactly once, clearing the in-flight slot in every terminal
// branch.
func (a *Application) Connect(ctx context.Context, url string, socketOpts transport.SocketOptions) error {
	return a.ConnectCB(ctx, url, socketOpts, nil)
}

// ConnectCB is Connect with an optional terminal callback, giving both
// promise-style and callback-style usage from one implementation
// (spec.md §4.5 "Dual invocation style").
func (a *Application) ConnectCB(ctx context.Context, url string, socketOpts transport.SocketOptions, cb func(error)) error {
	err := a.connect(ctx, url, socketOpts)
	if cb != nil {
		cb(err)
	}
	return err
}

func (a *Application) connect(ctx context.Context, url string, socketOpts transport.SocketOptions) error {
	a.mu.Lock()
	if fut := a.connectingFuture; fut != nil {
		a.mu.Unlock()
		return fut.wait(ctx)
	}
	if fut := a.closingFuture; fut != nil {
		a.mu.Unlock()
		closeErr := fut.wait(ctx)
		if closeErr == nil {
			return a.connect(ctx, url, socketOpts)
		}
		return cancelledConnect(closeErr)
	}
	if a.isFullyOpenLocked() {
		a.mu.Unlock()
		return nil
	}
	fut := newFuture()
	a.connectingFuture = fut
	a.mu.Unlock()

	err := a.doConnect(ctx, url, socketOpts)

	a.mu.Lock()
	a.connectingFuture = nil
	a.mu.Unlock()
	fut.resolve(err)
	return err
}

// Close implements spec.md §4.5's close algorithm, symmetric to connect.
func (a *Application) Close(ctx context.Context) error {
	return a.CloseCB(ctx, nil)
}

// CloseCB is Close with an optional terminal callback.
func (a *Application) CloseCB(ctx context.Context, cb func(error)) error {
	err := a.close(ctx)
	if cb != nil {
		cb(err)
	}
	return err
}

func (a *Application) close(ctx context.Context) error {
	a.mu.Lock()
	if fut := a.closingFuture; fut != nil {
		a.mu.Unlock()
		return fut.wait(ctx)
	}
	if fut := a.connectingFuture; fut != nil {
		a.mu.Unlock()
		connectErr := fut.wait(ctx)
		if connectErr == nil {
			return a.close(ctx)
		}
		return cancelledClose(connectErr)
	}
	if a.isFullyClosedLocked() {
		a.mu.Unlock()
		return nil
	}
	fut := newFuture()
	a.closingFuture = fut
	a.mu.Unlock()

	err := a.teardown(ctx)

	a.mu.Lock()
	a.closingFuture = nil
	a.mu.Unlock()
	fut.resolve(err)
	return err
}

func (a *Application) isFullyOpenLocked() bool {
	if a.isClusterMaster() {
		return a.cluster != nil && a.cluster.IsRunning()
	}
	names, err := a.queueNamesForConnect()
	if err != nil {
		return false
	}
	if a.connection == nil || a.consumerChannel == nil || a.publisherChannel == nil {
		return false
	}
	for _, n := range names {
		if _, ok := a.consumerTags[n]; !ok {
			return false
		}
	}
	return true
}

func (a *Application) isFullyClosedLocked() bool {
	if a.isClusterMaster() {
		return a.cluster == nil || !a.cluster.IsRunning()
	}
	return a.connection == nil && a.consumerChannel == nil && a.publisherChannel == nil
}

// doConnect performs the actual connect work (spec.md §4.5 step 4),
// rolling back via teardown (not the public Close, to avoid deadlocking
// on the in-flight connect future it is itself part of) on any failure.
func (a *Application) doConnect(ctx context.Context, url string, socketOpts transport.SocketOptions) (err error) {
	if a.isClusterMaster() {
		if a.cluster == nil {
			return NewValidationError("coworkers: cluster mode enabled but no ClusterManager was configured")
		}
		return a.cluster.Start(ctx)
	}

	defer func() {
		if err != nil {
			_ = a.teardown(context.Background())
		}
	}()

	names, err := a.queueNamesForConnect()
	if err != nil {
		return err
	}

	if url == "" {
		url = env.String(envRabbitMQURL, "")
	}

	conn, err := a.opts.Transport.Connect(ctx, url, socketOpts)
	if err != nil {
		return NewError(TransportError, fmt.Sprintf("coworkers: connect: %s", err), err)
	}
	a.mu.Lock()
	a.connection = conn
	a.mu.Unlock()

	consumerCh, publisherCh, err := a.openChannels(ctx, conn)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.consumerChannel = consumerCh
	a.publisherChannel = publisherCh
	a.mu.Unlock()

	if a.opts.Prefetch > 0 {
		if err := consumerCh.SetPrefetch(a.opts.Prefetch); err != nil {
			return NewError(TransportError, fmt.Sprintf("coworkers: set prefetch: %s", err), err)
		}
	}

	tags := make(map[string]string, len(names))
	for _, name := range names {
		entry, _ := a.registry.Entry(name)
		queue := name
		tag, err := consumerCh.AssertAndConsume(ctx, name, entry.QueueOptions, entry.ConsumeOptions, func(d transport.Delivery) {
			a.handleDelivery(queue, d)
		})
		if err != nil {
			return NewError(TransportError, fmt.Sprintf("coworkers: assert and consume %q: %s", name, err), err)
		}
		tags[name] = tag
	}
	a.mu.Lock()
	a.consumerTags = tags
	a.mu.Unlock()

	a.installSIGINT()
	return nil
}

// openChannels opens consumerChannel and publisherChannel concurrently
// (spec.md §4.5 step 4b "may run concurrently").
func (a *Application) openChannels(ctx context.Context, conn transport.Connection) (consumer, publisher transport.Channel, err error) {
	var wg sync.WaitGroup
	var consumerErr, publisherErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		consumer, consumerErr = conn.OpenChannel(ctx)
	}()
	go func() {
		defer wg.Done()
		publisher, publisherErr = conn.OpenChannel(ctx)
	}()
	wg.Wait()

	if consumerErr != nil {
		return nil, nil, NewError(TransportError, fmt.Sprintf("coworkers: open consumer channel: %s", consumerErr), consumerErr)
	}
	if publisherErr != nil {
		return nil, nil, NewError(TransportError, fmt.Sprintf("coworkers: open publisher channel: %s", publisherErr), publisherErr)
	}
	return consumer, publisher, nil
}

// teardown releases whatever broker resources are held (spec.md §4.5 step
// 4 under close). It is used both by the public Close and by doConnect's
// own rollback path.
func (a *Application) teardown(ctx context.Context) error {
	if a.isClusterMaster() {
		if a.cluster == nil {
			return nil
		}
		return a.cluster.Stop(ctx)
	}

	a.mu.Lock()
	consumerCh := a.consumerChannel
	publisherCh := a.publisherChannel
	conn := a.connection
	tags := a.consumerTags
	a.mu.Unlock()

	if consumerCh != nil {
		for _, tag := range tags {
			if err := consumerCh.Cancel(ctx, tag); err != nil {
				return fmt.Errorf("coworkers: cancel consumer %q: %w", tag, err)
			}
		}
	}
	if consumerCh != nil {
		if err := consumerCh.Close(); err != nil {
			return fmt.Errorf("coworkers: close consumer channel: %w", err)
		}
	}
	if publisherCh != nil {
		if err := publisherCh.Close(); err != nil {
			return fmt.Errorf("coworkers: close publisher channel: %w", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			return fmt.Errorf("coworkers: close connection: %w", err)
		}
	}

	a.removeSIGINT()

	a.mu.Lock()
	a.connection = nil
	a.consumerChannel = nil
	a.publisherChannel = nil
	a.consumerTags = make(map[string]string)
	a.mu.Unlock()
	return nil
}

// queueNamesForConnect resolves which queues this process should consume.
// See DESIGN.md "queueName scope" for the reasoning behind this precedence.
func (a *Application) queueNamesForConnect() ([]string, error) {
	if isWorkerProcess() {
		name, err := a.resolveQueueName()
		if err != nil {
			return nil, err
		}
		if _, ok := a.registry.Entry(name); !ok {
			return nil, NewValidationError("coworkers: worker queue %q is not registered", name)
		}
		return []string{name}, nil
	}

	if !a.opts.effectiveCluster() && (a.opts.QueueName != "" || env.String(envQueue, "") != "") {
		name, err := a.resolveQueueName()
		if err != nil {
			return nil, err
		}
		if _, ok := a.registry.Entry(name); !ok {
			return nil, NewValidationError("coworkers: queue %q is not registered", name)
		}
		return []string{name}, nil
	}

	return a.registry.QueueNames(), nil
}

func (a *Application) resolveQueueName() (string, error) {
	if a.opts.QueueName != "" {
		return a.opts.QueueName, nil
	}
	if v := env.String(envQueue, ""); v != "" {
		return v, nil
	}
	return "", NewValidationError("coworkers: queueName is required")
}

func (a *Application) installSIGINT() {
	h := &sigintHandler{ch: make(chan os.Signal, 1), done: make(chan struct{})}
	signal.Notify(h.ch, syscall.SIGINT)
	go func() {
		select {
		case <-h.ch:
			_ = a.Close(context.Background())
		case <-h.done:
		}
	}()
	a.mu.Lock()
	a.sigint = h
	a.mu.Unlock()
}

// removeSIGINT uninstalls the SIGINT handler by the exact reference
// installSIGINT recorded, so unrelated handlers are never disturbed
// (spec.md §9 Design Notes).
func (a *Application) removeSIGINT() {
	a.mu.Lock()
	h := a.sigint
	a.sigint = nil
	a.mu.Unlock()
	if h == nil {
		return
	}
	signal.Stop(h.ch)
	close(h.done)
}
