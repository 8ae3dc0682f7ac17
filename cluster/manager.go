// Package cluster implements the master/worker process supervision
// spec.md §4.6 describes: one OS process per registered queue, each
// re-invoking the same binary with COWORKERS_QUEUE_WORKER_NUM and
// COWORKERS_QUEUE set so it runs core.Application in single-queue worker
// mode, a readiness handshake so Start only resolves once every worker is
// actually serving, a restart policy keyed off exit code for workers that
// exit unexpectedly, and a SIGINT→SIGTERM→SIGKILL escalation on shutdown.
// It implements core.ClusterSupervisor and is grounded in the
// lifecycle/promise style of core.Application itself, generalizing the
// signal-handling texture the rest of the retrieved corpus uses for
// graceful shutdown (e.g. httpserver/graceful.Manager) to process
// supervision instead of a single process's own signal channel.
package cluster

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// CommandFunc builds the *exec.Cmd used to launch worker workerNum for
// queueName. The default re-execs the current binary with os.Args[1:] and
// the worker env vars appended to the parent's environment. A worker
// process started this way signals readiness by writing a byte to fd 3,
// which Manager always attaches as cmd.ExtraFiles[0].
type CommandFunc func(workerNum int, queueName string) *exec.Cmd

// Options configures a Manager.
type Options struct {
	// QueueNames is the full set of registered queues; one worker process
	// is started per entry, in order.
	QueueNames []string

	// Command builds the subprocess for a given worker. Defaults to
	// re-executing os.Args[0] with the parent's arguments.
	Command CommandFunc

	// RestartDelay is how long Manager waits before restarting a worker
	// that exited with a non-zero status without Stop being called.
	// Defaults to 1 second.
	RestartDelay time.Duration

	// ShutdownGrace is how long Stop waits after the initial SIGINT
	// before escalating to SIGTERM. Defaults to 10 seconds.
	ShutdownGrace time.Duration

	// KillGrace is how long Stop waits after escalating to SIGTERM before
	// escalating further to SIGKILL. Defaults to 5 seconds.
	KillGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.Command == nil {
		o.Command = defaultCommand
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = time.Second
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 10 * time.Second
	}
	if o.KillGrace <= 0 {
		o.KillGrace = 5 * time.Second
	}
	return o
}

func defaultCommand(workerNum int, queueName string) *exec.Cmd {
	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("COWORKERS_QUEUE_WORKER_NUM=%d", workerNum),
		fmt.Sprintf("COWORKERS_QUEUE=%s", queueName),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// Manager supervises one worker subprocess per queue.
type Manager struct {
	opts Options

	mu       sync.Mutex
	running  bool
	stopping bool
	workers  map[int]*worker
	wg       sync.WaitGroup
}

type worker struct {
	num       int
	queueName string
	cmd       *exec.Cmd
	// exited receives the result of cmd.Wait() for the current generation
	// of this worker's process. Replaced on every (re)spawn.
	exited chan error
}

// NewManager returns a Manager. opts.QueueNames must be non-empty.
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts.withDefaults(), workers: make(map[int]*worker)}
}

// Start launches one worker process per queue and returns once every
// worker has signaled readiness on its fd 3 pipe, or fails as soon as any
// worker exits before signaling (spec.md §4.6). Supervision (restart on
// non-zero exit) continues in background goroutines after Start returns.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	if len(m.opts.QueueNames) == 0 {
		m.mu.Unlock()
		return fmt.Errorf("coworkers/cluster: no queues registered to fork workers for")
	}
	m.stopping = false
	m.running = true
	m.mu.Unlock()

	for i, queueName := range m.opts.QueueNames {
		w := &worker{num: i + 1, queueName: queueName}

		ready, err := m.spawn(w)
		if err != nil {
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return fmt.Errorf("coworkers/cluster: start worker %d (%s): %w", w.num, w.queueName, err)
		}
		if err := awaitReady(w, ready); err != nil {
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return fmt.Errorf("coworkers/cluster: worker %d (%s): %w", w.num, w.queueName, err)
		}

		m.mu.Lock()
		m.workers[w.num] = w
		m.mu.Unlock()

		m.wg.Add(1)
		go m.supervise(w)
	}
	return nil
}

// spawn starts w's process with a fresh readiness pipe attached as fd 3
// and begins waiting on it in the background, recording the result on
// w.exited. The caller owns the returned read end and must close it.
func (m *Manager) spawn(w *worker) (*os.File, error) {
	cmd := m.opts.Command(w.num, w.queueName)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create readiness pipe: %w", err)
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, pw)

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	pw.Close()
	w.cmd = cmd

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	w.exited = exited

	return pr, nil
}

// awaitReady races a worker's readiness signal against its own early exit,
// per spec.md §4.6 ("resolve once every worker has sent a ready signal (or
// first worker exit, whichever first — the latter fails start)").
func awaitReady(w *worker, ready *os.File) error {
	defer ready.Close()

	signaled := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		if n, _ := ready.Read(buf); n == 1 {
			close(signaled)
		}
	}()

	select {
	case <-signaled:
		return nil
	case err := <-w.exited:
		return fmt.Errorf("exited before signaling ready: %w", err)
	}
}

// supervise waits on a worker's process and, while the manager is not
// stopping, restarts it after RestartDelay only if it exited with a
// non-zero status (spec.md §4.6's restart policy; exit 0 means graceful
// shutdown per §6 and must not be restarted).
func (m *Manager) supervise(w *worker) {
	defer m.wg.Done()
	for {
		waitErr := <-w.exited

		m.mu.Lock()
		stopping := m.stopping
		m.mu.Unlock()
		if stopping {
			return
		}

		code := exitCode(w.cmd, waitErr)
		if code == 0 {
			log.Printf("[coworkers/cluster] worker %d (%s) exited gracefully; not restarting", w.num, w.queueName)
			return
		}

		log.Printf("[coworkers/cluster] worker %d (%s) exited with status %d: %v; restarting in %s", w.num, w.queueName, code, waitErr, m.opts.RestartDelay)
		time.Sleep(m.opts.RestartDelay)

		ready, err := m.spawn(w)
		if err != nil {
			log.Printf("[coworkers/cluster] worker %d (%s) failed to restart: %v", w.num, w.queueName, err)
			return
		}
		ready.Close()
	}
}

// exitCode extracts the process exit status following cmd.Wait(), falling
// back to -1 when it cannot be determined (e.g. the process was killed by
// a signal).
func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr == nil {
		return 0
	}
	return -1
}

// Stop signals every worker with SIGINT and waits up to ShutdownGrace for
// all to exit; any still running are escalated to SIGTERM and given
// KillGrace before a final SIGKILL (spec.md §4.6).
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	workers := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	signalAlive(workers, unix.SIGINT, "SIGINT")
	select {
	case <-done:
		return m.finishStop()
	case <-time.After(m.opts.ShutdownGrace):
	}

	signalAlive(workers, unix.SIGTERM, "SIGTERM")
	select {
	case <-done:
		return m.finishStop()
	case <-time.After(m.opts.KillGrace):
	}

	signalAlive(workers, unix.SIGKILL, "SIGKILL")
	<-done
	return m.finishStop()
}

func signalAlive(workers []*worker, sig unix.Signal, label string) {
	for _, w := range workers {
		if w.cmd.Process == nil || w.cmd.ProcessState != nil {
			continue
		}
		if err := unix.Kill(w.cmd.Process.Pid, sig); err != nil {
			log.Printf("[coworkers/cluster] %s worker %d (%s): %v", label, w.num, w.queueName, err)
		}
	}
}

func (m *Manager) finishStop() error {
	m.mu.Lock()
	m.running = false
	m.workers = make(map[int]*worker)
	m.mu.Unlock()
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
