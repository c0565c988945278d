// Package reactor implements C1: the completion-driven I/O runtime. Real
// platform completion queues (io_uring, IOCP, kqueue) are out of Go's
// idiomatic reach from userspace; the Go runtime's own netpoller already is
// a completion-style multiplexer hiding behind ordinary blocking calls, so
// Runtime models the *contract* spec §4.1 asks for — a fixed worker pool,
// per-connection pinning, single-shot cancellation-aware completions — on
// top of goroutines, channels and context.Context, the idiomatic Go
// equivalent of "tasks that suspend at I/O and resume on completion".
package reactor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Future is a single-shot suspending handle: exactly one of a result or an
// error ever arrives on Done.
type Future[T any] struct {
	Done chan result[T]
}

type result[T any] struct {
	val T
	err error
}

// NewFuture allocates a Future with a buffered channel of 1 so the producer
// never blocks delivering its single completion.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{Done: make(chan result[T], 1)}
}

func (f *Future[T]) complete(val T, err error) {
	f.Done <- result[T]{val: val, err: err}
}

// Await blocks the calling task until completion or ctx cancellation,
// whichever comes first — the suspension point contract of spec §4.1/§5.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case r := <-f.Done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ErrCancelled
	}
}

// ErrCancelled is returned by an awaited operation whose cancellation token
// fired before completion (spec §7: Cancelled errors are not failures).
var ErrCancelled = fmt.Errorf("reactor: operation cancelled")

// CancelToken is the shared flag + notification channel spec §4.1/§5
// describes: every connection carries one linked to the runtime's
// cancellation source.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCancelToken(parent context.Context) CancelToken {
	ctx, cancel := context.WithCancel(parent)
	return CancelToken{ctx: ctx, cancel: cancel}
}

func (t CancelToken) Context() context.Context { return t.ctx }
func (t CancelToken) Cancel()                  { t.cancel() }
func (t CancelToken) Cancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// worker is one single-threaded execution context: a FIFO task queue drained
// by exactly one goroutine, so work pinned to a worker runs without
// interleaving from other connections on the same worker — spec §4.1's "no
// preemption between suspension points, no global locks; per-worker data is
// thread-local".
type worker struct {
	tasks chan func()
}

func newWorker(queueDepth int) *worker {
	w := &worker{tasks: make(chan func(), queueDepth)}
	go w.run()
	return w
}

func (w *worker) run() {
	for task := range w.tasks {
		task()
	}
}

// Runtime owns the worker pool and timer facilities for a single server
// instance; the accept loop itself lives in the server package.
type Runtime struct {
	workers []*worker
	next    uint64 // round-robin cursor for Pin

	sem *semWrap // bounds in-flight transmit_file operations, see SPEC_FULL §2

	mu      sync.Mutex
	timers  []*time.Timer
	closing int32
}

// Config controls worker count and the zero-copy transmit_file concurrency
// bound.
type Config struct {
	Workers           int
	MaxConcurrentFile int
}

func DefaultConfig() Config {
	return Config{Workers: 0, MaxConcurrentFile: 64}
}

// New builds a Runtime with n workers (0 defaults to a small fixed pool,
// since Go has no portable "hardware concurrency for network workers"
// primitive beyond GOMAXPROCS, which the caller may pass explicitly).
func New(cfg Config) *Runtime {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxConcurrentFile <= 0 {
		cfg.MaxConcurrentFile = 64
	}
	rt := &Runtime{
		workers: make([]*worker, cfg.Workers),
		sem:     newSemaphore(cfg.MaxConcurrentFile),
	}
	for i := range rt.workers {
		rt.workers[i] = newWorker(256)
	}
	return rt
}

// WorkerCount reports how many workers the runtime spun up.
func (rt *Runtime) WorkerCount() int { return len(rt.workers) }

// Pin returns the worker index a newly accepted connection should stick to
// for its lifetime (round-robin; spec §5: "a connection is pinned to the
// worker that accepted it").
func (rt *Runtime) Pin() int {
	n := atomic.AddUint64(&rt.next, 1)
	return int(n % uint64(len(rt.workers)))
}

// Run submits task to the worker the connection was pinned to. Tasks queued
// on the same worker execute strictly in submission order.
func (rt *Runtime) Run(workerIdx int, task func()) {
	rt.workers[workerIdx%len(rt.workers)].tasks <- task
}

// AcquireFileSlot bounds concurrent transmit_file operations runtime-wide;
// Release must be called when the transfer completes.
func (rt *Runtime) AcquireFileSlot(ctx context.Context) error {
	return rt.sem.Acquire(ctx)
}

func (rt *Runtime) ReleaseFileSlot() { rt.sem.Release() }

// Sleep returns a Future that completes after d, or is cancelled via ctx —
// the Future/timer half of spec §4.1's "sleep(duration)".
func (rt *Runtime) Sleep(ctx context.Context, d time.Duration) *Future[struct{}] {
	f := NewFuture[struct{}]()
	t := time.AfterFunc(d, func() { f.complete(struct{}{}, nil) })
	go func() {
		<-ctx.Done()
		t.Stop()
	}()
	return f
}

// ListenConfig returns a *net.ListenConfig wired for the shared-listener
// mode spec §4.1 prefers: SO_REUSEPORT lets every worker process own accept
// queue, load-balanced by the kernel, instead of one goroutine fanning
// accepted connections out — the "shared listener with kernel-level load
// balancing" path. When shared is false (or the platform control hook
// fails) callers get the classical single-listener fallback the spec
// requires.
func ListenConfig(shared bool) *net.ListenConfig {
	lc := &net.ListenConfig{}
	if !shared {
		return lc
	}
	lc.Control = func(network, address string, c syscall.RawConn) error {
		return c.Control(func(fd uintptr) {
			// A failed setsockopt leaves an ordinary single listener.
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
	}
	return lc
}

// Shutdown marks the runtime as closing; in-flight Run submissions still
// complete, new ones are still accepted (the server orchestrator is
// responsible for no longer accepting new connections — the runtime itself
// has no notion of "server").
func (rt *Runtime) Shutdown() {
	atomic.StoreInt32(&rt.closing, 1)
}

func (rt *Runtime) Closing() bool {
	return atomic.LoadInt32(&rt.closing) != 0
}
