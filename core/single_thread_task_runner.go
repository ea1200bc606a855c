package core

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// SingleThreadTaskRunner binds a dedicated Goroutine to execute work sequentially.
// It guarantees that all work submitted to it runs on the same Goroutine (Thread Affinity).
//
// It is the default backing of the primary context when no host scheduler is
// configured, and doubles as a stand-in host main loop in tests and examples.
type SingleThreadTaskRunner struct {
	queue  *FIFOWorkQueue
	signal chan struct{}

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc

	// For graceful shutdown
	started      chan struct{}
	stopped      chan struct{}
	once         sync.Once
	closed       atomic.Bool
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	goroutineID  atomic.Uint64
	panicHandler PanicHandler

	name string
	mu   sync.Mutex
}

// NewSingleThreadTaskRunner creates and starts a new SingleThreadTaskRunner.
// It immediately spawns a dedicated goroutine for execution.
func NewSingleThreadTaskRunner() *SingleThreadTaskRunner {
	return NewSingleThreadTaskRunnerWithHandler(&LoggerPanicHandler{Logger: NewDefaultLogger()})
}

// NewSingleThreadTaskRunnerWithHandler is NewSingleThreadTaskRunner with a custom panic handler.
func NewSingleThreadTaskRunnerWithHandler(handler PanicHandler) *SingleThreadTaskRunner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &SingleThreadTaskRunner{
		queue:        NewFIFOWorkQueue(),
		signal:       make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		started:      make(chan struct{}),
		stopped:      make(chan struct{}),
		shutdownChan: make(chan struct{}),
		panicHandler: handler,
	}

	// Start the dedicated message loop
	go r.runLoop()

	return r
}

// Name returns the name of the task runner
func (r *SingleThreadTaskRunner) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// SetName sets the name of the task runner
func (r *SingleThreadTaskRunner) SetName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
}

// GoroutineID returns the id of the dedicated goroutine, waiting for it to start.
func (r *SingleThreadTaskRunner) GoroutineID() uint64 {
	<-r.started
	return r.goroutineID.Load()
}

// PrimaryGoroutineID lets the runner act as a PrimaryIdentifier host.
func (r *SingleThreadTaskRunner) PrimaryGoroutineID() uint64 {
	return r.GoroutineID()
}

// IsCurrent reports whether the caller is the runner's goroutine.
func (r *SingleThreadTaskRunner) IsCurrent() bool {
	return GoroutineID() == r.GoroutineID()
}

// PostTask queues work behind everything already posted.
// Returns ErrRunnerClosed once Shutdown or Stop has been called.
func (r *SingleThreadTaskRunner) PostTask(w Work) error {
	if r.closed.Load() {
		return ErrRunnerClosed
	}
	r.queue.Push(w)
	select {
	case r.signal <- struct{}{}:
	default:
	}
	return nil
}

// RunOnPrimary lets the runner act as the primary half of a HostScheduler.
func (r *SingleThreadTaskRunner) RunOnPrimary(w Work) error {
	return r.PostTask(w)
}

// PendingCount returns the number of queued, not yet started, items.
func (r *SingleThreadTaskRunner) PendingCount() int {
	return r.queue.Len()
}

// Shutdown marks the runner as closed and signals shutdown waiters.
// Unlike Stop(), this method does not wait for the runLoop to exit,
// so it may be called from work running on the runner itself.
//
// After calling Shutdown():
// - WaitShutdown() will return
// - IsClosed() will return true
// - New work posted is rejected
// - Queued work is dropped
func (r *SingleThreadTaskRunner) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.closed.Store(true)
		r.cancel()
		close(r.shutdownChan)
	})
}

// IsClosed returns true if the runner has been stopped
func (r *SingleThreadTaskRunner) IsClosed() bool {
	return r.closed.Load()
}

// Stop stops the runner and waits for the work in flight to return.
// Called from the runner's own goroutine it degrades to Shutdown.
func (r *SingleThreadTaskRunner) Stop() {
	r.Shutdown()
	if r.IsCurrent() {
		return
	}
	r.once.Do(func() {
		<-r.stopped
	})
}

// runLoop is the core of this runner, it occupies a dedicated goroutine
func (r *SingleThreadTaskRunner) runLoop() {
	defer close(r.stopped)
	defer r.queue.Clear()

	r.goroutineID.Store(GoroutineID())
	close(r.started)

	for {
		if r.ctx.Err() != nil {
			return
		}
		if w, ok := r.queue.Pop(); ok {
			r.runWork(w)
			continue
		}

		select {
		case <-r.signal:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *SingleThreadTaskRunner) runWork(w Work) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panicHandler.HandlePanic(r.ctx, r.Name(), -1, rec, debug.Stack())
		}
	}()
	w(r.ctx)
}

// =============================================================================
// Synchronization Methods
// =============================================================================

// WaitIdle blocks until all currently queued work has completed execution.
// This is implemented by posting a barrier and waiting for it to execute.
//
// Returns error if:
// - Context is cancelled or deadline exceeded
// - Runner is closed when WaitIdle is called
//
// Note: Work posted after WaitIdle is called is not waited for.
func (r *SingleThreadTaskRunner) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	if err := r.PostTask(func(context.Context) { close(done) }); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return ErrRunnerClosed
	}
}

// FlushAsync posts a barrier that executes the callback when all prior work completes.
// This is a non-blocking alternative to WaitIdle.
func (r *SingleThreadTaskRunner) FlushAsync(callback func()) error {
	return r.PostTask(func(context.Context) {
		callback()
	})
}

// WaitShutdown blocks until Shutdown() is called on this runner, either by
// an external caller or by work running on the runner itself.
//
// Returns error if context is cancelled or deadline exceeded.
func (r *SingleThreadTaskRunner) WaitShutdown(ctx context.Context) error {
	select {
	case <-r.shutdownChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
