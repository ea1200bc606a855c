package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Role names the two kinds of execution context a task can resume on.
type Role int

const (
	// RolePrimary is the host's single main goroutine.
	RolePrimary Role = iota
	// RoleWorker is a pool of background goroutines.
	RoleWorker
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleWorker:
		return "worker"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ExecutionContext decides whether work can run on the caller or must be
// handed off to the goroutine(s) it represents.
type ExecutionContext interface {
	Role() Role

	// IsCurrent reports whether the calling goroutine already satisfies this
	// context's affinity.
	IsCurrent() bool

	// Submit runs work inline when IsCurrent holds, otherwise hands it off.
	// Work handed off runs exactly once unless the context is disposed first.
	Submit(ctx context.Context, work Work) error

	Dispose() error
	IsDisposed() bool
}

// =============================================================================
// PrimaryContext
// =============================================================================

// PrimaryContext is bound to a single goroutine. The binding is resolved at
// most once: eagerly when the host identifies its goroutine, through
// BindCurrent, or by a probe job posted to the host when the session is
// created.
//
// Off-primary submissions go through a FIFO handoff queue. Every push asks
// the host to drain one item, and a bridge caller blocked on the primary
// goroutine drains the queue itself while it waits.
type PrimaryContext struct {
	name string
	run  func(Work) error

	boundID  atomic.Uint64
	bound    chan struct{}
	bindOnce sync.Once
	probe    sync.Once

	queue  *FIFOWorkQueue
	signal chan struct{}

	disposed atomic.Bool
	metrics  Metrics
	logger   Logger
}

// NewPrimaryContext creates a primary context that hands work to run.
// A nil run makes every off-primary submission fail with ErrPrimaryUnbound.
func NewPrimaryContext(name string, run func(Work) error, logger Logger, metrics Metrics) *PrimaryContext {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	if metrics == nil {
		metrics = &NilMetrics{}
	}
	return &PrimaryContext{
		name:    name,
		run:     run,
		bound:   make(chan struct{}),
		queue:   NewFIFOWorkQueue(),
		signal:  make(chan struct{}, 1),
		metrics: metrics,
		logger:  logger,
	}
}

func (p *PrimaryContext) Role() Role { return RolePrimary }

func (p *PrimaryContext) IsCurrent() bool {
	id := p.boundID.Load()
	return id != 0 && id == GoroutineID()
}

// IsBound reports whether the primary goroutine is known.
func (p *PrimaryContext) IsBound() bool {
	return p.boundID.Load() != 0
}

// Bound is closed once the primary goroutine is known.
func (p *PrimaryContext) Bound() <-chan struct{} {
	return p.bound
}

// BoundGoroutineID returns the bound goroutine id, or 0 when unresolved.
func (p *PrimaryContext) BoundGoroutineID() uint64 {
	return p.boundID.Load()
}

// BindCurrent binds the context to the calling goroutine. It fails if the
// context is already bound to a different goroutine. Hosts that cannot
// implement PrimaryIdentifier call it from their main loop to bind
// synchronously instead of waiting for the probe.
func (p *PrimaryContext) BindCurrent() error {
	gid := GoroutineID()
	if !p.bindTo(gid) {
		return fmt.Errorf("primary context %s: already bound to goroutine %d", p.name, p.boundID.Load())
	}
	return nil
}

func (p *PrimaryContext) bindTo(gid uint64) bool {
	if gid == 0 {
		return false
	}
	if p.boundID.CompareAndSwap(0, gid) {
		p.bindOnce.Do(func() { close(p.bound) })
		p.logger.Debug("primary context bound", F("owner", p.name), F("goroutine", gid))
		return true
	}
	return p.boundID.Load() == gid
}

// Probe asks the host to run a binding job once, so the primary goroutine
// becomes known even before anything is handed off.
func (p *PrimaryContext) Probe() {
	if p.run == nil || p.IsBound() {
		return
	}
	p.probe.Do(func() {
		if err := p.run(func(context.Context) { p.bindTo(GoroutineID()) }); err != nil {
			p.logger.Warn("primary probe rejected", F("owner", p.name), F("error", err))
		}
	})
}

func (p *PrimaryContext) Submit(ctx context.Context, work Work) error {
	if p.disposed.Load() {
		return fmt.Errorf("primary context %s: %w", p.name, ErrSessionDisposed)
	}
	if p.IsCurrent() {
		work(ctx)
		return nil
	}
	if p.run == nil {
		return fmt.Errorf("primary context %s: no host scheduler: %w", p.name, ErrPrimaryUnbound)
	}

	// Either the host's drain job or a pumping bridge caller runs the item,
	// whichever claims it first.
	var claimed atomic.Bool
	p.queue.Push(func(context.Context) {
		if claimed.CompareAndSwap(false, true) {
			work(ctx)
		}
	})
	select {
	case p.signal <- struct{}{}:
	default:
	}
	p.metrics.RecordQueueDepth(p.name, p.queue.Len())

	if err := p.run(p.drainOne); err != nil && claimed.CompareAndSwap(false, true) {
		p.metrics.RecordTaskRejected(p.name, "host refused")
		return fmt.Errorf("primary context %s: host refused work: %w", p.name, err)
	}
	return nil
}

// drainOne is the job handed to the host for every queued item.
func (p *PrimaryContext) drainOne(context.Context) {
	if !p.IsBound() {
		p.bindTo(GoroutineID())
	}
	if w, ok := p.queue.Pop(); ok {
		w(context.Background())
	}
}

// runUntil drains the handoff queue on the calling (primary) goroutine until
// done closes or ctx expires.
func (p *PrimaryContext) runUntil(ctx context.Context, done <-chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if w, ok := p.queue.Pop(); ok {
			w(context.Background())
			continue
		}

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.signal:
		}
	}
}

// Pending returns the number of items waiting in the handoff queue.
func (p *PrimaryContext) Pending() int {
	return p.queue.Len()
}

// Dispose stops accepting work and drops queued handoffs.
func (p *PrimaryContext) Dispose() error {
	if p.disposed.CompareAndSwap(false, true) {
		p.queue.Clear()
	}
	return nil
}

func (p *PrimaryContext) IsDisposed() bool {
	return p.disposed.Load()
}

// =============================================================================
// WorkerContext
// =============================================================================

// WorkerContext hands every submission to a pool. It never claims affinity,
// so a task resuming on the worker role from a worker goroutine is
// resubmitted rather than continued inline.
type WorkerContext struct {
	name  string
	pool  *GoroutineThreadPool
	run   func(Work) error
	grace time.Duration

	disposed atomic.Bool
	logger   Logger
}

// NewWorkerContext creates a worker context that owns pool. The pool is
// started here and stopped by Dispose, allowing grace for running work.
func NewWorkerContext(name string, pool *GoroutineThreadPool, grace time.Duration, logger Logger) *WorkerContext {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	pool.Start(context.Background())
	return &WorkerContext{name: name, pool: pool, run: pool.Post, grace: grace, logger: logger}
}

// NewHostWorkerContext creates a worker context backed by the host's own pool.
func NewHostWorkerContext(name string, run func(Work) error, logger Logger) *WorkerContext {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &WorkerContext{name: name, run: run, logger: logger}
}

func (w *WorkerContext) Role() Role { return RoleWorker }

func (w *WorkerContext) IsCurrent() bool { return false }

func (w *WorkerContext) Submit(ctx context.Context, work Work) error {
	if w.disposed.Load() {
		return fmt.Errorf("worker context %s: %w", w.name, ErrSessionDisposed)
	}
	if err := w.run(func(context.Context) { work(ctx) }); err != nil {
		return fmt.Errorf("worker context %s: %w", w.name, err)
	}
	return nil
}

// Pool returns the owned pool, or nil for host-backed contexts.
func (w *WorkerContext) Pool() *GoroutineThreadPool {
	return w.pool
}

// Dispose stops the owned pool. Called from one of the pool's own workers,
// the stop runs in the background so the caller does not wait on itself.
func (w *WorkerContext) Dispose() error {
	if !w.disposed.CompareAndSwap(false, true) || w.pool == nil {
		return nil
	}
	if w.pool.IsWorkerGoroutine() {
		go func() {
			if err := w.pool.StopGraceful(w.grace); err != nil {
				w.logger.Warn("worker pool stop failed", F("owner", w.name), F("error", err))
			}
		}()
		return nil
	}
	return w.pool.StopGraceful(w.grace)
}

func (w *WorkerContext) IsDisposed() bool {
	return w.disposed.Load()
}
