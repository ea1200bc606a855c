package core

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// GoroutineThreadPool manages a set of worker goroutines
// Responsible for pulling work from its WorkScheduler and executing it
type GoroutineThreadPool struct {
	id        string
	workers   int
	scheduler *WorkScheduler
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex

	// goroutine id -> worker index, for IsWorkerGoroutine
	goroutines sync.Map
}

// NewGoroutineThreadPool creates a new GoroutineThreadPool.
// workers <= 0 means one worker per CPU.
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, DefaultWorkSchedulerConfig())
}

func NewGoroutineThreadPoolWithConfig(id string, workers int, config *WorkSchedulerConfig) *GoroutineThreadPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &GoroutineThreadPool{
		id:        id,
		workers:   workers,
		scheduler: NewWorkSchedulerWithConfig(id, workers, config),
	}
}

// Start starts all worker goroutines
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return // Already running
	}

	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		tg.wg.Add(1)
		go tg.workerLoop(i, tg.ctx)
	}
}

// Stop stops the thread pool, dropping queued work and waiting for running work.
func (tg *GoroutineThreadPool) Stop() {
	// Always shutdown scheduler to release queued closures
	// even if pool was never started
	tg.scheduler.Shutdown()

	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return
	}
	tg.runningMu.Unlock()

	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()
}

// StopGraceful stops the thread pool gracefully, waiting for queued work to complete.
// Returns error if timeout is exceeded before work completes; workers still
// busy at that point are left to exit once their current work returns.
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		tg.scheduler.Shutdown()
		return nil
	}
	tg.running = false
	tg.runningMu.Unlock()

	drainErr := tg.scheduler.ShutdownGraceful(timeout)

	if tg.cancel != nil {
		tg.cancel()
	}

	if drainErr != nil {
		if !tg.joinTimeout(timeout) {
			return fmt.Errorf("pool %s: workers still busy after cancel: %w", tg.id, drainErr)
		}
		return drainErr
	}
	tg.Join()
	return nil
}

func (tg *GoroutineThreadPool) joinTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		tg.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ID returns the ID of the thread pool
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// IsRunning returns whether the thread pool is running
func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

// IsWorkerGoroutine reports whether the caller is one of this pool's workers.
func (tg *GoroutineThreadPool) IsWorkerGoroutine() bool {
	_, ok := tg.goroutines.Load(GoroutineID())
	return ok
}

// workerLoop is the main loop for each worker
func (tg *GoroutineThreadPool) workerLoop(id int, ctx context.Context) {
	defer tg.wg.Done()

	gid := GoroutineID()
	tg.goroutines.Store(gid, id)
	defer tg.goroutines.Delete(gid)

	stopCh := ctx.Done()
	for {
		w, ok := tg.scheduler.GetWork(stopCh)
		if !ok {
			return
		}
		tg.runWork(ctx, id, w)
	}
}

func (tg *GoroutineThreadPool) runWork(ctx context.Context, workerID int, w Work) {
	defer func() {
		tg.scheduler.OnWorkEnd()
		if r := recover(); r != nil {
			tg.scheduler.GetMetrics().RecordTaskPanic(tg.id, r)
			tg.scheduler.GetPanicHandler().HandlePanic(ctx, tg.id, workerID, r, debug.Stack())
		}
	}()
	w(ctx)
}

// Join waits for all worker goroutines to finish
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

// WorkerCount returns the number of workers
func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.workers
}

func (tg *GoroutineThreadPool) QueuedWorkCount() int {
	return tg.scheduler.QueuedWorkCount()
}

func (tg *GoroutineThreadPool) ActiveWorkCount() int {
	return tg.scheduler.ActiveWorkCount()
}

// Post queues work on the pool.
func (tg *GoroutineThreadPool) Post(w Work) error {
	return tg.scheduler.Post(w)
}

// Stats returns a point-in-time snapshot of the pool.
func (tg *GoroutineThreadPool) Stats() PoolStats {
	return PoolStats{
		ID:      tg.id,
		Workers: tg.workers,
		Queued:  tg.QueuedWorkCount(),
		Active:  tg.ActiveWorkCount(),
		Running: tg.IsRunning(),
	}
}
