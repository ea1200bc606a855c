package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newQuietPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, &WorkSchedulerConfig{Logger: NewNoOpLogger()})
}

func TestGoroutineThreadPool_Lifecycle(t *testing.T) {
	pool := newQuietPool("test-pool", 2)

	if pool.ID() != "test-pool" {
		t.Errorf("expected ID 'test-pool', got %s", pool.ID())
	}

	if pool.IsRunning() {
		t.Error("pool should not be running initially")
	}

	pool.Start(context.Background())

	if !pool.IsRunning() {
		t.Error("pool should be running after Start()")
	}

	if pool.WorkerCount() != 2 {
		t.Errorf("expected 2 workers, got %d", pool.WorkerCount())
	}

	pool.Stop()

	if pool.IsRunning() {
		t.Error("pool should not be running after Stop()")
	}
}

func TestGoroutineThreadPool_DefaultWorkerCount(t *testing.T) {
	pool := newQuietPool("cpu-pool", 0)
	if pool.WorkerCount() < 1 {
		t.Errorf("WorkerCount = %d, want at least 1", pool.WorkerCount())
	}
}

func TestGoroutineThreadPool_WorkExecution(t *testing.T) {
	pool := newQuietPool("exec-pool", 4)
	pool.Start(context.Background())
	defer pool.Stop()

	var counter atomic.Int32
	var wg sync.WaitGroup
	workCount := 10

	wg.Add(workCount)
	for i := 0; i < workCount; i++ {
		if err := pool.Post(func(ctx context.Context) {
			defer wg.Done()
			counter.Add(1)
			time.Sleep(10 * time.Millisecond)
		}); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}

	wg.Wait()

	if val := counter.Load(); val != int32(workCount) {
		t.Errorf("expected %d executed items, got %d", workCount, val)
	}
}

// TestGoroutineThreadPool_WorkerIdentity verifies IsWorkerGoroutine
// Given: A running pool
// When: IsWorkerGoroutine is called inside and outside posted work
// Then: It is true only on a worker goroutine
func TestGoroutineThreadPool_WorkerIdentity(t *testing.T) {
	pool := newQuietPool("identity-pool", 2)
	pool.Start(context.Background())
	defer pool.Stop()

	inside := make(chan bool, 1)
	pool.Post(func(context.Context) { inside <- pool.IsWorkerGoroutine() })

	select {
	case ok := <-inside:
		if !ok {
			t.Error("IsWorkerGoroutine = false on a worker")
		}
	case <-time.After(time.Second):
		t.Fatal("work never ran")
	}
	if pool.IsWorkerGoroutine() {
		t.Error("IsWorkerGoroutine = true on the test goroutine")
	}
}

// TestGoroutineThreadPool_PanicRecovery verifies a panicking item does not kill its worker
func TestGoroutineThreadPool_PanicRecovery(t *testing.T) {
	handler := NewTestPanicHandler()
	metrics := NewTestMetrics()
	pool := NewGoroutineThreadPoolWithConfig("panic-pool", 1, &WorkSchedulerConfig{
		Logger:       NewNoOpLogger(),
		PanicHandler: handler,
		Metrics:      metrics,
	})
	pool.Start(context.Background())
	defer pool.Stop()

	done := make(chan struct{})
	pool.Post(func(context.Context) { panic("boom") })
	pool.Post(func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	calls := handler.Calls()
	if len(calls) != 1 || calls[0].PanicInfo != "boom" || calls[0].WorkerID != 0 {
		t.Errorf("panic calls = %+v", calls)
	}
	if metrics.Panics() != 1 {
		t.Errorf("recorded panics = %d, want 1", metrics.Panics())
	}
}

func TestGoroutineThreadPool_Stats(t *testing.T) {
	pool := newQuietPool("stats-pool", 1)
	pool.Start(context.Background())
	defer pool.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	pool.Post(func(context.Context) {
		close(started)
		<-block
	})
	<-started
	pool.Post(func(context.Context) {})

	stats := pool.Stats()
	close(block)

	if stats.ID != "stats-pool" || stats.Workers != 1 || !stats.Running {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Active != 1 || stats.Queued != 1 {
		t.Errorf("active=%d queued=%d, want 1 and 1", stats.Active, stats.Queued)
	}
}

// TestGoroutineThreadPool_StopGraceful verifies queued work drains before stop
func TestGoroutineThreadPool_StopGraceful(t *testing.T) {
	pool := newQuietPool("graceful-pool", 2)
	pool.Start(context.Background())

	var counter atomic.Int32
	for i := 0; i < 20; i++ {
		pool.Post(func(context.Context) {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		})
	}

	if err := pool.StopGraceful(2 * time.Second); err != nil {
		t.Fatalf("StopGraceful: %v", err)
	}
	if counter.Load() != 20 {
		t.Errorf("executed %d items before stop, want 20", counter.Load())
	}
	if pool.IsRunning() {
		t.Error("pool still running")
	}
	if err := pool.Post(func(context.Context) {}); err == nil {
		t.Error("Post succeeded on a stopped pool")
	}
}

// TestGoroutineThreadPool_StopGracefulTimeout verifies a stuck worker does not block forever
func TestGoroutineThreadPool_StopGracefulTimeout(t *testing.T) {
	pool := newQuietPool("stuck-pool", 1)
	pool.Start(context.Background())

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	pool.Post(func(context.Context) {
		close(started)
		<-release
	})
	<-started

	begin := time.Now()
	err := pool.StopGraceful(50 * time.Millisecond)

	if err == nil {
		t.Error("expected an error while a worker is stuck")
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Errorf("StopGraceful took %v", elapsed)
	}
}
