package core

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// WorkScheduler is the shared queue a GoroutineThreadPool's workers pull from.
type WorkScheduler struct {
	name        string
	queue       WorkQueue
	signal      chan struct{}
	workerCount int

	metricQueued atomic.Int32 // Waiting in queue
	metricActive atomic.Int32 // Executing in Worker

	// Handlers and Metrics
	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler

	// Lifecycle
	shuttingDown atomic.Bool
}

func NewWorkScheduler(name string, workerCount int) *WorkScheduler {
	return NewWorkSchedulerWithConfig(name, workerCount, DefaultWorkSchedulerConfig())
}

func NewWorkSchedulerWithConfig(name string, workerCount int, config *WorkSchedulerConfig) *WorkScheduler {
	if config == nil {
		config = &WorkSchedulerConfig{}
	}
	config.applyDefaults()

	return &WorkScheduler{
		name:                name,
		queue:               NewFIFOWorkQueue(),
		signal:              make(chan struct{}, workerCount*2),
		workerCount:         workerCount,
		panicHandler:        config.PanicHandler,
		metrics:             config.Metrics,
		rejectedTaskHandler: config.RejectedTaskHandler,
	}
}

// Post queues work for the next free worker.
func (s *WorkScheduler) Post(w Work) error {
	if s.shuttingDown.Load() {
		s.rejectedTaskHandler.HandleRejectedTask(s.name, "shutting down")
		s.metrics.RecordTaskRejected(s.name, "shutting down")
		return ErrSchedulerShutdown
	}

	s.queue.Push(w)
	depth := s.metricQueued.Add(1)
	s.metrics.RecordQueueDepth(s.name, int(depth))

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, but work is already queued
	}
	return nil
}

// GetWork blocks until work is available or stopCh closes. The returned work
// is already counted as active; the caller must call OnWorkEnd when it returns.
func (s *WorkScheduler) GetWork(stopCh <-chan struct{}) (Work, bool) {
	for {
		if w, ok := s.queue.Pop(); ok {
			s.metricActive.Add(1)
			s.metricQueued.Add(-1)
			return w, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

// Shutdown stops accepting work and drops everything still queued.
func (s *WorkScheduler) Shutdown() {
	s.shuttingDown.Store(true)
	s.clear()
}

// ShutdownGraceful waits for all queued and active work to complete
// Returns error if timeout is exceeded before work completes
func (s *WorkScheduler) ShutdownGraceful(timeout time.Duration) error {
	s.shuttingDown.Store(true)

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.QueuedWorkCount() == 0 && s.ActiveWorkCount() == 0 {
			return nil
		}
		select {
		case <-deadline:
			s.clear()
			return fmt.Errorf("scheduler %s: graceful shutdown timed out after %v", s.name, timeout)
		case <-ticker.C:
		}
	}
}

func (s *WorkScheduler) clear() {
	dropped := s.queue.PopUpTo(math.MaxInt)
	s.metricQueued.Add(-int32(len(dropped)))
}

// Metrics
func (s *WorkScheduler) Name() string         { return s.name }
func (s *WorkScheduler) WorkerCount() int     { return s.workerCount }
func (s *WorkScheduler) QueuedWorkCount() int { return int(s.metricQueued.Load()) }
func (s *WorkScheduler) ActiveWorkCount() int { return int(s.metricActive.Load()) }
func (s *WorkScheduler) IsShuttingDown() bool { return s.shuttingDown.Load() }

func (s *WorkScheduler) OnWorkEnd() {
	s.metricActive.Add(-1)
}

// GetPanicHandler returns the panic handler for this scheduler
func (s *WorkScheduler) GetPanicHandler() PanicHandler {
	return s.panicHandler
}

// GetMetrics returns the metrics collector for this scheduler
func (s *WorkScheduler) GetMetrics() Metrics {
	return s.metrics
}
