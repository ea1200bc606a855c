package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Session is the per-owner scope holding both execution contexts and the
// registry of tasks still in flight. Sessions are created by a Registry.
type Session struct {
	owner      Owner
	name       string
	config     Config
	primary    *PrimaryContext
	worker     *WorkerContext
	supervisor *ExceptionSupervisor
	registry   *Registry
	logger     Logger
	metrics    Metrics
	history    *executionHistory
	delays     *DelayManager
	createdAt  time.Time

	sinkMu sync.RWMutex
	sink   ExceptionSink

	mu       sync.Mutex
	tasks    map[TaskID]*Task
	disposed atomic.Bool

	disposeOnce sync.Once
	disposeErr  error

	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64

	busOnce  sync.Once
	bus      *EventBus
	cmdOnce  sync.Once
	commands *CommandExecutor
}

// Owner returns the entity the session belongs to.
func (s *Session) Owner() Owner { return s.owner }

// Name returns the owner's name, captured at creation.
func (s *Session) Name() string { return s.name }

// Config returns the effective configuration of the session.
func (s *Session) Config() Config { return s.config }

func (s *Session) Primary() *PrimaryContext { return s.primary }

func (s *Session) Worker() *WorkerContext { return s.worker }

// Context returns the execution context for role.
func (s *Session) Context(role Role) ExecutionContext {
	if role == RoleWorker {
		return s.worker
	}
	return s.primary
}

func (s *Session) IsDisposed() bool { return s.disposed.Load() }

// Sink returns the exception sink uncaught failures are logged to.
func (s *Session) Sink() ExceptionSink {
	s.sinkMu.RLock()
	defer s.sinkMu.RUnlock()
	return s.sink
}

// SetSink replaces the exception sink for this owner. nil restores the
// registry's configured sink.
func (s *Session) SetSink(sink ExceptionSink) {
	if sink == nil {
		sink = s.config.Sink
	}
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sink = sink
}

// OnException subscribes l to this owner's uncaught failures.
func (s *Session) OnException(l ExceptionListener) (unsubscribe func()) {
	return s.supervisor.Subscribe(s.owner, l)
}

// Tasks returns the tasks that have not terminated yet.
func (s *Session) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// TaskCount returns the number of tasks that have not terminated yet.
func (s *Session) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// RecentTasks returns up to limit finished tasks, newest first.
func (s *Session) RecentTasks(limit int) []TaskRecord {
	return s.history.Recent(limit)
}

// Stats returns a point-in-time snapshot of the session.
func (s *Session) Stats() SessionStats {
	stats := SessionStats{
		Owner:         s.name,
		Disposed:      s.IsDisposed(),
		PrimaryBound:  s.primary.IsBound(),
		PrimaryQueued: s.primary.Pending(),
		Completed:     s.completed.Load(),
		Failed:        s.failed.Load(),
		Cancelled:     s.cancelled.Load(),
	}
	for _, t := range s.Tasks() {
		stats.Tasks++
		switch t.State() {
		case TaskRunning:
			stats.Running++
		case TaskSuspended:
			stats.Suspended++
		}
	}
	if pool := s.worker.Pool(); pool != nil {
		stats.WorkerQueued = pool.QueuedWorkCount()
		stats.WorkerActive = pool.ActiveWorkCount()
	}
	if last, ok := s.history.Last(); ok {
		stats.LastTaskName = last.Name
		stats.LastTaskAt = last.FinishedAt
	}
	return stats
}

// Launch starts body as a fire-and-forget task. See the package-level Launch.
func (s *Session) Launch(affinity Role, body Step) (*Task, error) {
	return Launch(s, affinity, body)
}

// InvokeAndAwait runs body and blocks for its outcome. See the package-level InvokeAndAwait.
func (s *Session) InvokeAndAwait(ctx context.Context, affinity Role, body Step) (any, error) {
	return InvokeAndAwait(ctx, s, affinity, body)
}

// Events returns the session's event bus.
func (s *Session) Events() *EventBus {
	s.busOnce.Do(func() { s.bus = newEventBus(s) })
	return s.bus
}

// Commands returns the session's command executor.
func (s *Session) Commands() *CommandExecutor {
	s.cmdOnce.Do(func() { s.commands = newCommandExecutor(s) })
	return s.commands
}

// DisposeSession disposes the session through its registry. It is the
// trigger hosts use under ShutdownManual.
func (s *Session) DisposeSession() error {
	if s.registry != nil {
		return s.registry.Dispose(s.owner)
	}
	return s.dispose()
}

func (s *Session) register(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed.Load() {
		return fmt.Errorf("session %s: %w", s.name, ErrSessionDisposed)
	}
	s.tasks[t.id] = t
	return nil
}

// taskFinished removes a terminated task, records it and, for failures of
// fire-and-forget tasks, notifies the supervisor.
func (s *Session) taskFinished(t *Task, report bool) {
	s.mu.Lock()
	delete(s.tasks, t.id)
	s.mu.Unlock()

	rec := t.record()
	s.history.Add(rec)
	s.metrics.RecordTaskDuration(s.name, rec.State, rec.Duration)

	switch rec.State {
	case TaskCompleted:
		s.completed.Add(1)
	case TaskFailed:
		s.failed.Add(1)
		if report && !t.bridged {
			s.supervisor.OnUncaught(s, t, rec.Err)
		}
	case TaskCancelled:
		s.cancelled.Add(1)
	}
}

// await blocks until t terminates. On the primary goroutine it keeps the
// handoff queue moving so t can resume there. While the primary goroutine is
// still unknown, a task handed off to it fails with ErrPrimaryUnbound if
// the host does not run it within BindTimeout.
func (s *Session) await(ctx context.Context, t *Task) error {
	select {
	case <-t.Done():
		return nil
	default:
	}

	p := s.primary
	if p.IsCurrent() {
		return p.runUntil(ctx, t.Done())
	}

	if !p.IsBound() {
		p.Probe()

		// Only a task waiting on the primary context is bounded by BindTimeout.
		select {
		case <-t.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Bound():
			return t.Wait(ctx)
		case <-t.primaryWanted:
		}

		timer := time.NewTimer(s.config.BindTimeout)
		defer timer.Stop()

		select {
		case <-t.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Bound():
		case <-timer.C:
			t.Cancel()
			return fmt.Errorf("session %s: primary goroutine did not run within %v: %w", s.name, s.config.BindTimeout, ErrPrimaryUnbound)
		}
	}
	return t.Wait(ctx)
}

// dispose cancels every task still registered and tears down both contexts.
// It is idempotent; teardown failures are aggregated and logged.
func (s *Session) dispose() error {
	s.disposeOnce.Do(func() {
		s.mu.Lock()
		s.disposed.Store(true)
		tasks := make([]*Task, 0, len(s.tasks))
		for _, t := range s.tasks {
			tasks = append(tasks, t)
		}
		s.mu.Unlock()

		for _, t := range tasks {
			t.Cancel()
		}

		var result *multierror.Error
		if err := s.primary.Dispose(); err != nil {
			result = multierror.Append(result, fmt.Errorf("primary context: %w", err))
		}
		if err := s.worker.Dispose(); err != nil {
			result = multierror.Append(result, fmt.Errorf("worker context: %w", err))
		}
		s.supervisor.forget(s.owner)

		s.disposeErr = result.ErrorOrNil()
		if s.disposeErr != nil {
			s.logger.Warn("session teardown incomplete", F("owner", s.name), F("error", s.disposeErr))
		}
		s.logger.Info("session disposed", F("owner", s.name), F("cancelled_tasks", len(tasks)))
	})
	return s.disposeErr
}
