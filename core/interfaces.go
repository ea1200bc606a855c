package core

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling panics in raw submitted work
// =============================================================================

// PanicHandler is called when Work posted directly to a pool or runner panics.
// Panics inside task steps never reach it; they fail the task instead.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when work panics.
	//
	// Parameters:
	// - ctx: The context the work ran with
	// - runnerName: The name of the pool or runner where the panic occurred
	// - workerID: The ID of the worker (for thread pool workers, -1 for single-threaded runners)
	// - panicInfo: The panic value recovered from the work
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte)
}

// LoggerPanicHandler reports panics through a Logger.
type LoggerPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information at error level.
func (h *LoggerPanicHandler) HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte) {
	h.Logger.Error("work panicked",
		F("runner", runnerName),
		F("worker", workerID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting task execution metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordTaskDuration records how long a task lived from launch to its terminal state.
	//
	// Parameters:
	// - owner: The name of the owner whose session ran the task
	// - state: The terminal state (completed, failed or cancelled)
	// - duration: Wall time between launch and termination
	RecordTaskDuration(owner string, state TaskState, duration time.Duration)

	// RecordTaskPanic records that a task step or raw work panicked.
	RecordTaskPanic(owner string, panicInfo any)

	// RecordTaskFailure records a failure routed to the exception supervisor.
	RecordTaskFailure(owner string, err error)

	// RecordQueueDepth records the current depth of a handoff or pool queue.
	//
	// Parameters:
	// - name: The owner or pool name
	// - depth: The current number of items in the queue
	RecordQueueDepth(name string, depth int)

	// RecordTaskRejected records that a submission was rejected (e.g., during shutdown).
	RecordTaskRejected(name string, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordTaskDuration is a no-op.
func (m *NilMetrics) RecordTaskDuration(owner string, state TaskState, duration time.Duration) {}

// RecordTaskPanic is a no-op.
func (m *NilMetrics) RecordTaskPanic(owner string, panicInfo any) {}

// RecordTaskFailure is a no-op.
func (m *NilMetrics) RecordTaskFailure(owner string, err error) {}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(name string, depth int) {}

// RecordTaskRejected is a no-op.
func (m *NilMetrics) RecordTaskRejected(name string, reason string) {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected work
// =============================================================================

// RejectedTaskHandler is called when work is rejected by a scheduler that is
// shutting down.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(name string, reason string)
}

// LoggerRejectedTaskHandler logs rejected work at warn level.
type LoggerRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejection.
func (h *LoggerRejectedTaskHandler) HandleRejectedTask(name string, reason string) {
	h.Logger.Warn("work rejected", F("runner", name), F("reason", reason))
}

// =============================================================================
// WorkSchedulerConfig: Configuration for WorkScheduler
// =============================================================================

// WorkSchedulerConfig holds configuration options for WorkScheduler.
// All handlers are optional; if not provided, default implementations will be used.
type WorkSchedulerConfig struct {
	// Logger backs the default handlers. Defaults to DefaultLogger.
	Logger Logger

	// PanicHandler is called when work panics. Defaults to LoggerPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record queue metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when work is rejected. Defaults to LoggerRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler
}

// DefaultWorkSchedulerConfig returns a config with default handlers.
func DefaultWorkSchedulerConfig() *WorkSchedulerConfig {
	cfg := &WorkSchedulerConfig{}
	cfg.applyDefaults()
	return cfg
}

func (c *WorkSchedulerConfig) applyDefaults() {
	if c.Logger == nil {
		c.Logger = NewDefaultLogger()
	}
	if c.PanicHandler == nil {
		c.PanicHandler = &LoggerPanicHandler{Logger: c.Logger}
	}
	if c.Metrics == nil {
		c.Metrics = &NilMetrics{}
	}
	if c.RejectedTaskHandler == nil {
		c.RejectedTaskHandler = &LoggerRejectedTaskHandler{Logger: c.Logger}
	}
}

// =============================================================================
// HostScheduler: primitives supplied by the embedding host
// =============================================================================

// HostScheduler is the host's native scheduling surface. RunOnPrimary must
// eventually run work on the host's single primary goroutine, RunOnWorker on
// any background goroutine. Both return an error when the host refuses work.
type HostScheduler interface {
	RunOnPrimary(work Work) error
	RunOnWorker(work Work) error
}

// PrimaryIdentifier is implemented by hosts that know their primary goroutine
// up front. The primary context binds to it eagerly instead of probing.
type PrimaryIdentifier interface {
	PrimaryGoroutineID() uint64
}

// HostSchedulerFuncs adapts two functions to HostScheduler. A nil field
// reports ErrPrimaryUnbound (primary) or falls back to a new goroutine (worker).
type HostSchedulerFuncs struct {
	Primary func(work Work) error
	Worker  func(work Work) error
}

// RunOnPrimary implements HostScheduler.
func (h HostSchedulerFuncs) RunOnPrimary(work Work) error {
	if h.Primary == nil {
		return ErrPrimaryUnbound
	}
	return h.Primary(work)
}

// RunOnWorker implements HostScheduler.
func (h HostSchedulerFuncs) RunOnWorker(work Work) error {
	if h.Worker == nil {
		go work(context.Background())
		return nil
	}
	return h.Worker(work)
}

// =============================================================================
// ExceptionSink: where uncaught task failures are logged
// =============================================================================

// ExceptionSink receives every uncaught failure of a fire-and-forget task.
type ExceptionSink interface {
	LogUncaught(owner string, taskID TaskID, err error)
}

// ExceptionSinkFunc adapts a function to ExceptionSink.
type ExceptionSinkFunc func(owner string, taskID TaskID, err error)

// LogUncaught implements ExceptionSink.
func (f ExceptionSinkFunc) LogUncaught(owner string, taskID TaskID, err error) {
	f(owner, taskID, err)
}

// LoggerSink writes uncaught failures to a Logger, including the stack of
// recovered panics.
type LoggerSink struct {
	Logger Logger
}

// LogUncaught implements ExceptionSink.
func (s *LoggerSink) LogUncaught(owner string, taskID TaskID, err error) {
	fields := []Field{F("owner", owner), F("task_id", taskID.String()), F("error", err)}
	var pe *PanicError
	if errors.As(err, &pe) {
		fields = append(fields, F("stack", string(pe.Stack)))
	}
	s.Logger.Error("uncaught task failure", fields...)
}
