package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Test owners, sinks and metrics shared by the package tests
// =============================================================================

type testOwner struct {
	name     string
	disabled bool
}

func (o *testOwner) Name() string    { return o.name }
func (o *testOwner) IsEnabled() bool { return !o.disabled }

func newTestOwner(name string) *testOwner {
	return &testOwner{name: name}
}

type uncaughtCall struct {
	Owner  string
	TaskID TaskID
	Err    error
}

// recordingSink captures every LogUncaught call.
type recordingSink struct {
	mu     sync.Mutex
	calls  []uncaughtCall
	notify chan uncaughtCall
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan uncaughtCall, 64)}
}

func (s *recordingSink) LogUncaught(owner string, taskID TaskID, err error) {
	call := uncaughtCall{Owner: owner, TaskID: taskID, Err: err}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	s.notify <- call
}

func (s *recordingSink) Calls() []uncaughtCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uncaughtCall(nil), s.calls...)
}

// TestMetrics records every Metrics call.
type TestMetrics struct {
	mu         sync.Mutex
	durations  []TaskState
	panics     []any
	failures   []error
	depths     []int
	rejections []string
}

func NewTestMetrics() *TestMetrics {
	return &TestMetrics{}
}

func (m *TestMetrics) RecordTaskDuration(owner string, state TaskState, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations = append(m.durations, state)
}

func (m *TestMetrics) RecordTaskPanic(owner string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics = append(m.panics, panicInfo)
}

func (m *TestMetrics) RecordTaskFailure(owner string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, err)
}

func (m *TestMetrics) RecordQueueDepth(name string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths = append(m.depths, depth)
}

func (m *TestMetrics) RecordTaskRejected(name string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections = append(m.rejections, reason)
}

func (m *TestMetrics) States() []TaskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TaskState(nil), m.durations...)
}

func (m *TestMetrics) Panics() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.panics)
}

func (m *TestMetrics) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failures)
}

func (m *TestMetrics) Rejections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.rejections...)
}

// TestPanicHandler is a mock panic handler for testing
type TestPanicHandler struct {
	mu    sync.Mutex
	calls []PanicCall
}

type PanicCall struct {
	RunnerName string
	WorkerID   int
	PanicInfo  any
}

func NewTestPanicHandler() *TestPanicHandler {
	return &TestPanicHandler{}
}

func (h *TestPanicHandler) HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, PanicCall{RunnerName: runnerName, WorkerID: workerID, PanicInfo: panicInfo})
}

func (h *TestPanicHandler) Calls() []PanicCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]PanicCall(nil), h.calls...)
}

// TestRejectedTaskHandler counts rejections.
type TestRejectedTaskHandler struct {
	mu      sync.Mutex
	reasons []string
}

func (h *TestRejectedTaskHandler) HandleRejectedTask(name string, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
}

func (h *TestRejectedTaskHandler) Reasons() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reasons...)
}

// newTestRegistry returns a registry with quiet logging and a recording
// sink, closed when the test ends.
func newTestRegistry(t *testing.T, mutate ...func(*Config)) (*Registry, *recordingSink) {
	t.Helper()
	sink := newRecordingSink()
	cfg := Config{
		WorkerCount:         4,
		ShutdownGracePeriod: time.Second,
		BindTimeout:         time.Second,
		Logger:              NewNoOpLogger(),
		Sink:                sink,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	r := NewRegistry(cfg)
	t.Cleanup(func() { _ = r.Close() })
	return r, sink
}

// onPrimary runs fn on the registry's primary goroutine and waits for it.
func onPrimary(t *testing.T, r *Registry, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if err := r.PrimaryRunner().PostTask(func(context.Context) {
		defer close(done)
		fn()
	}); err != nil {
		t.Fatalf("post to primary: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for primary goroutine")
	}
}

func waitTask(t *testing.T, task *Task) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := task.Wait(ctx); err != nil {
		t.Fatalf("task %s did not terminate: %v", task.Name(), err)
	}
}
