package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// TaskState is the lifecycle position of a Task.
type TaskState int32

const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskSuspended
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskRunning:
		return "running"
	case TaskSuspended:
		return "suspended"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// IsTerminal reports whether no further steps will run.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Step is one uninterrupted slice of a task. It runs entirely on one
// context and ends by naming what happens next.
type Step func(ctx context.Context) (Suspension, error)

// Suspension is the value a Step returns: either a continuation bound to a
// role, or completion with a result.
type Suspension struct {
	next   Step
	role   Role
	delay  time.Duration
	result any
}

// ResumeOn suspends the task and continues with next on the given role.
// Resuming on the role the step already runs on continues inline for the
// primary role and resubmits for the worker role.
func ResumeOn(role Role, next Step) Suspension {
	return Suspension{next: next, role: role}
}

// ResumeAfter suspends the task for at least d, then continues with next on
// the given role. The task holds no goroutine while it waits.
func ResumeAfter(d time.Duration, role Role, next Step) Suspension {
	return Suspension{next: next, role: role, delay: d}
}

// TickDuration is the length of one host tick at 20 ticks per second.
const TickDuration = 50 * time.Millisecond

// Ticks converts a tick count to a duration for ResumeAfter.
func Ticks(n int) time.Duration {
	return time.Duration(n) * TickDuration
}

// Complete finishes the task with result.
func Complete(result any) Suspension {
	return Suspension{result: result}
}

// Done finishes the task without a result.
func Done() Suspension {
	return Suspension{}
}

// IsComplete reports whether s ends the task.
func (s Suspension) IsComplete() bool {
	return s.next == nil
}

// Task is a resumable computation owned by a Session.
type Task struct {
	id      TaskID
	name    string
	session *Session
	bridged bool

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	state           TaskState
	cancelRequested bool
	result          any
	err             error
	done            chan struct{}

	// primaryWanted closes the first time a step is handed off to the
	// primary context.
	primaryWanted chan struct{}
	primaryOnce   sync.Once

	hops      atomic.Int32
	startedAt time.Time
}

func newTask(s *Session, name string, bridged bool) *Task {
	t := &Task{
		id:        GenerateTaskID(),
		name:      name,
		session:   s,
		bridged:   bridged,
		done:      make(chan struct{}),
		startedAt: time.Now(),

		primaryWanted: make(chan struct{}),
	}
	ctx := context.WithValue(context.Background(), sessionKey, s)
	ctx = context.WithValue(ctx, taskKey, t)
	t.ctx, t.cancel = context.WithCancel(ctx)
	return t
}

func (t *Task) ID() TaskID           { return t.id }
func (t *Task) Name() string         { return t.name }
func (t *Task) Session() *Session    { return t.session }
func (t *Task) IsBridged() bool      { return t.bridged }
func (t *Task) StartedAt() time.Time { return t.startedAt }

// Hops returns how many times the task was handed to another goroutine.
func (t *Task) Hops() int { return int(t.hops.Load()) }

// State returns the current lifecycle state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task terminates or ctx expires.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the outcome of a terminated task: the completion value,
// the failure error, or ErrTaskCancelled.
func (t *Task) Result() (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case TaskCompleted:
		return t.result, nil
	case TaskFailed:
		return nil, t.err
	case TaskCancelled:
		return nil, ErrTaskCancelled
	default:
		return nil, fmt.Errorf("task %s is still %s", t.id, t.state)
	}
}

// Err returns the failure of a failed task, or nil.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TaskFailed {
		return t.err
	}
	return nil
}

// Cancel requests cooperative cancellation. A task that is not currently
// executing a step is cancelled immediately; a running step is never
// interrupted and the task is cancelled at its next suspension boundary.
// The step's context is cancelled so blocking steps may return early.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.state.IsTerminal() {
		t.mu.Unlock()
		return
	}
	t.cancelRequested = true
	idle := t.state != TaskRunning
	t.mu.Unlock()

	t.cancel()
	if idle {
		t.finish(TaskCancelled, nil, ErrTaskCancelled)
	}
}

// start submits the first step. A scheduling failure terminates the task
// without involving the supervisor and is returned to the spawner.
func (t *Task) start(role Role, body Step) error {
	if err := t.submit(role, body); err != nil {
		t.finishUnreported(err)
		return err
	}
	return nil
}

func (t *Task) submit(role Role, step Step) error {
	ec := t.session.Context(role)
	ctx := context.WithValue(t.ctx, roleKey, role)
	if !ec.IsCurrent() {
		t.hops.Add(1)
		if role == RolePrimary {
			t.primaryOnce.Do(func() { close(t.primaryWanted) })
		}
	}
	return ec.Submit(ctx, func(ctx context.Context) {
		t.run(ctx, role, step)
	})
}

// run executes steps on the current goroutine for as long as each
// continuation stays on a context the goroutine satisfies.
func (t *Task) run(ctx context.Context, role Role, step Step) {
	for {
		if !t.begin() {
			return
		}

		susp, err := t.invoke(ctx, step)
		switch {
		case err != nil:
			if t.isCancelRequested() && IsCancellation(err) {
				t.finish(TaskCancelled, nil, ErrTaskCancelled)
			} else {
				t.finish(TaskFailed, nil, err)
			}
			return
		case susp.IsComplete():
			t.finish(TaskCompleted, susp.result, nil)
			return
		}

		if !t.suspend() {
			return
		}

		if susp.delay > 0 {
			t.resumeLater(susp)
			return
		}
		next := t.session.Context(susp.role)
		if next.IsCurrent() {
			role, step = susp.role, susp.next
			ctx = context.WithValue(t.ctx, roleKey, role)
			continue
		}
		t.resume(susp.role, susp.next)
		return
	}
}

// resume hands the next step to its context. A disposed session cancels
// the task; any other scheduling error fails it.
func (t *Task) resume(role Role, step Step) {
	if err := t.submit(role, step); err != nil {
		if errors.Is(err, ErrSessionDisposed) {
			t.finish(TaskCancelled, nil, ErrTaskCancelled)
		} else {
			t.finish(TaskFailed, nil, err)
		}
	}
}

func (t *Task) resumeLater(susp Suspension) {
	scheduled := t.session.delays.AddDelayed(func() {
		if t.State().IsTerminal() {
			return
		}
		t.resume(susp.role, susp.next)
	}, susp.delay)
	if !scheduled {
		t.finish(TaskCancelled, nil, ErrTaskCancelled)
	}
}

func (t *Task) invoke(ctx context.Context, step Step) (susp Suspension, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.session.metrics.RecordTaskPanic(t.session.Name(), r)
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return step(ctx)
}

func (t *Task) isCancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelRequested
}

// begin moves the task to running, or cancels it if cancellation was
// requested while it waited.
func (t *Task) begin() bool {
	t.mu.Lock()
	if t.state.IsTerminal() {
		t.mu.Unlock()
		return false
	}
	if t.cancelRequested {
		t.mu.Unlock()
		t.finish(TaskCancelled, nil, ErrTaskCancelled)
		return false
	}
	t.state = TaskRunning
	t.mu.Unlock()
	return true
}

// suspend is the cancellation boundary between two steps.
func (t *Task) suspend() bool {
	t.mu.Lock()
	if t.cancelRequested {
		t.mu.Unlock()
		t.finish(TaskCancelled, nil, ErrTaskCancelled)
		return false
	}
	t.state = TaskSuspended
	t.mu.Unlock()
	return true
}

// finish records the terminal state once and hands the task back to its
// session. Done closes only after the session has recorded the task and the
// supervisor has seen a failure.
func (t *Task) finish(state TaskState, result any, err error) {
	if t.terminate(state, result, err) {
		t.session.taskFinished(t, true)
		close(t.done)
	}
}

// finishUnreported terminates a task whose failure is returned synchronously.
func (t *Task) finishUnreported(err error) {
	state := TaskFailed
	if errors.Is(err, ErrSessionDisposed) {
		state = TaskCancelled
	}
	if t.terminate(state, nil, err) {
		t.session.taskFinished(t, false)
		close(t.done)
	}
}

func (t *Task) terminate(state TaskState, result any, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() {
		return false
	}
	t.state = state
	t.result = result
	t.err = err
	t.cancel()
	return true
}

func (t *Task) record() TaskRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	finishedAt := time.Now()
	var pe *PanicError
	return TaskRecord{
		TaskID:     t.id,
		Name:       t.name,
		Owner:      t.session.Name(),
		State:      t.state,
		Err:        t.err,
		Bridged:    t.bridged,
		Hops:       t.Hops(),
		StartedAt:  t.startedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(t.startedAt),
		Panicked:   errors.As(t.err, &pe),
	}
}
