package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panickingSink struct{}

func (panickingSink) LogUncaught(string, TaskID, error) { panic("sink exploded") }

func newSupervisedSession(t *testing.T) (*Session, *recordingSink, *captureLogger) {
	t.Helper()
	logger := &captureLogger{}
	r, sink := newTestRegistry(t, func(c *Config) { c.Logger = logger })
	s, err := r.GetOrCreate(newTestOwner("supervised"))
	require.NoError(t, err)
	return s, sink, logger
}

// TestSupervisor_SinkThenListenersInOrder verifies delivery order
// Given: Three listeners registered for one owner
// When: A failure is reported
// Then: The sink sees it first, then each listener in registration order
func TestSupervisor_SinkThenListenersInOrder(t *testing.T) {
	// Arrange
	s, sink, _ := newSupervisedSession(t)
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		s.OnException(func(ev *ExceptionEvent) {
			require.Len(t, sink.Calls(), 1, "sink runs before listeners")
			order = append(order, name)
		})
	}
	task := newTask(s, "direct", false)

	// Act
	s.supervisor.OnUncaught(s, task, errors.New("boom"))

	// Assert
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 3, s.supervisor.ListenerCount(s.Owner()))
}

// TestSupervisor_CancelStopsCascade verifies a cancelled event skips later listeners
func TestSupervisor_CancelStopsCascade(t *testing.T) {
	s, _, _ := newSupervisedSession(t)
	var calls []string
	s.OnException(func(ev *ExceptionEvent) {
		calls = append(calls, "first")
		ev.Cancel()
	})
	s.OnException(func(ev *ExceptionEvent) { calls = append(calls, "second") })

	s.supervisor.OnUncaught(s, newTask(s, "direct", false), errors.New("boom"))

	assert.Equal(t, []string{"first"}, calls)
}

// TestSupervisor_NeverPanics verifies panicking sinks and listeners are contained
func TestSupervisor_NeverPanics(t *testing.T) {
	// Arrange
	s, _, logger := newSupervisedSession(t)
	s.SetSink(panickingSink{})
	reached := false
	s.OnException(func(*ExceptionEvent) { panic("listener exploded") })
	s.OnException(func(*ExceptionEvent) { reached = true })

	// Act
	assert.NotPanics(t, func() {
		s.supervisor.OnUncaught(s, newTask(s, "direct", false), errors.New("boom"))
	})

	// Assert
	assert.True(t, reached)
	var panicked []string
	for _, e := range logger.Entries() {
		if e.Level == "error" {
			panicked = append(panicked, e.Msg)
		}
	}
	assert.Equal(t, []string{"exception sink panicked", "exception listener panicked"}, panicked)
}

// TestSupervisor_IgnoresCancellation verifies cancellation is not a failure
func TestSupervisor_IgnoresCancellation(t *testing.T) {
	s, sink, _ := newSupervisedSession(t)
	called := false
	s.OnException(func(*ExceptionEvent) { called = true })

	cancelled := newTask(s, "cancelled", false)
	cancelled.Cancel()
	require.Equal(t, TaskCancelled, cancelled.State())

	s.supervisor.OnUncaught(s, newTask(s, "direct", false), ErrTaskCancelled)
	s.supervisor.OnUncaught(s, newTask(s, "direct", false), fmt.Errorf("step: %w", ErrTaskCancelled))
	s.supervisor.OnUncaught(s, cancelled, context.Canceled)
	s.supervisor.OnUncaught(s, newTask(s, "direct", false), nil)

	assert.Empty(t, sink.Calls())
	assert.False(t, called)
}

// TestSupervisor_ReportsContextErrorOfLiveTask verifies a context error the
// task ran into on its own is a failure like any other
// Given: A launched task that was never cancelled
// When: Its step returns a wrapped context.Canceled
// Then: The task fails and the sink logs it exactly once
func TestSupervisor_ReportsContextErrorOfLiveTask(t *testing.T) {
	// Arrange
	s, sink, _ := newSupervisedSession(t)
	ioErr := fmt.Errorf("read upstream: %w", context.Canceled)

	// Act
	task, err := Launch(s, RoleWorker, func(context.Context) (Suspension, error) {
		return Suspension{}, ioErr
	})
	require.NoError(t, err)
	require.NoError(t, task.Wait(context.Background()))

	// Assert
	assert.Equal(t, TaskFailed, task.State())
	calls := sink.Calls()
	require.Len(t, calls, 1)
	assert.Same(t, ioErr, calls[0].Err)
	assert.Equal(t, task.ID(), calls[0].TaskID)
}

func TestSupervisor_Unsubscribe(t *testing.T) {
	s, _, _ := newSupervisedSession(t)
	called := 0
	unsubscribe := s.OnException(func(*ExceptionEvent) { called++ })
	keep := s.OnException(func(*ExceptionEvent) {})
	defer keep()

	unsubscribe()
	unsubscribe()
	s.supervisor.OnUncaught(s, newTask(s, "direct", false), errors.New("boom"))

	assert.Zero(t, called)
	assert.Equal(t, 1, s.supervisor.ListenerCount(s.Owner()))
}

// TestSupervisor_ForgetOnDispose verifies listeners do not outlive their session
func TestSupervisor_ForgetOnDispose(t *testing.T) {
	s, _, _ := newSupervisedSession(t)
	s.OnException(func(*ExceptionEvent) {})
	require.Equal(t, 1, s.supervisor.ListenerCount(s.Owner()))

	require.NoError(t, s.DisposeSession())

	assert.Zero(t, s.supervisor.ListenerCount(s.Owner()))
}

// TestSupervisor_ExactlyOncePerFailedTask verifies a failing launched task reaches listeners once
func TestSupervisor_ExactlyOncePerFailedTask(t *testing.T) {
	s, sink, _ := newSupervisedSession(t)
	events := make(chan TaskID, 4)
	s.OnException(func(ev *ExceptionEvent) { events <- ev.TaskID })

	task, err := Launch(s, RoleWorker, func(context.Context) (Suspension, error) {
		return ResumeOn(RoleWorker, func(context.Context) (Suspension, error) {
			return Suspension{}, errors.New("late failure")
		}), nil
	})
	require.NoError(t, err)
	waitTask(t, task)

	assert.Len(t, sink.Calls(), 1)
	require.Len(t, events, 1)
	assert.Equal(t, task.ID(), <-events)
}
