package core

import (
	"errors"
	"runtime/debug"
	"sync"
)

// ExceptionEvent is published to an owner's listeners for every uncaught
// task failure. Any listener may cancel it; listeners after that are skipped.
type ExceptionEvent struct {
	Owner  Owner
	TaskID TaskID
	Err    error

	cancelled bool
}

// Cancel stops delivery to the remaining listeners.
func (e *ExceptionEvent) Cancel() { e.cancelled = true }

// IsCancelled reports whether a listener cancelled the event.
func (e *ExceptionEvent) IsCancelled() bool { return e.cancelled }

// ExceptionListener observes uncaught failures for one owner.
type ExceptionListener func(ev *ExceptionEvent)

type listenerEntry struct {
	id uint64
	fn ExceptionListener
}

// ExceptionSupervisor is the sink for failures of fire-and-forget tasks.
// Bridged tasks report to their caller instead and never reach it.
type ExceptionSupervisor struct {
	logger  Logger
	metrics Metrics

	mu        sync.RWMutex
	nextID    uint64
	listeners map[Owner][]listenerEntry
}

func NewExceptionSupervisor(logger Logger, metrics Metrics) *ExceptionSupervisor {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	if metrics == nil {
		metrics = &NilMetrics{}
	}
	return &ExceptionSupervisor{
		logger:    logger,
		metrics:   metrics,
		listeners: make(map[Owner][]listenerEntry),
	}
}

// Subscribe registers l for owner's failures. The returned func removes it.
func (sv *ExceptionSupervisor) Subscribe(owner Owner, l ExceptionListener) (unsubscribe func()) {
	sv.mu.Lock()
	sv.nextID++
	id := sv.nextID
	sv.listeners[owner] = append(sv.listeners[owner], listenerEntry{id: id, fn: l})
	sv.mu.Unlock()

	return func() {
		sv.mu.Lock()
		defer sv.mu.Unlock()
		entries := sv.listeners[owner]
		for i, e := range entries {
			if e.id == id {
				sv.listeners[owner] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(sv.listeners[owner]) == 0 {
			delete(sv.listeners, owner)
		}
	}
}

// ListenerCount returns the number of listeners registered for owner.
func (sv *ExceptionSupervisor) ListenerCount(owner Owner) int {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return len(sv.listeners[owner])
}

func (sv *ExceptionSupervisor) forget(owner Owner) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	delete(sv.listeners, owner)
}

// OnUncaught reports a failed task: it logs through the session's sink,
// then publishes an ExceptionEvent to the owner's listeners in registration
// order. The session keeps running. OnUncaught never panics; a panicking
// sink or listener is logged and skipped.
func (sv *ExceptionSupervisor) OnUncaught(s *Session, t *Task, err error) {
	if err == nil || errors.Is(err, ErrTaskCancelled) || t.State() == TaskCancelled {
		return
	}
	sv.metrics.RecordTaskFailure(s.Name(), err)

	sv.guard("exception sink", s, t, func() {
		s.Sink().LogUncaught(s.Name(), t.ID(), err)
	})

	sv.mu.RLock()
	entries := append([]listenerEntry(nil), sv.listeners[s.Owner()]...)
	sv.mu.RUnlock()

	ev := &ExceptionEvent{Owner: s.Owner(), TaskID: t.ID(), Err: err}
	for _, e := range entries {
		sv.guard("exception listener", s, t, func() { e.fn(ev) })
		if ev.IsCancelled() {
			return
		}
	}
}

func (sv *ExceptionSupervisor) guard(what string, s *Session, t *Task, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			sv.logger.Error(what+" panicked",
				F("owner", s.Name()),
				F("task_id", t.ID().String()),
				F("panic", r),
				F("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}
