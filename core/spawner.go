package core

import (
	"context"
	"errors"
	"fmt"
)

// Launch starts body as a fire-and-forget task on the context chosen by
// affinity and returns without waiting for it. When the caller already
// satisfies the affinity the first step runs before Launch returns.
//
// A failure inside the task never reaches the caller; it goes to the
// session's ExceptionSupervisor. Launch itself only fails when the task
// cannot be scheduled at all (disposed session, unbound primary).
func Launch(s *Session, affinity Role, body Step) (*Task, error) {
	return LaunchNamed(s, "", affinity, body)
}

// LaunchNamed is Launch with an explicit task name for history and logs.
func LaunchNamed(s *Session, name string, affinity Role, body Step) (*Task, error) {
	return spawn(s, name, affinity, body, false)
}

// InvokeAndAwait runs body as a task and blocks until it terminates,
// returning its result, its failure unchanged, or ErrTaskCancelled. The
// supervisor is never involved.
//
// Called on the primary goroutine, it keeps executing primary handoffs while
// it waits, so body may hop to the worker role and back. ctx bounds only the
// wait: when it expires the call returns ctx.Err() and the task runs on with
// its result discarded.
func InvokeAndAwait(ctx context.Context, s *Session, affinity Role, body Step) (any, error) {
	t, err := spawn(s, "", affinity, body, true)
	if err != nil {
		return nil, err
	}
	if err := s.await(ctx, t); err != nil {
		return nil, err
	}
	return t.Result()
}

// Invoke is InvokeAndAwait with a typed result.
func Invoke[T any](ctx context.Context, s *Session, affinity Role, body Step) (T, error) {
	var zero T
	v, err := InvokeAndAwait(ctx, s, affinity, body)
	if err != nil || v == nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("task result is %T, want %T", v, zero)
	}
	return out, nil
}

// Dispatch delivers event to h. Sync handlers run directly on the caller and
// their error is returned; resumable handlers are launched as tasks.
func Dispatch(ctx context.Context, s *Session, affinity Role, h Handler, event any) (*Task, error) {
	if h.Resumable() {
		rh, ok := h.(ResumableHandler)
		if !ok {
			return nil, fmt.Errorf("%T: %w", h, ErrHandlerCapability)
		}
		return LaunchNamed(s, handlerName(h), affinity, rh.Start(event))
	}

	sh, ok := h.(SyncHandler)
	if !ok {
		return nil, fmt.Errorf("%T: %w", h, ErrHandlerCapability)
	}
	return nil, sh.Handle(ctx, event)
}

func spawn(s *Session, name string, affinity Role, body Step, bridged bool) (*Task, error) {
	if body == nil {
		return nil, errors.New("task body must not be nil")
	}
	t := newTask(s, resolveTaskName(body, name), bridged)
	if err := s.register(t); err != nil {
		t.cancel()
		return nil, err
	}
	if err := t.start(affinity, body); err != nil {
		return nil, err
	}
	return t, nil
}
