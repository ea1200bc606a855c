package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// ExecutionType selects how Fire runs resumable listeners.
type ExecutionType int

const (
	// Concurrent launches every resumable listener as its own task.
	Concurrent ExecutionType = iota
	// Consecutive runs all listeners one after another inside a single task.
	Consecutive
)

func (e ExecutionType) String() string {
	if e == Consecutive {
		return "consecutive"
	}
	return "concurrent"
}

type busListener struct {
	id      uint64
	name    string
	handler Handler
}

// EventBus is a per-session registry of listeners keyed by event name.
// Listener failures are logged and never reach the code that fires the event.
type EventBus struct {
	session *Session

	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]busListener
}

func newEventBus(s *Session) *EventBus {
	return &EventBus{session: s, listeners: make(map[string][]busListener)}
}

// Register adds h as a listener for event. The returned func removes it.
func (b *EventBus) Register(event string, h Handler) (unregister func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[event] = append(b.listeners[event], busListener{id: id, name: handlerName(h), handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.listeners[event]
		for i, l := range entries {
			if l.id == id {
				b.listeners[event] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	}
}

// ListenerCount returns the number of listeners for event.
func (b *EventBus) ListenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}

func (b *EventBus) snapshot(event string) []busListener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]busListener(nil), b.listeners[event]...)
}

// Fire delivers payload to every listener of event. Sync listeners run on
// the caller in Concurrent mode. The returned tasks can be waited on; the
// error is only set when a task could not be scheduled.
func (b *EventBus) Fire(ctx context.Context, affinity Role, event string, payload any, mode ExecutionType) ([]*Task, error) {
	listeners := b.snapshot(event)
	if len(listeners) == 0 {
		return nil, nil
	}
	if mode == Consecutive {
		t, err := LaunchNamed(b.session, "event:"+event, affinity, b.consecutive(event, listeners, payload, 0))
		if err != nil {
			return nil, err
		}
		return []*Task{t}, nil
	}

	var (
		tasks []*Task
		errs  []error
	)
	for _, l := range listeners {
		if !l.handler.Resumable() {
			if err := b.callSync(ctx, event, l, payload); err != nil {
				b.logListenerError(event, l, err)
			}
			continue
		}
		rh, ok := l.handler.(ResumableHandler)
		if !ok {
			b.logListenerError(event, l, ErrHandlerCapability)
			continue
		}
		t, err := LaunchNamed(b.session, l.name, affinity, rh.Start(payload))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, errors.Join(errs...)
}

// consecutive builds the step that runs listeners[i:] in order.
func (b *EventBus) consecutive(event string, listeners []busListener, payload any, i int) Step {
	return func(ctx context.Context) (Suspension, error) {
		for j := i; j < len(listeners); j++ {
			l := listeners[j]
			if !l.handler.Resumable() {
				if err := b.callSync(ctx, event, l, payload); err != nil {
					b.logListenerError(event, l, err)
				}
				continue
			}
			rh, ok := l.handler.(ResumableHandler)
			if !ok {
				b.logListenerError(event, l, ErrHandlerCapability)
				continue
			}
			rest := b.consecutive(event, listeners, payload, j+1)
			return b.isolate(event, l, rh.Start(payload), rest)(ctx)
		}
		return Done(), nil
	}
}

// isolate runs a listener's steps, then continues with rest whatever the
// listener's outcome.
func (b *EventBus) isolate(event string, l busListener, step, rest Step) Step {
	return func(ctx context.Context) (Suspension, error) {
		susp, err := safeStep(ctx, step)
		if err != nil {
			if !IsCancellation(err) || ctx.Err() == nil {
				b.logListenerError(event, l, err)
			}
			return rest(ctx)
		}
		if susp.IsComplete() {
			return rest(ctx)
		}
		susp.next = b.isolate(event, l, susp.next, rest)
		return susp, nil
	}
}

func safeStep(ctx context.Context, step Step) (susp Suspension, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return step(ctx)
}

func (b *EventBus) callSync(ctx context.Context, event string, l busListener, payload any) (err error) {
	sh, ok := l.handler.(SyncHandler)
	if !ok {
		return ErrHandlerCapability
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return sh.Handle(ctx, payload)
}

func (b *EventBus) logListenerError(event string, l busListener, err error) {
	b.session.logger.Error(fmt.Sprintf("could not pass event %s to %s", event, b.session.name),
		F("owner", b.session.name),
		F("event", event),
		F("listener", l.name),
		F("error", err),
	)
}
