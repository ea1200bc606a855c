package core

import (
	"context"
	"fmt"
)

// Handler is a host callback. Whether it is resumable is declared by the
// handler itself at registration time.
type Handler interface {
	Resumable() bool
}

// SyncHandler is invoked directly on the dispatching goroutine.
type SyncHandler interface {
	Handler
	Handle(ctx context.Context, event any) error
}

// ResumableHandler produces the first step of a task for each event.
type ResumableHandler interface {
	Handler
	Start(event any) Step
}

// SyncHandlerFunc adapts a function to SyncHandler.
type SyncHandlerFunc func(ctx context.Context, event any) error

func (f SyncHandlerFunc) Resumable() bool { return false }

func (f SyncHandlerFunc) Handle(ctx context.Context, event any) error { return f(ctx, event) }

// ResumableHandlerFunc adapts a first-step function to ResumableHandler.
type ResumableHandlerFunc func(ctx context.Context, event any) (Suspension, error)

func (f ResumableHandlerFunc) Resumable() bool { return true }

func (f ResumableHandlerFunc) Start(event any) Step {
	return func(ctx context.Context) (Suspension, error) {
		return f(ctx, event)
	}
}

// Named attaches a display name to a handler for logs and task history.
func Named(name string, h Handler) Handler {
	if rh, ok := h.(ResumableHandler); ok && h.Resumable() {
		return namedResumable{ResumableHandler: rh, name: name}
	}
	if sh, ok := h.(SyncHandler); ok {
		return namedSync{SyncHandler: sh, name: name}
	}
	return h
}

type namedSync struct {
	SyncHandler
	name string
}

type namedResumable struct {
	ResumableHandler
	name string
}

func handlerName(h Handler) string {
	switch v := h.(type) {
	case namedSync:
		return v.name
	case namedResumable:
		return v.name
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%T", h)
	}
}
