package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSessionDisposed is returned for any submission to a disposed session or context.
	ErrSessionDisposed = errors.New("session disposed")

	// ErrPrimaryUnbound is returned when work needs the primary goroutine but the
	// host never supplied a primary scheduler, or it never ran a job within BindTimeout.
	ErrPrimaryUnbound = errors.New("primary context is not bound to a goroutine")

	// ErrTaskCancelled is the outcome of a task that was cancelled before completing.
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrOwnerDisabled is returned when a session is requested for a disabled owner.
	ErrOwnerDisabled = errors.New("owner is disabled")

	// ErrNilOwner is returned when a nil owner is passed to the registry.
	ErrNilOwner = errors.New("owner must not be nil")

	// ErrOwnerNotComparable is returned for owners that cannot be used as map keys.
	ErrOwnerNotComparable = errors.New("owner type is not comparable")

	// ErrRunnerClosed is returned when posting to a stopped runner.
	ErrRunnerClosed = errors.New("runner is closed")

	// ErrSchedulerShutdown is returned when posting to a scheduler that is shutting down.
	ErrSchedulerShutdown = errors.New("scheduler is shutting down")

	// ErrHandlerCapability is returned when a handler's declared capability
	// does not match the methods it implements.
	ErrHandlerCapability = errors.New("handler does not implement its declared capability")

	// ErrUnknownCommand is returned by CommandExecutor for unregistered names.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrRegistryClosed is returned by a registry after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// PanicError wraps a value recovered from a panicking step.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsCancellation reports whether err only signals cooperative cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrTaskCancelled) || errors.Is(err, context.Canceled)
}
