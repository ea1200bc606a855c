package affinity

import (
	"context"

	"github.com/Swind/go-affinity-runner/core"
)

// Re-export commonly used types from core package for convenience.
// This allows users to import only the affinity package for most use cases.

// Role names the primary goroutine or the worker pool
type Role = core.Role

const (
	RolePrimary = core.RolePrimary
	RoleWorker  = core.RoleWorker
)

// Step is one slice of a resumable task
type Step = core.Step

// Suspension is what a Step returns: a continuation or completion
type Suspension = core.Suspension

// Task is a resumable computation owned by a Session
type Task = core.Task

// TaskState is the lifecycle position of a Task
type TaskState = core.TaskState

// Session is the per-owner scope of execution contexts and tasks
type Session = core.Session

// Registry maps owners to sessions
type Registry = core.Registry

// Owner is the entity a session belongs to
type Owner = core.Owner

// EnabledOwner is an Owner that can report being disabled
type EnabledOwner = core.EnabledOwner

// Config configures a Registry
type Config = core.Config

// HostScheduler supplies primary and worker primitives from a host
type HostScheduler = core.HostScheduler

// ExceptionEvent is published for every uncaught task failure
type ExceptionEvent = core.ExceptionEvent

// Handler is a host callback that declares whether it is resumable
type Handler = core.Handler

// Convenience functions for building steps and handlers
var (
	ResumeOn      = core.ResumeOn
	Complete      = core.Complete
	Done          = core.Done
	DefaultConfig = core.DefaultConfig
	LoadConfig    = core.LoadConfig
	Named         = core.Named
)

// NewRegistry creates a registry outside the global one, for hosts that
// embed several independent schedulers or for tests.
func NewRegistry(cfg Config) *Registry {
	return core.NewRegistry(cfg)
}

// CurrentSession returns the session of the task running ctx, or nil.
func CurrentSession(ctx context.Context) *Session {
	return core.CurrentSession(ctx)
}
