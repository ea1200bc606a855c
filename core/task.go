package core

import (
	"context"

	"github.com/google/uuid"
)

// Work is the unit a context executes (Closure).
type Work func(ctx context.Context)

// TaskID identifies one resumable task for its whole lifetime.
type TaskID uuid.UUID

// GenerateTaskID returns a fresh random TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.New())
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether the id was never assigned.
func (id TaskID) IsZero() bool {
	return id == TaskID(uuid.Nil)
}

// =============================================================================
// Context Helpers
// =============================================================================

type sessionKeyType struct{}
type taskKeyType struct{}
type roleKeyType struct{}

var (
	sessionKey sessionKeyType
	taskKey    taskKeyType
	roleKey    roleKeyType
)

// CurrentSession returns the session whose task is executing with ctx, or nil.
func CurrentSession(ctx context.Context) *Session {
	if v := ctx.Value(sessionKey); v != nil {
		return v.(*Session)
	}
	return nil
}

// CurrentTask returns the task whose step is executing with ctx, or nil.
func CurrentTask(ctx context.Context) *Task {
	if v := ctx.Value(taskKey); v != nil {
		return v.(*Task)
	}
	return nil
}

// CurrentRole returns the role of the context running the current step.
// The second result is false outside of a task step.
func CurrentRole(ctx context.Context) (Role, bool) {
	if v := ctx.Value(roleKey); v != nil {
		return v.(Role), true
	}
	return RolePrimary, false
}
