package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommandSession(t *testing.T) (*Registry, *Session, *recordingSink) {
	t.Helper()
	r, sink := newTestRegistry(t)
	s, err := r.GetOrCreate(newTestOwner("commands"))
	require.NoError(t, err)
	return r, s, sink
}

func TestCommandExecutor_Sync(t *testing.T) {
	_, s, _ := newCommandSession(t)
	cmds := s.Commands()
	errDenied := errors.New("denied")

	cmds.Register("hello", RolePrimary, SyncHandlerFunc(func(ctx context.Context, event any) error {
		inv := event.(CommandInvocation)
		if inv.Sender != "console" {
			return errDenied
		}
		return nil
	}))

	ok, err := cmds.Execute(context.Background(), "hello", CommandInvocation{Sender: "console", Label: "hello"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cmds.Execute(context.Background(), "hello", CommandInvocation{Sender: "player"})
	assert.ErrorIs(t, err, errDenied)
	assert.False(t, ok)
}

func TestCommandExecutor_Unknown(t *testing.T) {
	_, s, _ := newCommandSession(t)

	_, err := s.Commands().Execute(context.Background(), "missing", CommandInvocation{})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = s.Commands().ExecuteAndWait(context.Background(), "missing", CommandInvocation{})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

// TestCommandExecutor_ExecuteSuspended verifies a still-running resumable command counts as handled
func TestCommandExecutor_ExecuteSuspended(t *testing.T) {
	_, s, _ := newCommandSession(t)
	release := make(chan struct{})
	cmds := s.Commands()
	cmds.Register("slow", RoleWorker, ResumableHandlerFunc(func(context.Context, any) (Suspension, error) {
		<-release
		return Complete(false), nil
	}))

	ok, err := cmds.Execute(context.Background(), "slow", CommandInvocation{Args: []string{"x"}})
	close(release)

	require.NoError(t, err)
	assert.True(t, ok)
}

// TestCommandExecutor_ExecuteInline verifies a command finishing inline reports its real outcome
// Given: Resumable commands with primary affinity executed on the primary goroutine
// When: One completes with false and one fails
// Then: Both report false and only the failure reaches the sink
func TestCommandExecutor_ExecuteInline(t *testing.T) {
	// Arrange
	r, s, sink := newCommandSession(t)
	cmds := s.Commands()
	cmds.Register("refuse", RolePrimary, ResumableHandlerFunc(func(context.Context, any) (Suspension, error) {
		return Complete(false), nil
	}))
	cmds.Register("broken", RolePrimary, ResumableHandlerFunc(func(context.Context, any) (Suspension, error) {
		return Suspension{}, errors.New("broken command")
	}))

	// Act
	var refused, broken bool
	var refuseErr, brokenErr error
	onPrimary(t, r, func() {
		refused, refuseErr = cmds.Execute(context.Background(), "refuse", CommandInvocation{})
		broken, brokenErr = cmds.Execute(context.Background(), "broken", CommandInvocation{})
	})

	// Assert
	require.NoError(t, refuseErr)
	require.NoError(t, brokenErr)
	assert.False(t, refused)
	assert.False(t, broken)
	require.Len(t, sink.Calls(), 1)
	assert.EqualError(t, sink.Calls()[0].Err, "broken command")
}

// TestCommandExecutor_ExecuteAndWait verifies the bridge returns the handler's answer
func TestCommandExecutor_ExecuteAndWait(t *testing.T) {
	_, s, sink := newCommandSession(t)
	cmds := s.Commands()
	errBroken := errors.New("broken")
	cmds.Register("check", RolePrimary, ResumableHandlerFunc(func(ctx context.Context, event any) (Suspension, error) {
		inv := event.(CommandInvocation)
		return ResumeOn(RoleWorker, func(context.Context) (Suspension, error) {
			if len(inv.Args) == 0 {
				return Suspension{}, errBroken
			}
			return Complete(inv.Args[0] == "yes"), nil
		}), nil
	}))

	ok, err := cmds.ExecuteAndWait(context.Background(), "check", CommandInvocation{Args: []string{"yes"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cmds.ExecuteAndWait(context.Background(), "check", CommandInvocation{Args: []string{"no"}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cmds.ExecuteAndWait(context.Background(), "check", CommandInvocation{})
	assert.Same(t, errBroken, err)
	assert.False(t, ok)
	assert.Empty(t, sink.Calls())
}

func TestCommandExecutor_NamesAndUnregister(t *testing.T) {
	_, s, _ := newCommandSession(t)
	cmds := s.Commands()
	noop := SyncHandlerFunc(func(context.Context, any) error { return nil })

	cmds.Register("b", RoleWorker, noop)
	unregister := cmds.Register("a", RoleWorker, noop)
	cmds.Register("c", RoleWorker, noop)
	assert.Equal(t, []string{"a", "b", "c"}, cmds.Names())

	unregister()
	assert.Equal(t, []string{"b", "c"}, cmds.Names())
}

func TestCommandResult(t *testing.T) {
	assert.True(t, commandResult(nil))
	assert.True(t, commandResult(true))
	assert.True(t, commandResult("anything"))
	assert.False(t, commandResult(false))
}
