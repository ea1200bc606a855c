package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CommandInvocation is the event passed to command handlers.
type CommandInvocation struct {
	Sender string
	Label  string
	Args   []string
}

type commandEntry struct {
	name     string
	affinity Role
	handler  Handler
}

// CommandExecutor bridges resumable command handlers to hosts that expect
// a synchronous boolean answer.
type CommandExecutor struct {
	session *Session

	mu       sync.RWMutex
	commands map[string]commandEntry
}

func newCommandExecutor(s *Session) *CommandExecutor {
	return &CommandExecutor{session: s, commands: make(map[string]commandEntry)}
}

// Register binds name to h, replacing any previous handler. Resumable
// handlers start on affinity.
func (c *CommandExecutor) Register(name string, affinity Role, h Handler) (unregister func()) {
	c.mu.Lock()
	c.commands[name] = commandEntry{name: name, affinity: affinity, handler: h}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.commands, name)
	}
}

// Names returns the registered command names in sorted order.
func (c *CommandExecutor) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *CommandExecutor) lookup(name string) (commandEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.commands[name]
	if !ok {
		return commandEntry{}, fmt.Errorf("%s: %w", name, ErrUnknownCommand)
	}
	return entry, nil
}

// Execute runs the command without blocking on resumable handlers. If the
// handler finishes before Execute returns, its boolean result is reported;
// a handler that is still suspended counts as success. Failures of the
// resumable handler go to the exception supervisor and report false.
func (c *CommandExecutor) Execute(ctx context.Context, name string, inv CommandInvocation) (bool, error) {
	entry, err := c.lookup(name)
	if err != nil {
		return false, err
	}
	if !entry.handler.Resumable() {
		return c.executeSync(ctx, entry, inv)
	}

	rh, ok := entry.handler.(ResumableHandler)
	if !ok {
		return false, fmt.Errorf("%s: %w", name, ErrHandlerCapability)
	}
	t, err := LaunchNamed(c.session, "command:"+name, entry.affinity, rh.Start(inv))
	if err != nil {
		return false, err
	}

	select {
	case <-t.Done():
		v, err := t.Result()
		if err != nil {
			return false, nil
		}
		return commandResult(v), nil
	default:
		return true, nil
	}
}

// ExecuteAndWait runs the command and blocks for the real result.
func (c *CommandExecutor) ExecuteAndWait(ctx context.Context, name string, inv CommandInvocation) (bool, error) {
	entry, err := c.lookup(name)
	if err != nil {
		return false, err
	}
	if !entry.handler.Resumable() {
		return c.executeSync(ctx, entry, inv)
	}

	rh, ok := entry.handler.(ResumableHandler)
	if !ok {
		return false, fmt.Errorf("%s: %w", name, ErrHandlerCapability)
	}
	v, err := InvokeAndAwait(ctx, c.session, entry.affinity, rh.Start(inv))
	if err != nil {
		return false, err
	}
	return commandResult(v), nil
}

func (c *CommandExecutor) executeSync(ctx context.Context, entry commandEntry, inv CommandInvocation) (bool, error) {
	sh, ok := entry.handler.(SyncHandler)
	if !ok {
		return false, fmt.Errorf("%s: %w", entry.name, ErrHandlerCapability)
	}
	if err := sh.Handle(ctx, inv); err != nil {
		return false, err
	}
	return true, nil
}

// commandResult maps a task result to the host's boolean: false only when
// the handler explicitly completed with false.
func commandResult(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
