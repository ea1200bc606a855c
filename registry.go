package affinity

import (
	"context"
	"sync"

	"github.com/Swind/go-affinity-runner/core"
)

// =============================================================================
// Global Registry Helper (Singleton)
// =============================================================================

var (
	globalRegistry *core.Registry
	globalMu       sync.Mutex
)

// InitGlobalRegistry creates the process-wide registry. Later calls are
// no-ops until ShutdownGlobalRegistry.
func InitGlobalRegistry(cfg Config) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRegistry != nil {
		return
	}
	globalRegistry = core.NewRegistry(cfg)
}

// GlobalRegistry returns the global registry instance.
// It panics if InitGlobalRegistry has not been called.
func GlobalRegistry() *Registry {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRegistry == nil {
		panic("GlobalRegistry not initialized. Call InitGlobalRegistry() first.")
	}
	return globalRegistry
}

// ShutdownGlobalRegistry disposes every session and releases the global
// registry so it can be initialized again.
func ShutdownGlobalRegistry() error {
	globalMu.Lock()
	r := globalRegistry
	globalRegistry = nil
	globalMu.Unlock()

	if r == nil {
		return nil
	}
	return r.Close()
}

// SessionFor returns owner's session in the global registry, creating it on
// first use.
func SessionFor(owner Owner) (*Session, error) {
	return GlobalRegistry().GetOrCreate(owner)
}

// Launch starts a fire-and-forget task for owner. See core.Launch.
func Launch(owner Owner, affinity Role, body Step) (*Task, error) {
	s, err := SessionFor(owner)
	if err != nil {
		return nil, err
	}
	return core.Launch(s, affinity, body)
}

// InvokeAndAwait runs a task for owner and blocks for its outcome. See
// core.InvokeAndAwait.
func InvokeAndAwait(ctx context.Context, owner Owner, affinity Role, body Step) (any, error) {
	s, err := SessionFor(owner)
	if err != nil {
		return nil, err
	}
	return core.InvokeAndAwait(ctx, s, affinity, body)
}

// Invoke is InvokeAndAwait with a typed result.
func Invoke[T any](ctx context.Context, owner Owner, affinity Role, body Step) (T, error) {
	s, err := SessionFor(owner)
	if err != nil {
		var zero T
		return zero, err
	}
	return core.Invoke[T](ctx, s, affinity, body)
}

// OwnerDisabled forwards the host's shutdown notification for owner to the
// global registry.
func OwnerDisabled(owner Owner) error {
	return GlobalRegistry().OwnerDisabled(owner)
}
