// Package affinity runs resumable tasks that hop between a host's single
// primary goroutine and a pool of worker goroutines.
//
// Hosts built around one main loop (a game tick, a UI thread, an event
// loop) can only touch their state from that loop, while blocking work must
// happen elsewhere. This library lets handler code be written as a sequence
// of steps, each pinned to a role, instead of hand-written callback chains.
//
// # Quick Start
//
// Initialize the global registry at application startup:
//
//	affinity.InitGlobalRegistry(affinity.DefaultConfig())
//	defer affinity.ShutdownGlobalRegistry()
//
// Launch a task for an owner (a plugin, a module) that loads data on a
// worker and applies it on the primary goroutine:
//
//	affinity.Launch(plugin, affinity.RoleWorker, func(ctx context.Context) (affinity.Suspension, error) {
//		data, err := load(ctx)
//		if err != nil {
//			return affinity.Suspension{}, err
//		}
//		return affinity.ResumeOn(affinity.RolePrimary, func(ctx context.Context) (affinity.Suspension, error) {
//			apply(data)
//			return affinity.Done(), nil
//		}), nil
//	})
//
// # Key Concepts
//
// Session: the per-owner scope holding a Primary and a Worker execution
// context and every task still in flight. Sessions are created on first use
// and disposed when the owner shuts down; a disposed session refuses work.
//
// Primary context: bound to one goroutine. Work submitted from that
// goroutine runs inline; work from anywhere else is queued in FIFO order and
// handed to the host's main loop.
//
// Worker context: a goroutine pool. It never runs work inline.
//
// Launch vs InvokeAndAwait: Launch is fire-and-forget; failures go to the
// owner's exception supervisor (a logging sink plus cancellable listeners).
// InvokeAndAwait blocks and returns the task's own error to the caller.
//
// # Hosts
//
// Without a HostScheduler the registry runs its own primary goroutine and
// each session owns a worker pool. Hosts with their own main loop plug in
// through Config.Host; implementing PrimaryIdentifier binds the primary
// context up front, otherwise it is learned from the first job the host runs.
package affinity
