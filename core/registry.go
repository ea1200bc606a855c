package core

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Owner is the entity a session is scoped to (a plugin, a module). It must
// be comparable; it is used as a map key.
type Owner interface {
	Name() string
}

// EnabledOwner is an Owner that can report being disabled. The registry
// refuses to create sessions for disabled owners.
type EnabledOwner interface {
	Owner
	IsEnabled() bool
}

// Registry maps owners to their sessions. There is at most one session per
// owner; GetOrCreate is idempotent and safe for concurrent use.
type Registry struct {
	config     Config
	logger     Logger
	supervisor *ExceptionSupervisor
	delays     *DelayManager

	// primary is the registry's own main goroutine, nil when a host is configured.
	primary *SingleThreadTaskRunner

	mu       sync.Mutex
	sessions map[Owner]*Session
	// retired holds owners whose session was disposed. They stay refused
	// until Clear.
	retired map[Owner]struct{}
	closed  bool
}

// NewRegistry creates a registry. Without cfg.Host it starts a dedicated
// primary goroutine shared by all of its sessions.
func NewRegistry(cfg Config) *Registry {
	cfg.applyDefaults()
	r := &Registry{
		config:     cfg,
		logger:     cfg.Logger,
		supervisor: NewExceptionSupervisor(cfg.Logger, cfg.Metrics),
		delays:     NewDelayManager(),
		sessions:   make(map[Owner]*Session),
		retired:    make(map[Owner]struct{}),
	}
	if cfg.Host == nil {
		r.primary = NewSingleThreadTaskRunnerWithHandler(&LoggerPanicHandler{Logger: cfg.Logger})
		r.primary.SetName("primary")
	}
	return r
}

// Config returns the effective configuration.
func (r *Registry) Config() Config { return r.config }

// Supervisor returns the exception supervisor shared by all sessions.
func (r *Registry) Supervisor() *ExceptionSupervisor { return r.supervisor }

// PrimaryRunner returns the registry-owned primary goroutine, or nil when a
// host scheduler is configured.
func (r *Registry) PrimaryRunner() *SingleThreadTaskRunner { return r.primary }

func checkOwner(owner Owner) error {
	if owner == nil {
		return ErrNilOwner
	}
	if !reflect.TypeOf(owner).Comparable() {
		return fmt.Errorf("%T: %w", owner, ErrOwnerNotComparable)
	}
	return nil
}

// GetOrCreate returns the owner's session, creating it on first use. An
// owner whose session was disposed gets ErrSessionDisposed.
func (r *Registry) GetOrCreate(owner Owner) (*Session, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[owner]; ok {
		return s, nil
	}
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, ok := r.retired[owner]; ok {
		return nil, fmt.Errorf("session for %s: %w", owner.Name(), ErrSessionDisposed)
	}
	if eo, ok := owner.(EnabledOwner); ok && !eo.IsEnabled() {
		return nil, fmt.Errorf("session for %s: %w", owner.Name(), ErrOwnerDisabled)
	}

	s := r.newSession(owner)
	r.sessions[owner] = s
	r.logger.Info("session created", F("owner", s.name))
	return s, nil
}

func (r *Registry) newSession(owner Owner) *Session {
	cfg := r.config
	name := owner.Name()

	var (
		run    func(Work) error
		worker *WorkerContext
	)
	if r.config.Host != nil {
		run = r.config.Host.RunOnPrimary
		worker = NewHostWorkerContext(name, r.config.Host.RunOnWorker, cfg.Logger)
	} else {
		run = r.primary.PostTask
		pool := NewGoroutineThreadPoolWithConfig(name+"-worker", cfg.WorkerCount, &WorkSchedulerConfig{
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
		})
		worker = NewWorkerContext(name, pool, cfg.ShutdownGracePeriod, cfg.Logger)
	}

	primary := NewPrimaryContext(name, run, cfg.Logger, cfg.Metrics)
	if id := r.primaryGoroutineID(); id != 0 {
		primary.bindTo(id)
	} else {
		// Resolve the binding before the host's next callback, which may be
		// a bridge call made from the primary goroutine itself.
		primary.Probe()
	}

	return &Session{
		owner:      owner,
		name:       name,
		config:     cfg,
		primary:    primary,
		worker:     worker,
		supervisor: r.supervisor,
		registry:   r,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		history:    newExecutionHistory(cfg.HistoryCapacity),
		delays:     r.delays,
		createdAt:  time.Now(),
		sink:       cfg.Sink,
		tasks:      make(map[TaskID]*Task),
	}
}

func (r *Registry) primaryGoroutineID() uint64 {
	if r.primary != nil {
		return r.primary.GoroutineID()
	}
	if pi, ok := r.config.Host.(PrimaryIdentifier); ok {
		return pi.PrimaryGoroutineID()
	}
	return 0
}

// Lookup returns the owner's session without creating one.
func (r *Registry) Lookup(owner Owner) (*Session, bool) {
	if checkOwner(owner) != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[owner]
	return s, ok
}

// Sessions returns every live session.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SessionStats snapshots every live session.
func (r *Registry) SessionStats() []SessionStats {
	sessions := r.Sessions()
	out := make([]SessionStats, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Stats())
	}
	return out
}

// PoolStats snapshots every session-owned worker pool.
func (r *Registry) PoolStats() []PoolStats {
	sessions := r.Sessions()
	out := make([]PoolStats, 0, len(sessions))
	for _, s := range sessions {
		if pool := s.worker.Pool(); pool != nil {
			out = append(out, pool.Stats())
		}
	}
	return out
}

// Dispose removes and disposes the owner's session. It is a no-op when the
// owner has none.
func (r *Registry) Dispose(owner Owner) error {
	if checkOwner(owner) != nil {
		return nil
	}
	r.mu.Lock()
	s, ok := r.sessions[owner]
	delete(r.sessions, owner)
	if ok {
		r.retired[owner] = struct{}{}
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return s.dispose()
}

// OwnerDisabled is the host's shutdown notification for owner. Under
// ShutdownScheduler the session is disposed; under ShutdownManual the host
// is expected to dispose it itself.
func (r *Registry) OwnerDisabled(owner Owner) error {
	s, ok := r.Lookup(owner)
	if !ok {
		return nil
	}
	if s.config.ShutdownStrategy == ShutdownManual {
		r.logger.Debug("owner disabled, leaving session to manual disposal", F("owner", s.name))
		return nil
	}
	return r.Dispose(owner)
}

// Clear disposes every session and forgets retired owners, leaving the
// registry usable as if new.
func (r *Registry) Clear() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[Owner]*Session)
	r.retired = make(map[Owner]struct{})
	r.mu.Unlock()

	var result *multierror.Error
	for _, s := range sessions {
		if err := s.dispose(); err != nil {
			result = multierror.Append(result, fmt.Errorf("session %s: %w", s.name, err))
		}
	}
	return result.ErrorOrNil()
}

// Close disposes every session concurrently, then stops the delay timer and
// the registry's own primary goroutine. The registry rejects new sessions afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[Owner]*Session)
	r.mu.Unlock()

	var (
		g      errgroup.Group
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, s := range sessions {
		g.Go(func() error {
			err := s.dispose()
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("session %s: %w", s.name, err))
				mu.Unlock()
			}
			return err
		})
	}
	_ = g.Wait()

	r.delays.Stop()
	if r.primary != nil {
		r.primary.Stop()
	}
	return result.ErrorOrNil()
}
