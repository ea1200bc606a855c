package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-affinity-runner/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SnapshotSource provides point-in-time session and pool stats.
// *core.Registry implements it.
type SnapshotSource interface {
	SessionStats() []core.SessionStats
	PoolStats() []core.PoolStats
}

var _ SnapshotSource = (*core.Registry)(nil)

// SnapshotPoller periodically exports session and pool Stats() snapshots
// into Prometheus gauges. Owners whose session went away are dropped from
// the gauges on the next poll.
type SnapshotPoller struct {
	interval time.Duration

	sourcesMu sync.RWMutex
	sources   []SnapshotSource

	sessionTasks     *prom.GaugeVec
	sessionRunning   *prom.GaugeVec
	sessionSuspended *prom.GaugeVec
	sessionQueued    *prom.GaugeVec
	sessionBound     *prom.GaugeVec
	sessionOutcomes  *prom.GaugeVec

	poolQueued  *prom.GaugeVec
	poolActive  *prom.GaugeVec
	poolWorkers *prom.GaugeVec
	poolRunning *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	sessionTasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "affinity",
		Name:      "session_tasks",
		Help:      "Tasks in flight per owner.",
	}, []string{"owner"})
	sessionRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "affinity",
		Name:      "session_running",
		Help:      "Tasks executing a step per owner.",
	}, []string{"owner"})
	sessionSuspended := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "affinity",
		Name:      "session_suspended",
		Help:      "Tasks waiting between steps per owner.",
	}, []string{"owner"})
	sessionQueued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "affinity",
		Name:      "session_queued",
		Help:      "Handoffs waiting per owner and role.",
	}, []string{"owner", "role"})
	sessionBound := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "affinity",
		Name:      "session_primary_bound",
		Help:      "Primary context binding state (1=bound, 0=unbound).",
	}, []string{"owner"})
	sessionOutcomes := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "affinity",
		Name:      "session_finished_tasks",
		Help:      "Finished task count snapshot per owner and terminal state.",
	}, []string{"owner", "state"})

	poolQueued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "affinity",
		Name:      "pool_queued",
		Help:      "Queued work per worker pool.",
	}, []string{"pool"})
	poolActive := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "affinity",
		Name:      "pool_active",
		Help:      "Active work per worker pool.",
	}, []string{"pool"})
	poolWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "affinity",
		Name:      "pool_workers",
		Help:      "Worker count per pool.",
	}, []string{"pool"})
	poolRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "affinity",
		Name:      "pool_running",
		Help:      "Pool running state (1=running, 0=stopped).",
	}, []string{"pool"})

	var err error
	for _, vec := range []**prom.GaugeVec{
		&sessionTasks, &sessionRunning, &sessionSuspended, &sessionQueued, &sessionBound, &sessionOutcomes,
		&poolQueued, &poolActive, &poolWorkers, &poolRunning,
	} {
		if *vec, err = registerCollector(reg, *vec); err != nil {
			return nil, err
		}
	}

	return &SnapshotPoller{
		interval:         interval,
		sessionTasks:     sessionTasks,
		sessionRunning:   sessionRunning,
		sessionSuspended: sessionSuspended,
		sessionQueued:    sessionQueued,
		sessionBound:     sessionBound,
		sessionOutcomes:  sessionOutcomes,
		poolQueued:       poolQueued,
		poolActive:       poolActive,
		poolWorkers:      poolWorkers,
		poolRunning:      poolRunning,
	}, nil
}

// AddSource adds a registry (or any other source) to poll.
func (p *SnapshotPoller) AddSource(source SnapshotSource) {
	if p == nil || source == nil {
		return
	}
	p.sourcesMu.Lock()
	p.sources = append(p.sources, source)
	p.sourcesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.sourcesMu.RLock()
	sources := append([]SnapshotSource(nil), p.sources...)
	p.sourcesMu.RUnlock()

	var (
		sessions []core.SessionStats
		pools    []core.PoolStats
	)
	for _, src := range sources {
		sessions = append(sessions, src.SessionStats()...)
		pools = append(pools, src.PoolStats()...)
	}

	for _, vec := range []*prom.GaugeVec{
		p.sessionTasks, p.sessionRunning, p.sessionSuspended, p.sessionQueued, p.sessionBound, p.sessionOutcomes,
		p.poolQueued, p.poolActive, p.poolWorkers, p.poolRunning,
	} {
		vec.Reset()
	}

	for _, st := range sessions {
		owner := normalizeLabel(st.Owner, "unknown")
		p.sessionTasks.WithLabelValues(owner).Set(float64(st.Tasks))
		p.sessionRunning.WithLabelValues(owner).Set(float64(st.Running))
		p.sessionSuspended.WithLabelValues(owner).Set(float64(st.Suspended))
		p.sessionQueued.WithLabelValues(owner, core.RolePrimary.String()).Set(float64(st.PrimaryQueued))
		p.sessionQueued.WithLabelValues(owner, core.RoleWorker.String()).Set(float64(st.WorkerQueued))
		p.sessionBound.WithLabelValues(owner).Set(boolGauge(st.PrimaryBound))
		p.sessionOutcomes.WithLabelValues(owner, core.TaskCompleted.String()).Set(float64(st.Completed))
		p.sessionOutcomes.WithLabelValues(owner, core.TaskFailed.String()).Set(float64(st.Failed))
		p.sessionOutcomes.WithLabelValues(owner, core.TaskCancelled.String()).Set(float64(st.Cancelled))
	}

	for _, st := range pools {
		pool := normalizeLabel(st.ID, "pool")
		p.poolQueued.WithLabelValues(pool).Set(float64(st.Queued))
		p.poolActive.WithLabelValues(pool).Set(float64(st.Active))
		p.poolWorkers.WithLabelValues(pool).Set(float64(st.Workers))
		p.poolRunning.WithLabelValues(pool).Set(boolGauge(st.Running))
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
