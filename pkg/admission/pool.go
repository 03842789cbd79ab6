package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Pool manages per-tenant sets of worker loops and scales each set with
// queue depth. Multiple pools (in separate processes) may serve the same
// logical queues: the store's atomic pop makes duplicate delivery
// impossible, and redundant workers simply starve on an empty queue.
type Pool struct {
	store    Store
	executor Executor
	cfg      Config
	backoff  Backoff
	logger   *slog.Logger

	mu         sync.Mutex
	tenants    map[string]*tenantPool
	running    bool
	ctx        context.Context
	cancel     context.CancelFunc
	execCtx    context.Context
	execCancel context.CancelFunc
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// tenantPool holds one tenant's workers and shared runtime state.
type tenantPool struct {
	workers map[string]*worker
	wake    chan struct{}
	stats   *tenantStats
	limiter *rate.Limiter
}

// PoolOption is a functional option for configuring a pool.
type PoolOption func(*Pool)

// WithConfig applies the subsystem configuration. Zero-valued fields
// fall back to defaults.
func WithConfig(cfg Config) PoolOption {
	return func(p *Pool) {
		p.cfg = cfg.withDefaults()
	}
}

// WithPoolLogger sets the logger for the pool and its workers.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a worker pool on top of the shared store and the
// external executor.
func NewPool(store Store, executor Executor, opts ...PoolOption) (*Pool, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if executor == nil {
		return nil, ErrExecutorNil
	}

	p := &Pool{
		store:    store,
		executor: executor,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		tenants:  make(map[string]*tenantPool),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.backoff = NewBackoff(p.cfg.BaseBackoff, p.cfg.MaxBackoff)

	return p, nil
}

// Start launches the auto-scaler and the minimum workers for any tenants
// already known to the store. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPoolAlreadyStarted
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	// Execute calls run on their own context so graceful shutdown can
	// let them finish, then cut them off when the grace period expires.
	p.execCtx, p.execCancel = context.WithCancel(context.Background())
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.logger.Info("admission pool starting",
		slog.Int("min_workers", p.cfg.MinWorkers),
		slog.Int("max_workers_per_tenant", p.cfg.MaxWorkersPerTenant),
		slog.Duration("scale_interval", p.cfg.ScaleInterval))

	p.scaleAll(p.ctx)

	p.wg.Add(1)
	go p.scaleLoop()

	return nil
}

// Stop gracefully shuts the pool down: loops stop pulling new work, then
// in-flight requests get until the context deadline to finish. Stop
// returns once the deadline passes: still-running work is logged, its
// execute context is cancelled, and the calls are abandoned. A late
// result from an abandoned call is harmless because the store only
// accepts terminal writes for records still marked processing.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrPoolNotStarted
	}
	p.running = false
	stopCh := p.stopCh
	p.mu.Unlock()

	close(stopCh)
	p.logger.Info("admission pool stopping, waiting for in-flight requests")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("admission pool stopped")
	case <-ctx.Done():
		p.logger.Warn("shutdown grace period expired, abandoning in-flight requests",
			slog.Int("in_flight", p.inFlight()))
	}

	p.execCancel()
	p.cancel()
	return nil
}

// Run returns a function suitable for errgroup: it starts the pool,
// blocks until the context is cancelled, then stops with the configured
// grace period.
func (p *Pool) Run(ctx context.Context) func() error {
	return func() error {
		if err := p.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
		defer cancel()
		return p.Stop(stopCtx)
	}
}

// EnsureTenant makes sure the tenant has a worker set, spawning the
// minimum workers if the pool is running. Called on every enqueue so a
// fresh tenant gets a worker before the next scale tick.
func (p *Pool) EnsureTenant(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tp := p.ensureTenantLocked(tenantID)
	if !p.running {
		return
	}
	for len(tp.workers) < p.cfg.MinWorkers {
		p.spawnWorkerLocked(tenantID, tp)
	}
}

// Notify wakes one of the tenant's idle workers after a local enqueue.
// Cross-process arrivals are picked up by the bounded poll instead.
func (p *Pool) Notify(tenantID string) {
	p.mu.Lock()
	tp := p.tenants[tenantID]
	p.mu.Unlock()

	if tp == nil {
		return
	}
	select {
	case tp.wake <- struct{}{}:
	default:
	}
}

// TenantStats reports the rolling average processing duration and the
// number of live workers, for ETA estimation.
func (p *Pool) TenantStats(tenantID string) (avg time.Duration, workers int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tp := p.tenants[tenantID]
	if tp == nil {
		return 0, 0
	}
	return tp.stats.avg(), len(tp.workers)
}

// Workers returns snapshots of the tenant's worker loops.
func (p *Pool) Workers(tenantID string) []WorkerHandle {
	p.mu.Lock()
	defer p.mu.Unlock()

	tp := p.tenants[tenantID]
	if tp == nil {
		return nil
	}
	handles := make([]WorkerHandle, 0, len(tp.workers))
	for _, w := range tp.workers {
		handles = append(handles, w.handle())
	}
	return handles
}

// DesiredWorkers computes the target worker count for a queue depth:
// clamp(ceil(queueLength / perWorkerThreshold), minWorkers, maxWorkers).
func DesiredWorkers(queueLength, perWorkerThreshold, minWorkers, maxWorkers int) int {
	if perWorkerThreshold < 1 {
		perWorkerThreshold = 1
	}
	desired := (queueLength + perWorkerThreshold - 1) / perWorkerThreshold
	if desired < minWorkers {
		desired = minWorkers
	}
	if desired > maxWorkers {
		desired = maxWorkers
	}
	return desired
}

// scaleLoop adjusts worker counts on a fixed interval.
func (p *Pool) scaleLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ScaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.scaleAll(p.ctx)
		}
	}
}

// scaleAll discovers tenants with pending work and rescales every known
// tenant. Store connectivity failures are logged and the pass continues
// with locally known tenants.
func (p *Pool) scaleAll(ctx context.Context) {
	tenants, err := p.store.ActiveTenants(ctx)
	if err != nil {
		p.logger.Error("auto-scaler: failed to list active tenants",
			slog.String("error", err.Error()))
	}

	p.mu.Lock()
	for _, tenantID := range tenants {
		p.ensureTenantLocked(tenantID)
	}
	known := make([]string, 0, len(p.tenants))
	for tenantID := range p.tenants {
		known = append(known, tenantID)
	}
	p.mu.Unlock()

	for _, tenantID := range known {
		p.scaleTenant(ctx, tenantID)
	}
}

// scaleTenant resizes one tenant's worker set to match its queue depth.
// Excess workers are drained, never force-killed mid-execution. A tenant
// idle past IdleTenantTTL has its workers retired entirely.
func (p *Pool) scaleTenant(ctx context.Context, tenantID string) {
	queueLen, err := p.store.QueueLength(ctx, tenantID)
	if err != nil {
		p.logger.Error("auto-scaler: failed to read queue length",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tp := p.tenants[tenantID]
	if tp == nil || !p.running {
		return
	}
	if queueLen > 0 {
		tp.stats.touch()
	}

	desired := DesiredWorkers(queueLen, p.cfg.RequestsPerWorkerThreshold,
		p.cfg.MinWorkers, p.cfg.MaxWorkersPerTenant)
	if queueLen == 0 && tp.stats.processingCount() == 0 &&
		time.Since(tp.stats.idleSince()) > p.cfg.IdleTenantTTL {
		desired = 0
	}

	active := make([]*worker, 0, len(tp.workers))
	for _, w := range tp.workers {
		if w.currentState() == WorkerStateActive {
			active = append(active, w)
		}
	}

	switch {
	case desired > len(active):
		for i := len(active); i < desired; i++ {
			p.spawnWorkerLocked(tenantID, tp)
		}
	case desired < len(active):
		for _, w := range active[desired:] {
			w.requestDrain()
		}
	}

	if desired != len(active) {
		p.logger.Info("auto-scaler: resized tenant pool",
			slog.String("tenant_id", tenantID),
			slog.Int("queue_length", queueLen),
			slog.Int("workers", len(active)),
			slog.Int("desired", desired))
	}
}

// ensureTenantLocked creates the tenant's runtime state if missing.
// Must be called while holding the pool mutex.
func (p *Pool) ensureTenantLocked(tenantID string) *tenantPool {
	tp := p.tenants[tenantID]
	if tp != nil {
		return tp
	}
	tp = &tenantPool{
		workers: make(map[string]*worker),
		wake:    make(chan struct{}, 1),
		stats:   newTenantStats(),
	}
	if p.cfg.TenantRatePerSecond > 0 {
		tp.limiter = rate.NewLimiter(rate.Limit(p.cfg.TenantRatePerSecond), 1)
	}
	p.tenants[tenantID] = tp
	return tp
}

// spawnWorkerLocked starts one worker loop for the tenant. Must be
// called while holding the pool mutex with the pool running.
func (p *Pool) spawnWorkerLocked(tenantID string, tp *tenantPool) {
	w := &worker{
		id:             uuid.NewString(),
		tenantID:       tenantID,
		store:          p.store,
		executor:       p.executor,
		backoff:        p.backoff,
		logger:         p.logger,
		stats:          tp.stats,
		limiter:        tp.limiter,
		execCtx:        p.execCtx,
		executeTimeout: p.cfg.ExecuteTimeout,
		pollInterval:   p.cfg.PollInterval,
		wake:           tp.wake,
		drain:          make(chan struct{}),
		stopCh:         p.stopCh,
		wg:             &p.wg,
		state:          WorkerStateActive,
		lastBeat:       time.Now(),
	}
	w.notify = func() { p.Notify(tenantID) }
	w.onExit = func(workerID string) { p.removeWorker(tenantID, workerID) }

	tp.workers[w.id] = w
	p.wg.Add(1)
	go w.run(p.ctx)

	p.logger.Debug("worker started",
		slog.String("worker_id", w.id),
		slog.String("tenant_id", tenantID))
}

// removeWorker drops an exited worker from the tenant's set.
func (p *Pool) removeWorker(tenantID, workerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tp := p.tenants[tenantID]; tp != nil {
		delete(tp.workers, workerID)
	}
}

// inFlight sums currently processing requests across tenants.
func (p *Pool) inFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, tp := range p.tenants {
		total += tp.stats.processingCount()
	}
	return total
}
