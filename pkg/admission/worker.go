package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// storeOpTimeout bounds store mutations made outside the main dequeue
// path (completion, failure, requeue after backoff).
const storeOpTimeout = 5 * time.Second

// worker is a single execution loop for one tenant. It pops the best
// ready request from the store, invokes the external executor with a
// timeout, and applies the retry policy on failure.
type worker struct {
	id       string
	tenantID string
	store    Store
	executor Executor
	backoff  Backoff
	logger   *slog.Logger
	stats    *tenantStats
	limiter  *rate.Limiter

	// execCtx outlives the worker's run context during graceful shutdown
	// and is cancelled only when the grace period expires.
	execCtx context.Context

	executeTimeout time.Duration
	pollInterval   time.Duration

	wake   <-chan struct{}
	drain  chan struct{}
	stopCh <-chan struct{}
	wg     *sync.WaitGroup
	notify func()
	onExit func(workerID string)

	mu       sync.Mutex
	state    WorkerState
	lastBeat time.Time
}

// run is the worker loop. It exits when the pool stops, the run context
// is cancelled, or the worker is told to drain; a drained worker always
// finishes its current request first.
func (w *worker) run(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		w.setState(WorkerStateStopped)
		if w.onExit != nil {
			w.onExit(w.id)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.drain:
			return
		default:
		}
		w.beat()

		if w.limiter != nil && !w.limiter.Allow() {
			w.waitForWork(ctx)
			continue
		}

		req, err := w.store.DequeueBest(ctx, w.tenantID)
		if err != nil {
			if !errors.Is(err, ErrNoPendingRequests) && !errors.Is(err, context.Canceled) {
				// Store connectivity problems are supervisory material,
				// not something to retry against blindly.
				w.logger.Error("dequeue failed",
					slog.String("worker_id", w.id),
					slog.String("tenant_id", w.tenantID),
					slog.String("error", err.Error()))
			}
			w.waitForWork(ctx)
			continue
		}

		w.process(req)
	}
}

// process executes one request end to end. A single request's failure
// never crashes the loop.
func (w *worker) process(req *Request) {
	w.stats.beginProcessing()
	defer w.stats.endProcessing()

	start := time.Now()

	// The execute context is detached from the worker lifecycle so
	// graceful shutdown lets in-flight calls finish within their timeout.
	execCtx, cancel := context.WithTimeout(w.execCtx, w.executeTimeout)
	result, err := w.executor.Execute(execCtx, req.CallType, req.Payload)
	cancel()

	duration := time.Since(start)
	w.stats.record(duration)

	// An expired grace period abandons the call: the record stays in
	// processing rather than being misreported as failed.
	if err != nil && w.execCtx.Err() != nil {
		w.logger.Warn("request abandoned during shutdown",
			slog.String("worker_id", w.id),
			slog.String("tenant_id", w.tenantID),
			slog.String("request_id", req.ID))
		return
	}

	ctx, cancelStore := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancelStore()

	switch {
	case err == nil:
		if cerr := w.store.Complete(ctx, req.ID, result); cerr != nil {
			w.logger.Error("failed to mark request completed",
				slog.String("request_id", req.ID),
				slog.String("error", cerr.Error()))
			return
		}
		w.logger.Info("request completed",
			slog.String("worker_id", w.id),
			slog.String("tenant_id", w.tenantID),
			slog.String("request_id", req.ID),
			slog.Duration("duration", duration))

	case Retryable(err):
		w.retry(ctx, req, err)

	default:
		if ferr := w.store.Fail(ctx, req.ID, err.Error()); ferr != nil {
			w.logger.Error("failed to mark request failed",
				slog.String("request_id", req.ID),
				slog.String("error", ferr.Error()))
			return
		}
		w.logger.Error("request failed",
			slog.String("worker_id", w.id),
			slog.String("tenant_id", w.tenantID),
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()))
	}
}

// retry applies the backoff policy after a retryable failure. The
// increment-then-compare order means a request that has already consumed
// all its retry slots fails instead of being requeued a final time.
func (w *worker) retry(ctx context.Context, req *Request, execErr error) {
	delay := w.backoff.NextDelay(req.RetryCount)
	var rle *RateLimitedError
	if errors.As(execErr, &rle) && rle.RetryAfter > delay {
		delay = rle.RetryAfter
	}

	req.RetryCount++
	if req.RetryCount >= req.MaxRetries {
		if err := w.store.Fail(ctx, req.ID, "max retries exceeded"); err != nil {
			w.logger.Error("failed to mark request failed",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()))
			return
		}
		w.logger.Warn("request exhausted retries",
			slog.String("worker_id", w.id),
			slog.String("tenant_id", w.tenantID),
			slog.String("request_id", req.ID),
			slog.Int("retry_count", req.RetryCount))
		return
	}

	w.logger.Info("retrying request",
		slog.String("worker_id", w.id),
		slog.String("tenant_id", w.tenantID),
		slog.String("request_id", req.ID),
		slog.Int("retry_count", req.RetryCount),
		slog.Duration("delay", delay))

	// The backoff sleep runs off the loop so this worker keeps serving
	// other requests. Shutdown short-circuits the sleep and requeues
	// immediately so the request is not lost.
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-w.stopCh:
		}

		rctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()
		if err := w.store.Requeue(rctx, req); err != nil {
			w.logger.Error("requeue failed",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()))
			return
		}
		if w.notify != nil {
			w.notify()
		}
	}()
}

// waitForWork suspends until new work may be available, the poll interval
// elapses, or the worker is asked to stop.
func (w *worker) waitForWork(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-w.drain:
	case <-w.wake:
	case <-timer.C:
	}
}

func (w *worker) setState(state WorkerState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WorkerStateStopped {
		w.state = state
	}
}

func (w *worker) currentState() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *worker) beat() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastBeat = time.Now()
}

// handle returns an introspection snapshot of the worker.
func (w *worker) handle() WorkerHandle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerHandle{
		ID:            w.id,
		TenantID:      w.tenantID,
		State:         w.state,
		LastHeartbeat: w.lastBeat,
	}
}

// requestDrain tells the worker to finish its current request and stop.
// Safe to call multiple times.
func (w *worker) requestDrain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WorkerStateActive {
		w.state = WorkerStateDraining
		close(w.drain)
	}
}
