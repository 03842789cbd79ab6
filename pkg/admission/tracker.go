package admission

import (
	"context"
	"time"
)

// WorkerStats supplies the live worker metrics a Tracker needs for ETA
// estimation. Implemented by Pool.
type WorkerStats interface {
	// TenantStats returns the tenant's rolling average processing
	// duration and the number of live workers.
	TenantStats(tenantID string) (avg time.Duration, workers int)
}

// Tracker answers "where am I in line and how long until done" for a
// request id. It reads the record's live status rather than inferring
// state from queue membership, so concurrent dequeues never produce a
// stale answer.
type Tracker struct {
	store Store
	stats WorkerStats
}

// NewTracker creates a position tracker over the shared store.
func NewTracker(store Store, stats WorkerStats) (*Tracker, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	return &Tracker{store: store, stats: stats}, nil
}

// Status reports the request's live status, queue position, and
// estimated wait. The result is always well-formed, including for failed
// and cancelled requests; only an unknown id or a store failure returns
// an error.
func (t *Tracker) Status(ctx context.Context, id string) (StatusInfo, error) {
	rec, err := t.store.Get(ctx, id)
	if err != nil {
		return StatusInfo{}, err
	}

	info := StatusInfo{ID: rec.ID, Status: rec.Status}
	if rec.Status.Terminal() {
		info.Result = rec.Result
		info.Error = rec.Error
		return info, nil
	}

	pos, err := t.store.Position(ctx, rec.TenantID, rec.ID)
	if err != nil {
		return StatusInfo{}, err
	}

	// The position query races with dequeues; the fresher status wins.
	info.Status = pos.Status
	info.QueueLength = pos.QueueLength
	if pos.Status != StatusQueued || pos.Position == 0 {
		return info, nil
	}
	info.Position = pos.Position

	if t.stats != nil {
		avg, workers := t.stats.TenantStats(rec.TenantID)
		if workers < 1 {
			workers = 1
		}
		info.EstimatedWait = time.Duration(pos.Position) * avg / time.Duration(workers)
	}
	return info, nil
}
