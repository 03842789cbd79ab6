package admission

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultResultTTL is how long terminal records are retained for status
// queries before eviction.
const DefaultResultTTL = 10 * time.Minute

// MemoryStore implements Store in process memory for testing and local
// development. It provides the same atomicity guarantees as the Redis
// implementation but is not shared across processes.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Request
	scores  map[string]float64
	queues  map[string][]string // tenant -> queued ids ordered by (score, id)

	resultTTL  time.Duration
	terminalAt map[string]time.Time

	janitor *time.Ticker
	done    chan struct{}
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryResultTTL sets how long terminal records are retained.
func WithMemoryResultTTL(ttl time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if ttl > 0 {
			ms.resultTTL = ttl
		}
	}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		records:    make(map[string]*Request),
		scores:     make(map[string]float64),
		queues:     make(map[string][]string),
		terminalAt: make(map[string]time.Time),
		resultTTL:  DefaultResultTTL,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ms)
	}

	ms.janitor = time.NewTicker(time.Minute)
	go ms.evictLoop()

	return ms
}

// Close stops the background eviction goroutine.
func (ms *MemoryStore) Close() error {
	close(ms.done)
	ms.janitor.Stop()
	return nil
}

// Enqueue implements Store.
func (ms *MemoryStore) Enqueue(ctx context.Context, req *Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.records[req.ID]; exists {
		return ErrRequestAlreadyExists
	}

	rec := *req
	rec.Status = StatusQueued
	ms.records[rec.ID] = &rec
	ms.insertQueued(&rec)

	return nil
}

// DequeueBest implements Store.
func (ms *MemoryStore) DequeueBest(ctx context.Context, tenantID string) (*Request, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ids := ms.queues[tenantID]
	if len(ids) == 0 {
		return nil, ErrNoPendingRequests
	}

	id := ids[0]
	ms.queues[tenantID] = ids[1:]

	rec := ms.records[id]
	rec.Status = StatusProcessing

	cp := *rec
	return &cp, nil
}

// Requeue implements Store.
func (ms *MemoryStore) Requeue(ctx context.Context, req *Request) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, exists := ms.records[req.ID]
	if !exists {
		return ErrRequestNotFound
	}
	// A best-effort cancel may have landed while the request was
	// in flight; it must not be resurrected.
	if rec.Status == StatusCancelled {
		return nil
	}

	rec.Status = StatusQueued
	rec.RetryCount = req.RetryCount
	rec.Error = ""
	ms.insertQueued(rec)

	return nil
}

// Cancel implements Store.
func (ms *MemoryStore) Cancel(ctx context.Context, id string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, exists := ms.records[id]
	if !exists {
		return false, ErrRequestNotFound
	}
	switch rec.Status {
	case StatusQueued:
		ms.removeQueued(rec.TenantID, id)
		rec.Status = StatusCancelled
		ms.terminalAt[id] = time.Now()
		return true, nil
	case StatusProcessing:
		// Best-effort: the in-flight call may still complete, but its
		// result will be discarded.
		rec.Status = StatusCancelled
		ms.terminalAt[id] = time.Now()
		return false, nil
	default:
		return false, nil
	}
}

// Position implements Store.
func (ms *MemoryStore) Position(ctx context.Context, tenantID, id string) (PositionInfo, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, exists := ms.records[id]
	if !exists {
		return PositionInfo{}, ErrRequestNotFound
	}

	info := PositionInfo{
		Status:      rec.Status,
		QueueLength: len(ms.queues[tenantID]),
	}
	if rec.Status != StatusQueued {
		return info, nil
	}

	for i, queuedID := range ms.queues[tenantID] {
		if queuedID == id {
			info.Position = i + 1
			break
		}
	}
	return info, nil
}

// QueueLength implements Store.
func (ms *MemoryStore) QueueLength(ctx context.Context, tenantID string) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.queues[tenantID]), nil
}

// Get implements Store.
func (ms *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, exists := ms.records[id]
	if !exists {
		return nil, ErrRequestNotFound
	}

	cp := *rec
	return &cp, nil
}

// Complete implements Store.
func (ms *MemoryStore) Complete(ctx context.Context, id string, result json.RawMessage) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, exists := ms.records[id]
	if !exists {
		return ErrRequestNotFound
	}
	// Results for cancelled in-flight requests are discarded.
	if rec.Status != StatusProcessing {
		return nil
	}

	rec.Status = StatusCompleted
	rec.Result = result
	ms.terminalAt[id] = time.Now()

	return nil
}

// Fail implements Store.
func (ms *MemoryStore) Fail(ctx context.Context, id string, reason string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, exists := ms.records[id]
	if !exists {
		return ErrRequestNotFound
	}
	if rec.Status != StatusProcessing {
		return nil
	}

	rec.Status = StatusFailed
	rec.Error = reason
	ms.terminalAt[id] = time.Now()

	return nil
}

// ActiveTenants implements Store.
func (ms *MemoryStore) ActiveTenants(ctx context.Context) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	tenants := make([]string, 0, len(ms.queues))
	for tenantID, ids := range ms.queues {
		if len(ids) > 0 {
			tenants = append(tenants, tenantID)
		}
	}
	return tenants, nil
}

// insertQueued places the record into its tenant queue keeping the
// (score, id) ordering. Must be called while holding the mutex.
func (ms *MemoryStore) insertQueued(rec *Request) {
	score := Score(rec.Role, rec.Priority, rec.QueuedAt)
	ms.scores[rec.ID] = score

	ids := ms.queues[rec.TenantID]
	i := sort.Search(len(ids), func(i int) bool {
		if ms.scores[ids[i]] != score {
			return ms.scores[ids[i]] > score
		}
		return ids[i] > rec.ID
	})

	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = rec.ID
	ms.queues[rec.TenantID] = ids
}

// removeQueued drops the id from its tenant queue. Must be called while
// holding the mutex.
func (ms *MemoryStore) removeQueued(tenantID, id string) {
	ids := ms.queues[tenantID]
	for i, queuedID := range ids {
		if queuedID == id {
			ms.queues[tenantID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// evictLoop drops terminal records once their result TTL has passed, so
// the store does not grow without bound.
func (ms *MemoryStore) evictLoop() {
	for {
		select {
		case <-ms.janitor.C:
			ms.evictExpired()
		case <-ms.done:
			return
		}
	}
}

func (ms *MemoryStore) evictExpired() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := time.Now().Add(-ms.resultTTL)
	for id, at := range ms.terminalAt {
		if at.Before(cutoff) {
			delete(ms.records, id)
			delete(ms.scores, id)
			delete(ms.terminalAt, id)
		}
	}
}
