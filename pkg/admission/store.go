package admission

import (
	"context"
	"encoding/json"
)

// Store is the shared priority-ordered store of pending requests. It is
// the only shared mutable resource in the subsystem: every mutation is a
// single atomic operation, so callers across goroutines and processes
// need no external locking. Infrastructure failures are never swallowed;
// they propagate to the caller so the API layer can respond with a
// service-unavailable status.
type Store interface {
	// Enqueue inserts a new request with a freshly computed score and
	// makes it immediately visible to position queries. An empty ID is
	// assigned; a duplicate ID returns ErrRequestAlreadyExists.
	Enqueue(ctx context.Context, req *Request) error

	// DequeueBest atomically removes and returns the lowest-score queued
	// request for the tenant, marking it processing. No two concurrent
	// callers may receive the same request. Returns ErrNoPendingRequests
	// when the tenant's queue is empty.
	DequeueBest(ctx context.Context, tenantID string) (*Request, error)

	// Requeue re-inserts an existing request after a retryable failure.
	// The caller has already incremented RetryCount; the score is
	// recomputed from the preserved QueuedAt so the request keeps its
	// original fairness position.
	Requeue(ctx context.Context, req *Request) error

	// Cancel removes a still-queued request so it will never be dequeued.
	// It returns false without error when the request exists but is no
	// longer queued (cancellation of in-flight work is best-effort), and
	// ErrRequestNotFound when the id is unknown.
	Cancel(ctx context.Context, id string) (bool, error)

	// Position reports the request's 1-based rank among the tenant's
	// queued requests, or zero alongside the live status when the request
	// has already left the queue.
	Position(ctx context.Context, tenantID, id string) (PositionInfo, error)

	// QueueLength returns the number of queued requests for the tenant.
	QueueLength(ctx context.Context, tenantID string) (int, error)

	// Get returns a copy of the request record.
	Get(ctx context.Context, id string) (*Request, error)

	// Complete marks a processing request completed and stores its result.
	Complete(ctx context.Context, id string, result json.RawMessage) error

	// Fail marks a processing request failed with a human-readable reason.
	Fail(ctx context.Context, id string, reason string) error

	// ActiveTenants lists tenants with pending work, for the auto-scaler.
	ActiveTenants(ctx context.Context) ([]string, error)
}
