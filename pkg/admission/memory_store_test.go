package admission_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/admitq/pkg/admission"
)

func newQueuedRequest(tenantID string, role admission.Role, priority admission.Priority, queuedAt time.Time) *admission.Request {
	return &admission.Request{
		TenantID:   tenantID,
		UserID:     "user-1",
		Role:       role,
		CallType:   "report",
		Priority:   priority,
		QueuedAt:   queuedAt,
		MaxRetries: 3,
		Status:     admission.StatusQueued,
	}
}

func TestMemoryStore_EnqueueDequeue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("assigns id and makes record visible", func(t *testing.T) {
		t.Parallel()

		store := admission.NewMemoryStore()
		defer store.Close()

		req := newQueuedRequest("t1", admission.RoleMember, 50, time.Now().UTC())
		require.NoError(t, store.Enqueue(ctx, req))
		require.NotEmpty(t, req.ID)

		info, err := store.Position(ctx, "t1", req.ID)
		require.NoError(t, err)
		assert.Equal(t, admission.StatusQueued, info.Status)
		assert.Equal(t, 1, info.Position)
		assert.Equal(t, 1, info.QueueLength)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		t.Parallel()

		store := admission.NewMemoryStore()
		defer store.Close()

		req := newQueuedRequest("t1", admission.RoleMember, 50, time.Now().UTC())
		req.ID = "fixed-id"
		require.NoError(t, store.Enqueue(ctx, req))

		dup := newQueuedRequest("t1", admission.RoleMember, 50, time.Now().UTC())
		dup.ID = "fixed-id"
		assert.ErrorIs(t, store.Enqueue(ctx, dup), admission.ErrRequestAlreadyExists)
	})

	t.Run("empty queue returns sentinel", func(t *testing.T) {
		t.Parallel()

		store := admission.NewMemoryStore()
		defer store.Close()

		_, err := store.DequeueBest(ctx, "nobody")
		assert.ErrorIs(t, err, admission.ErrNoPendingRequests)
	})

	t.Run("owner jumps ahead of members enqueued first", func(t *testing.T) {
		t.Parallel()

		store := admission.NewMemoryStore()
		defer store.Close()

		// Three member requests then one owner request in the same
		// time window: the owner must dequeue first, then the members
		// in submission order.
		at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		var memberIDs []string
		for i := range 3 {
			req := newQueuedRequest("t1", admission.RoleMember, 50, at.Add(time.Duration(i)*time.Millisecond))
			require.NoError(t, store.Enqueue(ctx, req))
			memberIDs = append(memberIDs, req.ID)
		}
		owner := newQueuedRequest("t1", admission.RoleOwner, 50, at.Add(3*time.Millisecond))
		require.NoError(t, store.Enqueue(ctx, owner))

		var order []string
		for range 4 {
			rec, err := store.DequeueBest(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, admission.StatusProcessing, rec.Status)
			order = append(order, rec.ID)
		}
		assert.Equal(t, []string{owner.ID, memberIDs[0], memberIDs[1], memberIDs[2]}, order)
	})

	t.Run("dequeues in ascending score order", func(t *testing.T) {
		t.Parallel()

		store := admission.NewMemoryStore()
		defer store.Close()

		at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		roles := []admission.Role{admission.RoleViewer, admission.RoleMember, admission.RoleAdmin, admission.RoleOwner}
		for i, role := range roles {
			req := newQueuedRequest("t1", role, admission.Priority(i*10), at.Add(time.Duration(i)*time.Second))
			require.NoError(t, store.Enqueue(ctx, req))
		}

		var prev float64
		for i := range roles {
			rec, err := store.DequeueBest(ctx, "t1")
			require.NoError(t, err)
			score := admission.Score(rec.Role, rec.Priority, rec.QueuedAt)
			if i > 0 {
				require.GreaterOrEqual(t, score, prev)
			}
			prev = score
		}
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		t.Parallel()

		store := admission.NewMemoryStore()
		defer store.Close()

		reqA := newQueuedRequest("tenant-a", admission.RoleMember, 50, time.Now().UTC())
		require.NoError(t, store.Enqueue(ctx, reqA))

		_, err := store.DequeueBest(ctx, "tenant-b")
		assert.ErrorIs(t, err, admission.ErrNoPendingRequests)

		rec, err := store.DequeueBest(ctx, "tenant-a")
		require.NoError(t, err)
		assert.Equal(t, reqA.ID, rec.ID)
	})
}

func TestMemoryStore_ConcurrentEnqueueDequeue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := admission.NewMemoryStore()
	defer store.Close()

	// N concurrent enqueues followed by N sequential dequeues must yield
	// exactly N distinct records.
	const n = 100
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := newQueuedRequest("t1", admission.RoleMember, 50, time.Now().UTC())
			req.UserID = fmt.Sprintf("user-%d", i)
			assert.NoError(t, store.Enqueue(ctx, req))
		}(i)
	}
	wg.Wait()

	length, err := store.QueueLength(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, n, length)

	seen := make(map[string]bool, n)
	for range n {
		rec, err := store.DequeueBest(ctx, "t1")
		require.NoError(t, err)
		require.False(t, seen[rec.ID], "duplicate delivery of %s", rec.ID)
		seen[rec.ID] = true
	}
	assert.Len(t, seen, n)

	_, err = store.DequeueBest(ctx, "t1")
	assert.ErrorIs(t, err, admission.ErrNoPendingRequests)
}

func TestMemoryStore_Cancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("queued request is removed atomically", func(t *testing.T) {
		t.Parallel()

		store := admission.NewMemoryStore()
		defer store.Close()

		req := newQueuedRequest("t1", admission.RoleMember, 50, time.Now().UTC())
		require.NoError(t, store.Enqueue(ctx, req))

		cancelled, err := store.Cancel(ctx, req.ID)
		require.NoError(t, err)
		assert.True(t, cancelled)

		// Never dequeued afterward.
		_, err = store.DequeueBest(ctx, "t1")
		assert.ErrorIs(t, err, admission.ErrNoPendingRequests)

		// Position queries see the terminal status, not a rank.
		info, err := store.Position(ctx, "t1", req.ID)
		require.NoError(t, err)
		assert.Equal(t, admission.StatusCancelled, info.Status)
		assert.Zero(t, info.Position)
	})

	t.Run("processing request is best-effort", func(t *testing.T) {
		t.Parallel()

		store := admission.NewMemoryStore()
		defer store.Close()

		req := newQueuedRequest("t1", admission.RoleMember, 50, time.Now().UTC())
		require.NoError(t, store.Enqueue(ctx, req))
		_, err := store.DequeueBest(ctx, "t1")
		require.NoError(t, err)

		cancelled, err := store.Cancel(ctx, req.ID)
		require.NoError(t, err)
		assert.False(t, cancelled)

		// The in-flight result is discarded without error and the
		// record stays cancelled.
		require.NoError(t, store.Complete(ctx, req.ID, []byte(`{"ok":true}`)))
		rec, err := store.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, admission.StatusCancelled, rec.Status)
		assert.Empty(t, rec.Result)
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()

		store := admission.NewMemoryStore()
		defer store.Close()

		_, err := store.Cancel(ctx, "missing")
		assert.ErrorIs(t, err, admission.ErrRequestNotFound)
	})
}

func TestMemoryStore_Requeue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := admission.NewMemoryStore()
	defer store.Close()

	// A requeued request keeps its original submission time, so it goes
	// back ahead of requests that arrived while it was processing.
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	first := newQueuedRequest("t1", admission.RoleMember, 50, at)
	require.NoError(t, store.Enqueue(ctx, first))

	rec, err := store.DequeueBest(ctx, "t1")
	require.NoError(t, err)

	later := newQueuedRequest("t1", admission.RoleMember, 50, at.Add(time.Second))
	require.NoError(t, store.Enqueue(ctx, later))

	rec.RetryCount++
	require.NoError(t, store.Requeue(ctx, rec))

	next, err := store.DequeueBest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, next.ID)
	assert.Equal(t, 1, next.RetryCount)
}

func TestMemoryStore_TerminalTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := admission.NewMemoryStore()
	defer store.Close()

	req := newQueuedRequest("t1", admission.RoleMember, 50, time.Now().UTC())
	require.NoError(t, store.Enqueue(ctx, req))
	_, err := store.DequeueBest(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, store.Fail(ctx, req.ID, "max retries exceeded"))

	rec, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, admission.StatusFailed, rec.Status)
	assert.Equal(t, "max retries exceeded", rec.Error)

	// Terminal records reject further transitions silently.
	require.NoError(t, store.Complete(ctx, req.ID, []byte(`{}`)))
	rec, err = store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, admission.StatusFailed, rec.Status)
}

func TestMemoryStore_ActiveTenants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := admission.NewMemoryStore()
	defer store.Close()

	require.NoError(t, store.Enqueue(ctx, newQueuedRequest("a", admission.RoleMember, 50, time.Now().UTC())))
	require.NoError(t, store.Enqueue(ctx, newQueuedRequest("b", admission.RoleMember, 50, time.Now().UTC())))

	tenants, err := store.ActiveTenants(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, tenants)
}
