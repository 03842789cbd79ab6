package admission_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/admitq/pkg/admission"
)

func newTestService(t *testing.T) (*admission.Service, *admission.MemoryStore) {
	t.Helper()

	store := admission.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	pool, err := admission.NewPool(store, &stubExecutor{})
	require.NoError(t, err)
	svc, err := admission.NewService(store, pool)
	require.NoError(t, err)
	return svc, store
}

func TestService_Enqueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("valid submission", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)

		id, err := svc.Enqueue(ctx, admission.EnqueueParams{
			TenantID: "acme",
			UserID:   "u_1",
			Role:     admission.RoleOwner,
			CallType: "report",
			Payload:  json.RawMessage(`{"query":"q"}`),
			Priority: 80,
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		info, err := svc.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, admission.StatusQueued, info.Status)
		assert.Equal(t, 1, info.Position)
	})

	t.Run("validation errors", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)

		valid := admission.EnqueueParams{
			TenantID: "acme",
			UserID:   "u_1",
			Role:     admission.RoleMember,
			Priority: 50,
		}

		tests := []struct {
			name   string
			mutate func(*admission.EnqueueParams)
			want   error
		}{
			{"missing tenant", func(p *admission.EnqueueParams) { p.TenantID = "" }, admission.ErrTenantRequired},
			{"missing user", func(p *admission.EnqueueParams) { p.UserID = "" }, admission.ErrUserRequired},
			{"bad role", func(p *admission.EnqueueParams) { p.Role = "superuser" }, admission.ErrInvalidRole},
			{"priority too high", func(p *admission.EnqueueParams) { p.Priority = 101 }, admission.ErrInvalidPriority},
			{"priority negative", func(p *admission.EnqueueParams) { p.Priority = -1 }, admission.ErrInvalidPriority},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				params := valid
				tt.mutate(&params)
				_, err := svc.Enqueue(ctx, params)
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("queued request", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)

		id, err := svc.Enqueue(ctx, admission.EnqueueParams{
			TenantID: "acme", UserID: "u_1", Role: admission.RoleMember, Priority: 50,
		})
		require.NoError(t, err)

		cancelled, err := svc.Cancel(ctx, id)
		require.NoError(t, err)
		assert.True(t, cancelled)

		info, err := svc.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, admission.StatusCancelled, info.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t)

		_, err := svc.Cancel(ctx, "missing")
		assert.ErrorIs(t, err, admission.ErrRequestNotFound)
	})
}

func TestService_Validation(t *testing.T) {
	t.Parallel()

	store := admission.NewMemoryStore()
	defer store.Close()
	pool, err := admission.NewPool(store, &stubExecutor{})
	require.NoError(t, err)

	_, err = admission.NewService(nil, pool)
	assert.ErrorIs(t, err, admission.ErrStoreNil)

	_, err = admission.NewService(store, nil)
	assert.ErrorIs(t, err, admission.ErrPoolNil)
}
