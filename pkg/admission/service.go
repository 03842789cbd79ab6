package admission

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EnqueueParams describes a submission from the API layer.
type EnqueueParams struct {
	TenantID string          `json:"tenant_id"`
	UserID   string          `json:"user_id"`
	Role     Role            `json:"role"`
	CallType string          `json:"call_type"`
	Payload  json.RawMessage `json:"payload"`
	Priority Priority        `json:"priority"`
}

// Service is the admission facade used by transport layers: synchronous
// enqueue, status polling, and cancellation over one shared store and
// worker pool.
type Service struct {
	store      Store
	pool       *Pool
	tracker    *Tracker
	logger     *slog.Logger
	maxRetries int
}

// ServiceOption is a functional option for configuring a Service.
type ServiceOption func(*Service)

// WithMaxRetries overrides the retry budget stamped on new requests.
func WithMaxRetries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires the store, pool, and tracker into the submission
// facade.
func NewService(store Store, pool *Pool, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if pool == nil {
		return nil, ErrPoolNil
	}

	tracker, err := NewTracker(store, pool)
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:      store,
		pool:       pool,
		tracker:    tracker,
		logger:     slog.Default(),
		maxRetries: pool.cfg.MaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enqueue validates and admits a request, returning its id. The record
// is immediately visible to status queries; a store failure propagates
// so the transport can answer with a service-unavailable response.
func (s *Service) Enqueue(ctx context.Context, params EnqueueParams) (string, error) {
	if params.TenantID == "" {
		return "", ErrTenantRequired
	}
	if params.UserID == "" {
		return "", ErrUserRequired
	}
	if !params.Role.Valid() {
		return "", ErrInvalidRole
	}
	if !params.Priority.Valid() {
		return "", ErrInvalidPriority
	}

	req := &Request{
		ID:         uuid.NewString(),
		TenantID:   params.TenantID,
		UserID:     params.UserID,
		Role:       params.Role,
		CallType:   params.CallType,
		Payload:    params.Payload,
		Priority:   params.Priority,
		QueuedAt:   time.Now().UTC(),
		MaxRetries: s.maxRetries,
		Status:     StatusQueued,
	}

	if err := s.store.Enqueue(ctx, req); err != nil {
		return "", err
	}

	s.pool.EnsureTenant(params.TenantID)
	s.pool.Notify(params.TenantID)

	s.logger.Info("request admitted",
		slog.String("request_id", req.ID),
		slog.String("tenant_id", req.TenantID),
		slog.String("role", string(req.Role)),
		slog.Int("priority", int(req.Priority)))

	return req.ID, nil
}

// Status reports the live status, position, and ETA for a request.
func (s *Service) Status(ctx context.Context, id string) (StatusInfo, error) {
	return s.tracker.Status(ctx, id)
}

// Cancel removes a queued request, or best-effort cancels a processing
// one. The boolean reports whether the request was still queued.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	cancelled, err := s.store.Cancel(ctx, id)
	if err != nil {
		return false, err
	}
	if cancelled {
		s.logger.Info("request cancelled", slog.String("request_id", id))
	}
	return cancelled, nil
}

// Run returns a function suitable for errgroup that manages the worker
// pool lifecycle alongside the service.
func (s *Service) Run(ctx context.Context) func() error {
	return s.pool.Run(ctx)
}
