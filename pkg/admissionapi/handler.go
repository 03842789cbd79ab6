// Package admissionapi exposes the admission service over REST: a
// synchronous submission endpoint plus polling and server-sent-event
// status endpoints for end callers waiting on results.
package admissionapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/admitq/pkg/admission"
)

// Service is the admission facade the handlers depend on, implemented
// by admission.Service.
type Service interface {
	Enqueue(ctx context.Context, params admission.EnqueueParams) (string, error)
	Status(ctx context.Context, id string) (admission.StatusInfo, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

// Handler serves the admission REST endpoints.
type Handler struct {
	svc          Service
	logger       *slog.Logger
	pollInterval time.Duration
}

// Option is a functional option for configuring a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithStreamPollInterval sets how often the event stream re-reads a
// request's status.
func WithStreamPollInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// NewHandler creates the REST handler over the admission service.
func NewHandler(svc Service, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, ErrServiceNil
	}
	h := &Handler{
		svc:          svc,
		logger:       slog.Default(),
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes mounts the admission endpoints on a fresh chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/requests", h.enqueue)
	r.Get("/requests/{id}", h.status)
	r.Delete("/requests/{id}", h.cancel)
	r.Get("/requests/{id}/events", h.stream)
	return r
}

type enqueueResponse struct {
	ID string `json:"id"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// statusResponse mirrors admission.StatusInfo with a nullable position
// and the estimated wait expressed in seconds.
type statusResponse struct {
	ID                   string           `json:"id"`
	Status               admission.Status `json:"status"`
	Position             *int             `json:"position"`
	TotalQueueLength     int              `json:"total_queue_length"`
	EstimatedWaitSeconds float64          `json:"estimated_wait_seconds"`
	Result               json.RawMessage  `json:"result,omitempty"`
	Error                string           `json:"error,omitempty"`
}

func toStatusResponse(info admission.StatusInfo) statusResponse {
	resp := statusResponse{
		ID:                   info.ID,
		Status:               info.Status,
		TotalQueueLength:     info.QueueLength,
		EstimatedWaitSeconds: info.EstimatedWait.Seconds(),
		Result:               info.Result,
		Error:                info.Error,
	}
	if info.Position > 0 {
		pos := info.Position
		resp.Position = &pos
	}
	return resp
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var params admission.EnqueueParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.svc.Enqueue(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, enqueueResponse{ID: id})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toStatusResponse(info))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cancelResponse{Cancelled: cancelled})
}

// stream pushes status snapshots as server-sent events until the
// request reaches a terminal status or the client disconnects.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := chi.URLParam(r, "id")
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		info, err := h.svc.Status(r.Context(), id)
		if err != nil {
			h.writeEvent(w, flusher, "error", map[string]string{"error": errorMessage(err)})
			return
		}
		h.writeEvent(w, flusher, "status", toStatusResponse(info))
		if info.Status.Terminal() {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal event payload", slog.String("error", err.Error()))
		return
	}
	if _, err := w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
		return
	}
	flusher.Flush()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service failures onto HTTP statuses: unknown
// ids are 404, validation failures 400, and anything else (store
// connectivity included) a 503 so callers know to back off.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admission.ErrRequestNotFound):
		h.writeError(w, http.StatusNotFound, errorMessage(err))
	case isValidationError(err):
		h.writeError(w, http.StatusBadRequest, errorMessage(err))
	default:
		h.logger.Error("admission service error", slog.String("error", err.Error()))
		h.writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, admission.ErrTenantRequired) ||
		errors.Is(err, admission.ErrUserRequired) ||
		errors.Is(err, admission.ErrInvalidRole) ||
		errors.Is(err, admission.ErrInvalidPriority)
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
