package admission

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a request.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal requests are
// retained for status queries until the result TTL expires.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Role is the workspace role of the submitting user. Higher-privilege
// roles are admitted ahead of lower ones for equal priority.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Valid checks if the role is one of the known workspace roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// Priority represents request priority (0-100, higher is more important).
type Priority int

const (
	PriorityMin     Priority = 0
	PriorityDefault Priority = 50
	PriorityMax     Priority = 100
)

// Valid checks if the priority is within valid range.
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Request is a single admission record. The payload is an opaque blob
// tagged by CallType; the scheduler never inspects its internal shape.
type Request struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	UserID     string          `json:"user_id"`
	Role       Role            `json:"role"`
	CallType   string          `json:"call_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   Priority        `json:"priority"`
	QueuedAt   time.Time       `json:"queued_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	Status     Status          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// PositionInfo is the store-level answer to "where is this request in line".
// Position is 1-based among the tenant's queued requests and zero when the
// request is no longer queued.
type PositionInfo struct {
	Status      Status `json:"status"`
	Position    int    `json:"position"`
	QueueLength int    `json:"queue_length"`
}

// StatusInfo is the full position/ETA report returned to status pollers.
// It is always well-formed, including for failed and cancelled requests.
type StatusInfo struct {
	ID            string          `json:"id"`
	Status        Status          `json:"status"`
	Position      int             `json:"position,omitempty"`
	QueueLength   int             `json:"queue_length"`
	EstimatedWait time.Duration   `json:"-"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// WorkerState represents the lifecycle state of a single worker loop.
type WorkerState string

const (
	WorkerStateActive   WorkerState = "active"
	WorkerStateDraining WorkerState = "draining"
	WorkerStateStopped  WorkerState = "stopped"
)

// WorkerHandle is a snapshot of a worker loop for introspection.
type WorkerHandle struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenant_id"`
	State         WorkerState `json:"state"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
}
