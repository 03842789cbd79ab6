package admission

import "time"

// priorityWeight is the number of milliseconds of queue age one priority
// point is worth. With the full 0-100 range a max-priority request gains
// 10s of effective seniority, matching the spacing between role tiers.
const priorityWeight = 100

// roleBias returns the admission bias for a role in milliseconds.
// The bias is subtracted from the submission timestamp, so
// higher-privilege roles sort earlier within the same time window.
func roleBias(r Role) int64 {
	switch r {
	case RoleOwner:
		return 10000
	case RoleAdmin:
		return 5000
	case RoleViewer:
		return -5000
	default: // RoleMember
		return 0
	}
}

// Score maps (role, priority, submission time) to a sortable rank.
// Lower scores dequeue first. For a fixed role and priority the score
// strictly increases with the submission time, preserving FIFO order
// within a tier; remaining ties are broken by request id at the store
// level for full determinism.
func Score(role Role, priority Priority, queuedAt time.Time) float64 {
	return float64(queuedAt.UnixMilli() - roleBias(role) - int64(priority)*priorityWeight)
}
