// Package admission provides per-tenant request admission and queueing
// in front of a quota-limited external API: a priority-ordered shared
// queue, auto-scaling worker pools, exponential-backoff retry, and live
// queue-position/ETA reporting.
//
// The package is organised around a handful of small components:
//
//   - Store    — atomic, score-ordered storage of pending requests
//     (Redis for multi-process deployments, memory for tests)
//   - Pool     — per-tenant worker loops plus the auto-scaler
//   - Backoff  — pure exponential retry-delay policy
//   - Tracker  — queue position and estimated-wait reporting
//   - Service  — the facade transport layers talk to
//
// Components interact only through the Store and Executor interfaces,
// keeping scheduling logic decoupled from persistence and from the
// external API client. Any engine exposing atomic "insert with score"
// and "pop minimum" primitives can back the queue; the bundled
// RedisStore uses sorted sets so worker pools in separate processes can
// share one logical queue without coordination.
//
// # Ordering
//
// Requests are ranked by Score: submission time biased by role and
// priority, lower first. Within one tenant, ready requests are served in
// strictly ascending score order; no ordering exists across tenants.
//
// # Failure taxonomy
//
// Rate-limited and timed-out calls consume a retry slot and are requeued
// after an exponential backoff. Any other execution error is terminal.
// Store connectivity failures are never swallowed; they propagate to the
// caller so the transport can degrade explicitly.
//
// # Usage
//
//	store := admission.NewMemoryStore()
//	pool, _ := admission.NewPool(store, executor,
//		admission.WithConfig(admission.DefaultConfig()))
//	svc, _ := admission.NewService(store, pool)
//
//	_ = pool.Start(ctx)
//	id, _ := svc.Enqueue(ctx, admission.EnqueueParams{
//		TenantID: "acme",
//		UserID:   "u_1",
//		Role:     admission.RoleMember,
//		CallType: "report",
//		Payload:  json.RawMessage(`{"query":"weekly"}`),
//		Priority: admission.PriorityDefault,
//	})
//	info, _ := svc.Status(ctx, id)
package admission
