package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Each tenant's queue is a Sorted
// Set of request ids keyed by score, and records live in Hashes. ZADD and
// ZPOPMIN give atomic "insert with score" and "pop minimum" visible to
// every process sharing the instance, which is what makes horizontal
// scaling of worker pools safe: no two workers, local or remote, can pop
// the same member.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
	resultTTL time.Duration
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides the default "admitq:" key prefix.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithResultTTL sets how long terminal records are retained.
func WithResultTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.resultTTL = ttl
		}
	}
}

// NewRedisStore creates a Redis-backed store. The caller owns the client
// lifecycle.
func NewRedisStore(client redis.Cmdable, opts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, ErrStoreNil
	}
	s := &RedisStore{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		resultTTL: DefaultResultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enqueue implements Store.
func (s *RedisStore) Enqueue(ctx context.Context, req *Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	exists, err := s.client.Exists(ctx, s.requestKey(req.ID)).Result()
	if err != nil {
		return fmt.Errorf("admission: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return ErrRequestAlreadyExists
	}

	rec := *req
	rec.Status = StatusQueued
	score := Score(rec.Role, rec.Priority, rec.QueuedAt)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.requestKey(rec.ID), recordToFields(&rec))
	pipe.SAdd(ctx, s.tenantsKey(), rec.TenantID)
	pipe.ZAdd(ctx, s.queueKey(rec.TenantID), redis.Z{Score: score, Member: rec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("admission: enqueue: %w", err)
	}

	req.Status = StatusQueued
	return nil
}

// DequeueBest implements Store. ZPOPMIN transfers exclusive ownership of
// the popped member to this caller; the status update that follows needs
// no further coordination.
func (s *RedisStore) DequeueBest(ctx context.Context, tenantID string) (*Request, error) {
	// A popped member may reference a record evicted by TTL; skip such
	// orphans instead of reporting an empty queue prematurely.
	for range 3 {
		members, err := s.client.ZPopMin(ctx, s.queueKey(tenantID), 1).Result()
		if err != nil {
			return nil, fmt.Errorf("admission: dequeue zpopmin: %w", err)
		}
		if len(members) == 0 {
			return nil, ErrNoPendingRequests
		}

		id, ok := members[0].Member.(string)
		if !ok {
			continue
		}

		fields, err := s.client.HGetAll(ctx, s.requestKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("admission: dequeue load record: %w", err)
		}
		if len(fields) == 0 {
			continue
		}

		if err := s.client.HSet(ctx, s.requestKey(id), "status", string(StatusProcessing)).Err(); err != nil {
			return nil, fmt.Errorf("admission: dequeue mark processing: %w", err)
		}

		rec, err := recordFromFields(fields)
		if err != nil {
			return nil, fmt.Errorf("admission: dequeue decode record %s: %w", id, err)
		}
		rec.Status = StatusProcessing
		return rec, nil
	}
	return nil, ErrNoPendingRequests
}

// Requeue implements Store. The score is recomputed from the preserved
// QueuedAt so the request keeps its original fairness position.
func (s *RedisStore) Requeue(ctx context.Context, req *Request) error {
	status, err := s.client.HGet(ctx, s.requestKey(req.ID), "status").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrRequestNotFound
		}
		return fmt.Errorf("admission: requeue check status: %w", err)
	}
	// A best-effort cancel may have landed while the request was
	// in flight; it must not be resurrected.
	if Status(status) == StatusCancelled {
		return nil
	}

	score := Score(req.Role, req.Priority, req.QueuedAt)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.requestKey(req.ID),
		"status", string(StatusQueued),
		"retry_count", strconv.Itoa(req.RetryCount),
		"error", "",
	)
	pipe.SAdd(ctx, s.tenantsKey(), req.TenantID)
	pipe.ZAdd(ctx, s.queueKey(req.TenantID), redis.Z{Score: score, Member: req.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("admission: requeue: %w", err)
	}
	return nil
}

// Cancel implements Store. ZREM is the atomic decision point: if it
// removes the member, no worker can dequeue the request afterward.
func (s *RedisStore) Cancel(ctx context.Context, id string) (bool, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	removed, err := s.client.ZRem(ctx, s.queueKey(rec.TenantID), id).Result()
	if err != nil {
		return false, fmt.Errorf("admission: cancel zrem: %w", err)
	}
	if removed == 0 {
		// Best-effort for in-flight requests: mark cancelled so the
		// worker's eventual result is discarded, but report false since
		// the external call may still run to completion.
		if rec.Status == StatusProcessing {
			if err := s.markCancelled(ctx, id); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if err := s.markCancelled(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) markCancelled(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.requestKey(id), "status", string(StatusCancelled))
	pipe.Expire(ctx, s.requestKey(id), s.resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("admission: cancel mark: %w", err)
	}
	return nil
}

// Position implements Store. It reads the live status field first rather
// than inferring from sorted-set membership, so a request popped by a
// concurrent worker reports processing instead of a stale rank.
func (s *RedisStore) Position(ctx context.Context, tenantID, id string) (PositionInfo, error) {
	status, err := s.client.HGet(ctx, s.requestKey(id), "status").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PositionInfo{}, ErrRequestNotFound
		}
		return PositionInfo{}, fmt.Errorf("admission: position status: %w", err)
	}

	length, err := s.client.ZCard(ctx, s.queueKey(tenantID)).Result()
	if err != nil {
		return PositionInfo{}, fmt.Errorf("admission: position zcard: %w", err)
	}

	info := PositionInfo{Status: Status(status), QueueLength: int(length)}
	if info.Status != StatusQueued {
		return info, nil
	}

	rank, err := s.client.ZRank(ctx, s.queueKey(tenantID), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Dequeued between the two reads; the status field wins.
			return info, nil
		}
		return PositionInfo{}, fmt.Errorf("admission: position zrank: %w", err)
	}
	info.Position = int(rank) + 1
	return info, nil
}

// QueueLength implements Store.
func (s *RedisStore) QueueLength(ctx context.Context, tenantID string) (int, error) {
	length, err := s.client.ZCard(ctx, s.queueKey(tenantID)).Result()
	if err != nil {
		return 0, fmt.Errorf("admission: queue length: %w", err)
	}
	return int(length), nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Request, error) {
	fields, err := s.client.HGetAll(ctx, s.requestKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("admission: get request: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrRequestNotFound
	}
	rec, err := recordFromFields(fields)
	if err != nil {
		return nil, fmt.Errorf("admission: decode request %s: %w", id, err)
	}
	return rec, nil
}

// Complete implements Store. Results for requests cancelled while in
// flight are discarded.
func (s *RedisStore) Complete(ctx context.Context, id string, result json.RawMessage) error {
	if ok, err := s.inProcessing(ctx, id); err != nil || !ok {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.requestKey(id),
		"status", string(StatusCompleted),
		"result", string(result),
	)
	pipe.Expire(ctx, s.requestKey(id), s.resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("admission: complete: %w", err)
	}
	return nil
}

// Fail implements Store.
func (s *RedisStore) Fail(ctx context.Context, id string, reason string) error {
	if ok, err := s.inProcessing(ctx, id); err != nil || !ok {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.requestKey(id),
		"status", string(StatusFailed),
		"error", reason,
	)
	pipe.Expire(ctx, s.requestKey(id), s.resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("admission: fail: %w", err)
	}
	return nil
}

// inProcessing reports whether the record still owns the processing
// state, guarding terminal writes against cancelled or evicted records.
func (s *RedisStore) inProcessing(ctx context.Context, id string) (bool, error) {
	status, err := s.client.HGet(ctx, s.requestKey(id), "status").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, ErrRequestNotFound
		}
		return false, fmt.Errorf("admission: check status: %w", err)
	}
	return Status(status) == StatusProcessing, nil
}

// ActiveTenants implements Store.
func (s *RedisStore) ActiveTenants(ctx context.Context) ([]string, error) {
	tenants, err := s.client.SMembers(ctx, s.tenantsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("admission: active tenants: %w", err)
	}
	return tenants, nil
}

// recordToFields flattens a request into Redis hash fields.
func recordToFields(rec *Request) map[string]any {
	return map[string]any{
		"id":          rec.ID,
		"tenant_id":   rec.TenantID,
		"user_id":     rec.UserID,
		"role":        string(rec.Role),
		"call_type":   rec.CallType,
		"payload":     string(rec.Payload),
		"priority":    strconv.Itoa(int(rec.Priority)),
		"queued_at":   rec.QueuedAt.UTC().Format(time.RFC3339Nano),
		"retry_count": strconv.Itoa(rec.RetryCount),
		"max_retries": strconv.Itoa(rec.MaxRetries),
		"status":      string(rec.Status),
		"result":      string(rec.Result),
		"error":       rec.Error,
	}
}

// recordFromFields rebuilds a request from Redis hash fields.
func recordFromFields(fields map[string]string) (*Request, error) {
	queuedAt, err := time.Parse(time.RFC3339Nano, fields["queued_at"])
	if err != nil {
		return nil, fmt.Errorf("parse queued_at: %w", err)
	}
	priority, err := strconv.Atoi(fields["priority"])
	if err != nil {
		return nil, fmt.Errorf("parse priority: %w", err)
	}
	retryCount, err := strconv.Atoi(fields["retry_count"])
	if err != nil {
		return nil, fmt.Errorf("parse retry_count: %w", err)
	}
	maxRetries, err := strconv.Atoi(fields["max_retries"])
	if err != nil {
		return nil, fmt.Errorf("parse max_retries: %w", err)
	}

	rec := &Request{
		ID:         fields["id"],
		TenantID:   fields["tenant_id"],
		UserID:     fields["user_id"],
		Role:       Role(fields["role"]),
		CallType:   fields["call_type"],
		Priority:   Priority(priority),
		QueuedAt:   queuedAt,
		RetryCount: retryCount,
		MaxRetries: maxRetries,
		Status:     Status(fields["status"]),
		Error:      fields["error"],
	}
	if payload := fields["payload"]; payload != "" {
		rec.Payload = json.RawMessage(payload)
	}
	if result := fields["result"]; result != "" {
		rec.Result = json.RawMessage(result)
	}
	return rec, nil
}
