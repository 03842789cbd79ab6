package admission

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil store is provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrExecutorNil is returned when a nil executor is provided
	ErrExecutorNil = errors.New("executor cannot be nil")

	// ErrPoolNil is returned when a nil worker pool is provided
	ErrPoolNil = errors.New("worker pool cannot be nil")

	// ErrRequestNotFound is returned when a request id is unknown or has
	// already been evicted after its result TTL
	ErrRequestNotFound = errors.New("request not found")

	// ErrRequestAlreadyExists is returned when enqueueing a duplicate id
	ErrRequestAlreadyExists = errors.New("request already exists")

	// ErrNoPendingRequests is returned by DequeueBest when the tenant's
	// queue is empty; workers treat it as a signal to wait, not a failure
	ErrNoPendingRequests = errors.New("no pending requests")

	// ErrInvalidPriority is returned when priority is outside valid range
	ErrInvalidPriority = errors.New("priority must be between 0 and 100")

	// ErrInvalidRole is returned for roles outside the known set
	ErrInvalidRole = errors.New("invalid role")

	// ErrTenantRequired is returned when the tenant id is empty
	ErrTenantRequired = errors.New("tenant id is required")

	// ErrUserRequired is returned when the user id is empty
	ErrUserRequired = errors.New("user id is required")

	// ErrPoolAlreadyStarted is returned when Start is called twice
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrPoolNotStarted is returned when Stop is called before Start
	ErrPoolNotStarted = errors.New("worker pool not started")
)
