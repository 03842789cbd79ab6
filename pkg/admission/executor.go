package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Executor is the external rate-limited API collaborator. The scheduler
// depends only on its three-way failure taxonomy: rate-limited and
// timed-out calls are retried with backoff, anything else is terminal.
type Executor interface {
	// Execute performs the external call for the given payload. The
	// payload is opaque to the scheduler; callType is the routing
	// discriminator chosen by the submitter.
	Execute(ctx context.Context, callType string, payload json.RawMessage) (json.RawMessage, error)
}

// ErrExecuteTimeout signals that the external call exceeded its deadline.
// Timeouts are treated identically to rate-limit errors for retry purposes.
var ErrExecuteTimeout = errors.New("external call timed out")

// RateLimitedError signals that the external API rejected the call due to
// quota exhaustion. RetryAfter, when provided by the API, overrides the
// computed backoff delay if it is longer.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// Retryable reports whether the execution error consumes a retry slot
// instead of terminating the request.
func Retryable(err error) bool {
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return true
	}
	return errors.Is(err, ErrExecuteTimeout) || errors.Is(err, context.DeadlineExceeded)
}
