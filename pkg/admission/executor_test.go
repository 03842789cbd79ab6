package admission_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/admitq/pkg/admission"
)

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, admission.Retryable(&admission.RateLimitedError{}))
	assert.True(t, admission.Retryable(&admission.RateLimitedError{RetryAfter: 5 * time.Second}))
	assert.True(t, admission.Retryable(admission.ErrExecuteTimeout))
	assert.True(t, admission.Retryable(context.DeadlineExceeded))
	assert.True(t, admission.Retryable(fmt.Errorf("call failed: %w", &admission.RateLimitedError{})))

	assert.False(t, admission.Retryable(errors.New("schema mismatch")))
	assert.False(t, admission.Retryable(context.Canceled))
	assert.False(t, admission.Retryable(nil))
}

func TestRateLimitedError_Message(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "rate limited", (&admission.RateLimitedError{}).Error())
	assert.Equal(t, "rate limited, retry after 2s",
		(&admission.RateLimitedError{RetryAfter: 2 * time.Second}).Error())
}
