package admission

import (
	"math"
	"time"
)

// Default retry policy. All values are configurable via Config.
const (
	DefaultBaseBackoff = 2 * time.Second
	DefaultMaxBackoff  = 60 * time.Second
	DefaultMaxRetries  = 3
)

// Backoff computes exponential retry delays for retryable failures.
// It is stateless and safe for concurrent use.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// NewBackoff creates a backoff policy. Non-positive values fall back to
// the package defaults.
func NewBackoff(base, maxDelay time.Duration) Backoff {
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxBackoff
	}
	return Backoff{Base: base, Max: maxDelay}
}

// NextDelay returns min(Base * 2^retryCount, Max). It is non-decreasing
// in retryCount and never exceeds Max.
func (b Backoff) NextDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := time.Duration(float64(b.Base) * math.Pow(2, float64(retryCount)))
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}
