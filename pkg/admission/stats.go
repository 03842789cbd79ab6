package admission

import (
	"sync"
	"time"
)

// durationWindowSize is the number of recent processing durations kept
// per tenant for ETA estimation.
const durationWindowSize = 20

// tenantStats tracks a tenant's rolling processing durations and
// in-flight count. Safe for concurrent use.
type tenantStats struct {
	mu           sync.Mutex
	window       []time.Duration
	processing   int
	lastActivity time.Time
}

func newTenantStats() *tenantStats {
	return &tenantStats{
		window:       make([]time.Duration, 0, durationWindowSize),
		lastActivity: time.Now(),
	}
}

// record appends a processing duration to the rolling window.
func (s *tenantStats) record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, d)
	if len(s.window) > durationWindowSize {
		s.window = s.window[1:]
	}
	s.lastActivity = time.Now()
}

// avg returns the rolling average processing duration, zero when no
// requests have completed yet.
func (s *tenantStats) avg() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.window) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.window {
		total += d
	}
	return total / time.Duration(len(s.window))
}

func (s *tenantStats) beginProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing++
	s.lastActivity = time.Now()
}

func (s *tenantStats) endProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing > 0 {
		s.processing--
	}
}

func (s *tenantStats) processingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// touch marks the tenant as recently active.
func (s *tenantStats) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

func (s *tenantStats) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
