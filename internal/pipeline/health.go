package pipeline

import (
	"sync"
	"time"
)

// Status is the coarse health state of the indexing pipeline.
type Status string

const (
	StatusUnknown   Status = "UNKNOWN"
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"

	// DefaultUnhealthyThreshold is the number of consecutive subscription
	// failures before the pipeline is reported unhealthy.
	DefaultUnhealthyThreshold = 5

	// DefaultDegradedLatency marks the pipeline degraded when recent batch
	// processing exceeds it at P95.
	DefaultDegradedLatency = 5 * time.Second

	// latencyWindowSize is the number of recent batch latencies tracked.
	latencyWindowSize = 10
)

// Health tracks the pipeline's ability to keep up with the chain. The
// ingest queue records batch latencies; the subscription loop records
// stream failures and recoveries.
type Health struct {
	mu                  sync.RWMutex
	contract            string
	status              Status
	consecutiveFailures int
	lastBatchAt         *time.Time
	lastFailureAt       *time.Time
	unhealthyThreshold  int
	recentLatencies     []time.Duration
	degradedLatency     time.Duration
}

func NewHealth(contract string) *Health {
	return &Health{
		contract:           contract,
		status:             StatusUnknown,
		unhealthyThreshold: DefaultUnhealthyThreshold,
		recentLatencies:    make([]time.Duration, 0, latencyWindowSize),
		degradedLatency:    DefaultDegradedLatency,
	}
}

// RecordBatch records a processed batch and its latency, clearing any
// failure streak.
func (h *Health) RecordBatch(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.consecutiveFailures = 0
	h.lastBatchAt = &now

	if len(h.recentLatencies) >= latencyWindowSize {
		h.recentLatencies = h.recentLatencies[1:]
	}
	h.recentLatencies = append(h.recentLatencies, latency)

	if h.isLatencyDegraded() {
		h.status = StatusDegraded
	} else {
		h.status = StatusHealthy
	}
}

// RecordFailure records a subscription or stream failure. Returns true when
// this failure transitioned the pipeline to unhealthy.
func (h *Health) RecordFailure() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.consecutiveFailures++
	h.lastFailureAt = &now
	if h.consecutiveFailures >= h.unhealthyThreshold && h.status != StatusUnhealthy {
		h.status = StatusUnhealthy
		return true
	}
	return false
}

// RecordRecovery clears the failure streak after the stream reconnects.
// Returns true when the pipeline was unhealthy before this call.
func (h *Health) RecordRecovery() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasUnhealthy := h.status == StatusUnhealthy
	h.consecutiveFailures = 0
	if h.isLatencyDegraded() {
		h.status = StatusDegraded
	} else {
		h.status = StatusHealthy
	}
	return wasUnhealthy
}

// isLatencyDegraded reports whether P95 batch latency exceeds the degraded
// threshold. Must be called with mu held.
func (h *Health) isLatencyDegraded() bool {
	if len(h.recentLatencies) < 2 {
		return false
	}
	return h.percentileLatency(95) > h.degradedLatency
}

// percentileLatency computes the given percentile over the latency window.
// Must be called with mu held.
func (h *Health) percentileLatency(pct int) time.Duration {
	n := len(h.recentLatencies)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, h.recentLatencies)
	sortDurations(sorted)
	idx := (pct*n - 1) / 100
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

func sortDurations(d []time.Duration) {
	for i := 1; i < len(d); i++ {
		key := d[i]
		j := i - 1
		for j >= 0 && d[j] > key {
			d[j+1] = d[j]
			j--
		}
		d[j+1] = key
	}
}

// Snapshot returns a point-in-time view of pipeline health (JSON-safe).
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Contract:            h.contract,
		Status:              string(h.status),
		ConsecutiveFailures: h.consecutiveFailures,
		LastBatchAt:         h.lastBatchAt,
		LastFailureAt:       h.lastFailureAt,
	}
}

type HealthSnapshot struct {
	Contract            string     `json:"contract"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastBatchAt         *time.Time `json:"last_batch_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}
