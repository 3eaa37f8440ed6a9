package robust

import (
	"context"
	"runtime"
	"time"
)

// HealthSnapshot is a read-only view of the spine's accumulated state at
// one instant.
type HealthSnapshot struct {
	Uptime             time.Duration
	BreakerStates      map[string]BreakerState
	SuccessRates       map[string]float64
	OverallSuccessRate float64
	HeapAllocBytes     uint64
	Healthy            bool
}

// HealthChecker reports HealthSnapshots derived from a Spine's breakers
// and success-rate metrics plus process memory. It holds no state of its
// own beyond the spine it was built from, so Snapshot is safe to call
// concurrently and never mutates anything.
type HealthChecker struct {
	spine          *Spine
	startedAt      time.Time
	maxHeapMiB     uint64
	trackedOps     []string
	minHealthyRate float64
}

// DefaultMinHealthyRate is the overall success rate, across every tracked
// operation's rolling window, below which Snapshot reports Healthy=false.
const DefaultMinHealthyRate = 0.95

// HealthCheckerOption configures a HealthChecker at construction.
type HealthCheckerOption func(*HealthChecker)

// WithTrackedOperations restricts Snapshot's per-operation fields to the
// given operation names. Without this option, Snapshot only reports
// operations the spine has already seen at least one call for.
func WithTrackedOperations(ops ...string) HealthCheckerOption {
	return func(h *HealthChecker) { h.trackedOps = ops }
}

// WithMaxHeapMiB sets the heap size, in MiB, above which Snapshot reports
// Healthy=false. Zero (the default) disables the memory check.
func WithMaxHeapMiB(maxMiB uint64) HealthCheckerOption {
	return func(h *HealthChecker) { h.maxHeapMiB = maxMiB }
}

// WithMinHealthyRate overrides DefaultMinHealthyRate.
func WithMinHealthyRate(rate float64) HealthCheckerOption {
	return func(h *HealthChecker) { h.minHealthyRate = rate }
}

// NewHealthChecker builds a HealthChecker reporting against spine,
// starting its uptime clock at the moment of construction.
func NewHealthChecker(spine *Spine, opts ...HealthCheckerOption) *HealthChecker {
	h := &HealthChecker{spine: spine, startedAt: time.Now(), minHealthyRate: DefaultMinHealthyRate}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Snapshot returns the current health of the spine. It does not wait on
// ctx; ctx is accepted for consistency with every other operation in this
// module, and if it is already done when the snapshot is assembled,
// Healthy is reported false.
func (h *HealthChecker) Snapshot(ctx context.Context) HealthSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	h.spine.mu.RLock()
	ops := h.trackedOps
	if len(ops) == 0 {
		ops = make([]string, 0, len(h.spine.breakers))
		for op := range h.spine.breakers {
			ops = append(ops, op)
		}
	}
	h.spine.mu.RUnlock()

	breakerStates := make(map[string]BreakerState, len(ops))
	successRates := make(map[string]float64, len(ops))
	healthy := true
	for _, op := range ops {
		state := h.spine.BreakerState(op)
		breakerStates[op] = state
		if state == Open {
			healthy = false
		}
		if h.spine.registry != nil {
			rate := h.spine.registry.SuccessRate.SuccessRate(op)
			successRates[op] = rate
		}
	}

	overall := 1.0
	if h.spine.registry != nil {
		overall = h.spine.registry.SuccessRate.OverallSuccessRate()
		if overall < h.minHealthyRate {
			healthy = false
		}
	}

	heapMiB := mem.HeapAlloc / (1024 * 1024)
	if h.maxHeapMiB > 0 && heapMiB > h.maxHeapMiB {
		healthy = false
	}

	select {
	case <-ctx.Done():
		healthy = false
	default:
	}

	return HealthSnapshot{
		Uptime:             time.Since(h.startedAt),
		BreakerStates:      breakerStates,
		SuccessRates:       successRates,
		OverallSuccessRate: overall,
		HeapAllocBytes:     mem.HeapAlloc,
		Healthy:            healthy,
	}
}
