// Package metrics implements the three accounting sinks shared by the
// config validators and the robustness spine: validation outcomes,
// operation timings, and rolling connection success rates.
//
// Each sink is a mutex-guarded struct exposing a Snapshot() map[string]any
// for inspection and also satisfies prometheus.Collector, so a caller that
// already runs a process-wide prometheus.Registry can register them
// directly instead of scraping the snapshot.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultRingSize = 100

// ValidationMetrics counts successful and failed validation attempts,
// grouped by kind (e.g. "connection_config", "topic_filter").
type ValidationMetrics struct {
	mu       sync.Mutex
	ringSize int
	byKind   map[string]*validationCounter
}

type validationCounter struct {
	total      int64
	successful int64
	failed     int64
	lastErrors []string
}

// NewValidationMetrics returns an empty ValidationMetrics sink.
func NewValidationMetrics() *ValidationMetrics {
	return &ValidationMetrics{
		ringSize: defaultRingSize,
		byKind:   make(map[string]*validationCounter),
	}
}

func (m *ValidationMetrics) counter(kind string) *validationCounter {
	c, ok := m.byKind[kind]
	if !ok {
		c = &validationCounter{}
		m.byKind[kind] = c
	}
	return c
}

// RecordSuccess records one passing validation of the given kind.
func (m *ValidationMetrics) RecordSuccess(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counter(kind)
	c.total++
	c.successful++
}

// RecordFailure records one failing validation of the given kind, keeping
// the most recent error messages for diagnostics.
func (m *ValidationMetrics) RecordFailure(kind, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counter(kind)
	c.total++
	c.failed++
	c.lastErrors = append(c.lastErrors, errMsg)
	if len(c.lastErrors) > m.ringSize {
		c.lastErrors = c.lastErrors[len(c.lastErrors)-m.ringSize:]
	}
}

// SuccessRate returns successful/total for the given kind, or 1.0 if no
// validations of that kind have been recorded yet.
func (m *ValidationMetrics) SuccessRate(kind string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byKind[kind]
	if !ok || c.total == 0 {
		return 1.0
	}
	return float64(c.successful) / float64(c.total)
}

// Snapshot returns a nested map keyed by validation kind.
func (m *ValidationMetrics) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.byKind))
	for kind, c := range m.byKind {
		errs := make([]string, len(c.lastErrors))
		copy(errs, c.lastErrors)
		out[kind] = map[string]any{
			"total":      c.total,
			"successful": c.successful,
			"failed":     c.failed,
			"lastErrors": errs,
		}
	}
	return out
}

var validationDesc = prometheus.NewDesc(
	"mqfleet_validation_total", "Count of validation attempts by kind and outcome.",
	[]string{"kind", "outcome"}, nil,
)

// Describe implements prometheus.Collector.
func (m *ValidationMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- validationDesc
}

// Collect implements prometheus.Collector.
func (m *ValidationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kind, c := range m.byKind {
		ch <- prometheus.MustNewConstMetric(validationDesc, prometheus.CounterValue, float64(c.successful), kind, "success")
		ch <- prometheus.MustNewConstMetric(validationDesc, prometheus.CounterValue, float64(c.failed), kind, "failure")
	}
}

// PerformanceMetrics tracks per-operation elapsed time (count, total, min,
// max). It does not record process memory usage.
type PerformanceMetrics struct {
	mu  sync.Mutex
	ops map[string]*opStat
}

type opStat struct {
	count        int64
	totalElapsed time.Duration
	min          time.Duration
	max          time.Duration
}

// NewPerformanceMetrics returns an empty PerformanceMetrics sink.
func NewPerformanceMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{ops: make(map[string]*opStat)}
}

// Record adds one timing sample for the named operation.
func (m *PerformanceMetrics) Record(operation string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.ops[operation]
	if !ok {
		s = &opStat{min: elapsed, max: elapsed}
		m.ops[operation] = s
	}
	s.count++
	s.totalElapsed += elapsed
	if elapsed < s.min {
		s.min = elapsed
	}
	if elapsed > s.max {
		s.max = elapsed
	}
}

// AverageTime returns the mean elapsed time recorded for operation, or 0
// if nothing has been recorded yet.
func (m *PerformanceMetrics) AverageTime(operation string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.ops[operation]
	if !ok || s.count == 0 {
		return 0
	}
	return s.totalElapsed / time.Duration(s.count)
}

// Snapshot returns a nested map keyed by operation name.
func (m *PerformanceMetrics) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.ops))
	for op, s := range m.ops {
		avg := time.Duration(0)
		if s.count > 0 {
			avg = s.totalElapsed / time.Duration(s.count)
		}
		out[op] = map[string]any{
			"count":   s.count,
			"avgMs":   float64(avg) / float64(time.Millisecond),
			"minMs":   float64(s.min) / float64(time.Millisecond),
			"maxMs":   float64(s.max) / float64(time.Millisecond),
			"totalMs": float64(s.totalElapsed) / float64(time.Millisecond),
		}
	}
	return out
}

var performanceDesc = prometheus.NewDesc(
	"mqfleet_operation_duration_seconds", "Average observed duration per operation.",
	[]string{"operation"}, nil,
)

// Describe implements prometheus.Collector.
func (m *PerformanceMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- performanceDesc
}

// Collect implements prometheus.Collector.
func (m *PerformanceMetrics) Collect(ch chan<- prometheus.Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for op, s := range m.ops {
		if s.count == 0 {
			continue
		}
		avg := s.totalElapsed / time.Duration(s.count)
		ch <- prometheus.MustNewConstMetric(performanceDesc, prometheus.GaugeValue, avg.Seconds(), op)
	}
}

// ConnectionSuccessRate keeps a rolling window of success/failure outcomes
// per operation, kept separately from the circuit breaker's own window and
// exposed for observability independent of breaker state.
type ConnectionSuccessRate struct {
	mu         sync.Mutex
	windowSize int
	byOp       map[string][]bool
}

// NewConnectionSuccessRate returns a sink with the given rolling window size.
// A windowSize <= 0 defaults to 100.
func NewConnectionSuccessRate(windowSize int) *ConnectionSuccessRate {
	if windowSize <= 0 {
		windowSize = defaultRingSize
	}
	return &ConnectionSuccessRate{
		windowSize: windowSize,
		byOp:       make(map[string][]bool),
	}
}

func (m *ConnectionSuccessRate) record(operation string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := append(m.byOp[operation], success)
	if len(w) > m.windowSize {
		w = w[len(w)-m.windowSize:]
	}
	m.byOp[operation] = w
}

// RecordSuccess records one successful outcome for operation.
func (m *ConnectionSuccessRate) RecordSuccess(operation string) { m.record(operation, true) }

// RecordFailure records one failed outcome for operation.
func (m *ConnectionSuccessRate) RecordFailure(operation string) { m.record(operation, false) }

// SuccessRate returns the fraction of successes in the current window for
// operation, or 1.0 if the window is empty.
func (m *ConnectionSuccessRate) SuccessRate(operation string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.byOp[operation]
	if !ok || len(w) == 0 {
		return 1.0
	}
	successes := 0
	for _, s := range w {
		if s {
			successes++
		}
	}
	return float64(successes) / float64(len(w))
}

// OverallSuccessRate returns successes/total aggregated across every
// operation's current window, or 1.0 if nothing has been recorded yet —
// the figure the health checker compares against minHealthyRate.
func (m *ConnectionSuccessRate) OverallSuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var successes, total int
	for _, w := range m.byOp {
		total += len(w)
		for _, s := range w {
			if s {
				successes++
			}
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(successes) / float64(total)
}

// Snapshot returns a nested map keyed by operation name.
func (m *ConnectionSuccessRate) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.byOp))
	for op, w := range m.byOp {
		successes := 0
		for _, s := range w {
			if s {
				successes++
			}
		}
		rate := 1.0
		if len(w) > 0 {
			rate = float64(successes) / float64(len(w))
		}
		out[op] = map[string]any{
			"windowSize": len(w),
			"successes":  successes,
			"failures":   len(w) - successes,
			"rate":       rate,
		}
	}
	return out
}

var successRateDesc = prometheus.NewDesc(
	"mqfleet_connection_success_rate", "Fraction of successful outcomes in the current rolling window.",
	[]string{"operation"}, nil,
)

// Describe implements prometheus.Collector.
func (m *ConnectionSuccessRate) Describe(ch chan<- *prometheus.Desc) {
	ch <- successRateDesc
}

// Collect implements prometheus.Collector.
func (m *ConnectionSuccessRate) Collect(ch chan<- prometheus.Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for op, w := range m.byOp {
		if len(w) == 0 {
			continue
		}
		successes := 0
		for _, s := range w {
			if s {
				successes++
			}
		}
		ch <- prometheus.MustNewConstMetric(successRateDesc, prometheus.GaugeValue, float64(successes)/float64(len(w)), op)
	}
}

// Registry bundles the three sinks a process constructs once and shares
// across the config validators and the robustness spine.
type Registry struct {
	Validation  *ValidationMetrics
	Performance *PerformanceMetrics
	SuccessRate *ConnectionSuccessRate
}

// NewRegistry constructs a Registry with fresh sinks. windowSize sets the
// success-rate window; a value <= 0 defaults to 100, the same size as the
// breaker's default window.
func NewRegistry(windowSize int) *Registry {
	return &Registry{
		Validation:  NewValidationMetrics(),
		Performance: NewPerformanceMetrics(),
		SuccessRate: NewConnectionSuccessRate(windowSize),
	}
}

// MustRegister registers all three sinks with reg, the way a caller would
// register with a process-wide prometheus.Registry. It panics on
// duplicate registration, matching prometheus.Registry.MustRegister.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(r.Validation, r.Performance, r.SuccessRate)
}
