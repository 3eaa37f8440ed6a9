package robust

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrCancelled is returned when the caller's context is cancelled or its
// deadline expires, either before an attempt starts or while a retry
// backoff is sleeping. It is never retried.
var ErrCancelled = errors.New("robust: operation cancelled")

// ErrCircuitOpen is returned when a breaker rejects a call, either because
// it is Open and the cool-down has not elapsed, or because it is HalfOpen
// and another caller already holds the single probe slot.
var ErrCircuitOpen = errors.New("robust: circuit open")

// BreakerState is one of the three states a Breaker can be in.
type BreakerState int

const (
	// Closed lets every call through and tracks outcomes in the window.
	Closed BreakerState = iota
	// Open rejects every call until CoolDown has elapsed since opening.
	Open
	// HalfOpen lets exactly one probe call through; its outcome decides
	// whether the breaker closes again or re-opens.
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type outcome struct {
	success bool
}

// Breaker is a tri-state circuit breaker with a fixed-size sliding window
// of recent outcomes. It is safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	window           []outcome
	windowSize       int
	failureThreshold int
	coolDown         time.Duration
	openedAt         time.Time
	probe            *semaphore.Weighted
}

// NewBreaker constructs a Breaker. windowSize and failureThreshold must be
// positive; a non-positive coolDown means the breaker never re-probes
// automatically and must be reset externally.
func NewBreaker(windowSize, failureThreshold int, coolDown time.Duration) *Breaker {
	if windowSize <= 0 {
		windowSize = 100
	}
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	return &Breaker{
		windowSize:       windowSize,
		failureThreshold: failureThreshold,
		coolDown:         coolDown,
		probe:            semaphore.NewWeighted(1),
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow gates one call. It returns ErrCircuitOpen if the call should be
// rejected outright. probeHeld is true when this call acquired the
// half-open probe slot and must pass it back to Record.
func (b *Breaker) Allow() (probeHeld bool, err error) {
	b.mu.Lock()
	switch b.state {
	case Closed:
		b.mu.Unlock()
		return false, nil
	case Open:
		if b.coolDown <= 0 || time.Since(b.openedAt) < b.coolDown {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.state = HalfOpen
		b.mu.Unlock()
	case HalfOpen:
		b.mu.Unlock()
	}

	if !b.probe.TryAcquire(1) {
		return false, ErrCircuitOpen
	}
	return true, nil
}

// Record reports the outcome of one call admitted by Allow. probeHeld must
// be the value Allow returned for that call.
func (b *Breaker) Record(probeHeld bool, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probeHeld {
		b.probe.Release(1)
	}

	b.window = append(b.window, outcome{success: success})
	if len(b.window) > b.windowSize {
		b.window = b.window[len(b.window)-b.windowSize:]
	}

	if success {
		if b.state == HalfOpen {
			b.state = Closed
			b.window = b.window[:0]
		}
		return
	}

	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = time.Now()
		return
	}

	failures := 0
	for _, o := range b.window {
		if !o.success {
			failures++
		}
	}
	if failures >= b.failureThreshold {
		b.state = Open
		b.openedAt = time.Now()
	}
}

// Reset forces the breaker back to Closed with an empty window and a
// fresh probe slot.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.window = b.window[:0]
	b.probe = semaphore.NewWeighted(1)
}
