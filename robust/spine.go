// Package robust implements the robustness spine: a per-operation circuit
// breaker, an exponential-backoff retry loop driven attempt-by-attempt so
// the breaker and metrics observe every try, and a read-only health
// checker built on top of the same accounting.
package robust

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mqfleet/core/metrics"
)

// RetryPolicy configures the backoff schedule WrapOperation drives for one
// operation name.
type RetryPolicy struct {
	// MaxRetries is the total number of attempts made for a single call
	// (not counting the ones a caller makes across separate calls).
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy mirrors the teacher's own reconnect backoff defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// BreakerConfig configures the per-operation Breaker a Spine creates
// lazily the first time it sees a new operation name.
type BreakerConfig struct {
	WindowSize       int
	FailureThreshold int
	CoolDown         time.Duration
}

// DefaultBreakerConfig matches the scenarios in the spec's test notes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{WindowSize: 100, FailureThreshold: 5, CoolDown: 30 * time.Second}
}

// Logger is the minimal structured-logging surface the spine needs;
// *slog.Logger satisfies it without an adapter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

// Spine is the gate -> retry -> backoff -> accounting pipeline shared by
// every named operation a caller wraps.
type Spine struct {
	mu            sync.RWMutex
	breakers      map[string]*Breaker
	policies      map[string]RetryPolicy
	defaultPolicy RetryPolicy
	breakerCfg    BreakerConfig
	classify      Classifier
	registry      *metrics.Registry
	logger        Logger
}

// SpineOption configures a Spine at construction.
type SpineOption func(*Spine)

// WithDefaultRetryPolicy overrides the policy used for operations that
// have not been given one via WithRetryPolicy.
func WithDefaultRetryPolicy(p RetryPolicy) SpineOption {
	return func(s *Spine) { s.defaultPolicy = p }
}

// WithRetryPolicy sets the retry policy for one specific operation name.
func WithRetryPolicy(operation string, p RetryPolicy) SpineOption {
	return func(s *Spine) { s.policies[operation] = p }
}

// WithBreakerConfig overrides the configuration used for breakers created
// on demand.
func WithBreakerConfig(cfg BreakerConfig) SpineOption {
	return func(s *Spine) { s.breakerCfg = cfg }
}

// WithClassifier overrides the default error classifier.
func WithClassifier(c Classifier) SpineOption {
	return func(s *Spine) { s.classify = c }
}

// WithMetrics attaches a metrics.Registry the spine records attempts and
// outcomes into. A nil registry (the default) disables recording.
func WithMetrics(r *metrics.Registry) SpineOption {
	return func(s *Spine) { s.registry = r }
}

// WithLogger overrides the spine's logger. A nil logger is replaced with a
// discard logger, never left nil.
func WithLogger(l Logger) SpineOption {
	return func(s *Spine) {
		if l == nil {
			l = discardLogger{}
		}
		s.logger = l
	}
}

// NewSpine constructs a Spine with sane defaults, overridable via options.
func NewSpine(opts ...SpineOption) *Spine {
	s := &Spine{
		breakers:      make(map[string]*Breaker),
		policies:      make(map[string]RetryPolicy),
		defaultPolicy: DefaultRetryPolicy(),
		breakerCfg:    DefaultBreakerConfig(),
		classify:      DefaultClassifier,
		logger:        discardLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Spine) breakerFor(operation string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[operation]
	if !ok {
		b = NewBreaker(s.breakerCfg.WindowSize, s.breakerCfg.FailureThreshold, s.breakerCfg.CoolDown)
		s.breakers[operation] = b
	}
	return b
}

func (s *Spine) policyFor(operation string) RetryPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.policies[operation]; ok {
		return p
	}
	return s.defaultPolicy
}

// BreakerState exposes the current state of the named operation's
// breaker, primarily for health reporting. A never-seen operation is
// reported Closed and no breaker is created for it.
func (s *Spine) BreakerState(operation string) BreakerState {
	s.mu.RLock()
	b, ok := s.breakers[operation]
	s.mu.RUnlock()
	if !ok {
		return Closed
	}
	return b.State()
}

// WrapOperation runs fn under the gate -> retry -> backoff -> accounting
// pipeline for the named operation. It is a free function, not a method,
// because Go methods cannot carry their own type parameters.
func WrapOperation[T any](ctx context.Context, s *Spine, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	b := s.breakerFor(operation)
	policy := s.policyFor(operation)

	probeHeld, err := b.Allow()
	if err != nil {
		s.logger.Warn("robust: circuit open, rejecting call", "operation", operation)
		return zero, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.BaseDelay
	bo.MaxInterval = policy.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	bo.Reset()

	maxRetries := policy.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			b.Record(probeHeld, false)
			return zero, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}

		start := time.Now()
		result, callErr := fn(ctx)
		elapsed := time.Since(start)

		if s.registry != nil {
			s.registry.Performance.Record(operation, elapsed)
		}

		if callErr == nil {
			if s.registry != nil {
				s.registry.SuccessRate.RecordSuccess(operation)
			}
			b.Record(probeHeld, true)
			return result, nil
		}

		lastErr = callErr
		if s.registry != nil {
			s.registry.SuccessRate.RecordFailure(operation)
		}

		// A cancelled/expired caller context always surfaces as
		// Cancelled, even if fn's own error would otherwise classify
		// as transient (e.g. a network timeout caused by the
		// deadline firing mid-call) — cancellation is never retried.
		if ctx.Err() != nil {
			b.Record(probeHeld, false)
			return zero, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}

		kind := s.classify(callErr)
		switch kind {
		case KindCircuitOpen:
			b.Record(probeHeld, false)
			return zero, callErr
		case KindPermanent:
			b.Record(probeHeld, false)
			s.logger.Info("robust: operation failed permanently", "operation", operation, "error", callErr)
			return zero, callErr
		}

		b.Record(probeHeld, false)
		probeHeld = false // only the first attempt could have held the probe

		if attempt == maxRetries {
			break
		}

		delay := bo.NextBackOff()
		s.logger.Info("robust: retrying after transient failure", "operation", operation, "attempt", attempt, "delay", delay, "error", callErr)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}

	return zero, lastErr
}
