package robust

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqfleet/core/metrics"
)

var errBoom = errors.New("boom")

func TestWrapOperation_SucceedsWithoutRetry(t *testing.T) {
	s := NewSpine(WithDefaultRetryPolicy(RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))

	calls := 0
	result, err := WrapOperation(context.Background(), s, "op", func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestWrapOperation_RetriesTransientThenSucceeds(t *testing.T) {
	s := NewSpine(
		WithDefaultRetryPolicy(RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}),
		WithClassifier(func(err error) FailureKind { return KindTransient }),
	)

	calls := 0
	result, err := WrapOperation(context.Background(), s, "op", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errBoom
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestWrapOperation_PermanentFailureSurfacesImmediately(t *testing.T) {
	s := NewSpine(WithClassifier(func(err error) FailureKind { return KindPermanent }))

	calls := 0
	_, err := WrapOperation(context.Background(), s, "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestWrapOperation_OpensBreakerAfterRepeatedFailedCalls(t *testing.T) {
	reg := metrics.NewRegistry(10)
	s := NewSpine(
		WithDefaultRetryPolicy(RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		WithBreakerConfig(BreakerConfig{WindowSize: 10, FailureThreshold: 3, CoolDown: 30 * time.Millisecond}),
		WithClassifier(func(err error) FailureKind { return KindTransient }),
		WithMetrics(reg),
	)

	for i := 0; i < 3; i++ {
		_, err := WrapOperation(context.Background(), s, "x", func(ctx context.Context) (int, error) {
			return 0, errBoom
		})
		assert.ErrorIs(t, err, errBoom)
	}

	_, err := WrapOperation(context.Background(), s, "x", func(ctx context.Context) (int, error) {
		t.Fatal("fn must not be called while circuit is open")
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(40 * time.Millisecond)

	calls := 0
	result, err := WrapOperation(context.Background(), s, "x", func(ctx context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Closed, s.BreakerState("x"))
}

func TestWrapOperation_ContextCancelledDuringBackoffStopsRetrying(t *testing.T) {
	s := NewSpine(
		WithDefaultRetryPolicy(RetryPolicy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 50 * time.Millisecond}),
		WithClassifier(func(err error) FailureKind { return KindTransient }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := WrapOperation(ctx, s, "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, errBoom
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls, 5)
}
