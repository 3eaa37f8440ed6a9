package robust

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_ReportsOpenBreakerAsUnhealthy(t *testing.T) {
	s := NewSpine(WithBreakerConfig(BreakerConfig{WindowSize: 5, FailureThreshold: 1, CoolDown: time.Minute}))
	_, _ = WrapOperation(context.Background(), s, "op", func(ctx context.Context) (int, error) {
		return 0, errBoom
	})

	h := NewHealthChecker(s, WithTrackedOperations("op"))
	snap := h.Snapshot(context.Background())

	require.Contains(t, snap.BreakerStates, "op")
	assert.Equal(t, Open, snap.BreakerStates["op"])
	assert.False(t, snap.Healthy)
	assert.GreaterOrEqual(t, snap.Uptime, time.Duration(0))
}

func TestHealthChecker_HealthyWhenBreakersClosed(t *testing.T) {
	s := NewSpine()
	_, _ = WrapOperation(context.Background(), s, "op", func(ctx context.Context) (int, error) {
		return 1, nil
	})

	h := NewHealthChecker(s, WithTrackedOperations("op"))
	snap := h.Snapshot(context.Background())

	assert.True(t, snap.Healthy)
	assert.Equal(t, Closed, snap.BreakerStates["op"])
}
