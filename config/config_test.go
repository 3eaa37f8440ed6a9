package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqfleet/core/metrics"
)

func TestValidateConnectionConfig_AggregatesAllViolations(t *testing.T) {
	sink := metrics.NewValidationMetrics()
	cfg := &ConnectionConfig{Host: "", Port: 0, ClientID: strRepeat("x", 30), KeepAlive: -1}

	err := ValidateConnectionConfig(cfg, sink)
	require.Error(t, err)
	var ce *CompositeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "connection_config", ce.Kind)
	assert.Len(t, ce.Violations, 4)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	snap := sink.Snapshot()["connection_config"].(map[string]any)
	assert.Equal(t, int64(1), snap["failed"])
}

func TestValidateConnectionConfig_Valid(t *testing.T) {
	sink := metrics.NewValidationMetrics()
	cfg := &ConnectionConfig{Host: "broker.example.com", Port: 1883, ClientID: "worker-1", KeepAlive: 60}

	err := ValidateConnectionConfig(cfg, sink)
	require.NoError(t, err)

	snap := sink.Snapshot()["connection_config"].(map[string]any)
	assert.Equal(t, int64(1), snap["successful"])
}

func TestValidateConnectionConfig_AcceptsIPLiteral(t *testing.T) {
	cfg := &ConnectionConfig{Host: "10.0.0.5", Port: 8883}
	assert.NoError(t, ValidateConnectionConfig(cfg, nil))
}

func TestValidatePoolConfig(t *testing.T) {
	sink := metrics.NewValidationMetrics()

	err := ValidatePoolConfig(&PoolConfig{MinConnections: 5, MaxConnections: 2, WaitTimeout: -1}, sink)
	require.Error(t, err)
	var ce *CompositeError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Violations, 2)

	err = ValidatePoolConfig(&PoolConfig{MinConnections: 0, MaxConnections: 10, MaxIdleTime: time.Minute, WaitTimeout: time.Second}, sink)
	assert.NoError(t, err)
}

func TestValidateTopicConfig(t *testing.T) {
	err := ValidateTopicConfig(&TopicConfig{Topic: "a/b", QoS: 3}, nil)
	require.Error(t, err)

	err = ValidateTopicConfig(&TopicConfig{Topic: "a/+/b", QoS: 1}, nil)
	assert.NoError(t, err)
}

func TestValidateTopicFilter_RecordsKind(t *testing.T) {
	sink := metrics.NewValidationMetrics()
	err := ValidateTopicFilter("malicioustopic", sink)
	require.NoError(t, err)

	snap := sink.Snapshot()["topic_filter"].(map[string]any)
	assert.Equal(t, int64(1), snap["successful"])
}

func strRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
