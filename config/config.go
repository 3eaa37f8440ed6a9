// Package config validates the three configuration records the rest of
// this module accepts from callers — connection, topic, and pool config —
// aggregating every violation into one composite error rather than
// failing on the first, and recording each attempt to an injected
// metrics.ValidationMetrics sink.
package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/mqfleet/core/metrics"
	"github.com/mqfleet/core/topic"
)

// ErrInvalidConfig is the sentinel every CompositeError wraps.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// CompositeError aggregates every invariant violation found in a single
// validation pass.
type CompositeError struct {
	Kind       string
	Violations []string
}

func (e *CompositeError) Error() string {
	return fmt.Sprintf("config: %s invalid: %s", e.Kind, strings.Join(e.Violations, "; "))
}

// Unwrap lets errors.Is(err, ErrInvalidConfig) succeed against a
// *CompositeError.
func (e *CompositeError) Unwrap() error { return ErrInvalidConfig }

func compositeOrNil(kind string, violations []string) error {
	if len(violations) == 0 {
		return nil
	}
	return &CompositeError{Kind: kind, Violations: violations}
}

// ConnectionConfig is the host/port/credentials record §3 describes.
type ConnectionConfig struct {
	Host      string
	Port      int
	ClientID  string
	KeepAlive int
	// Options carries opaque protocol-level settings (username,
	// password, max_attempts, ...) the codec interprets.
	Options map[string]any
}

var hostnameRE = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func isValidHost(host string) bool {
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	return hostnameRE.MatchString(host)
}

// ValidateConnectionConfig enforces every ConnectionConfig invariant in
// one pass and records the attempt to sink under kind "connection_config".
func ValidateConnectionConfig(c *ConnectionConfig, sink *metrics.ValidationMetrics) error {
	var violations []string

	if strings.TrimSpace(c.Host) == "" {
		violations = append(violations, "host must not be empty")
	} else if !isValidHost(c.Host) {
		violations = append(violations, fmt.Sprintf("host %q is not a valid hostname or IP address", c.Host))
	}

	if c.Port < 1 || c.Port > 65535 {
		violations = append(violations, fmt.Sprintf("port %d is outside [1,65535]", c.Port))
	}

	if len(c.ClientID) > 23 {
		violations = append(violations, fmt.Sprintf("client_id length %d exceeds maximum 23", len(c.ClientID)))
	}

	if c.KeepAlive < 0 || c.KeepAlive > 65535 {
		violations = append(violations, fmt.Sprintf("keep_alive %d is outside [0,65535]", c.KeepAlive))
	}

	err := compositeOrNil("connection_config", violations)
	recordOutcome(sink, "connection_config", err)
	return err
}

// TopicConfig mirrors topic.Config's fields for validation before a
// topic.Config is constructed from raw caller input (e.g. from a
// deserialized configuration file, where topic.NewConfig's functional
// options are not convenient).
type TopicConfig struct {
	Topic            string
	QoS              uint8
	EnableShareTopic bool
	EnableQueueTopic bool
	EnableMultiSub   bool
	MultiSubNum      int
	RetainHandling   uint8
}

// ValidateTopicConfig enforces every topic.Config invariant and records
// the attempt under kind "topic_config".
func ValidateTopicConfig(c *TopicConfig, sink *metrics.ValidationMetrics) error {
	var violations []string

	if c.QoS > 2 {
		violations = append(violations, fmt.Sprintf("qos %d is not one of {0,1,2}", c.QoS))
	}
	if c.RetainHandling > 2 {
		violations = append(violations, fmt.Sprintf("retainHandling %d is not one of {0,1,2}", c.RetainHandling))
	}
	if c.EnableMultiSub && c.MultiSubNum < 1 {
		violations = append(violations, "multiSubNum must be >= 1 when enableMultiSub is set")
	}
	sanitized := topic.Sanitize(c.Topic)
	if len(sanitized) > topic.MaxTopicLength {
		violations = append(violations, fmt.Sprintf("topic length %d exceeds maximum %d", len(sanitized), topic.MaxTopicLength))
	}
	if valid, msg := topic.ValidateFilter(sanitized); !valid {
		violations = append(violations, msg)
	}

	err := compositeOrNil("topic_config", violations)
	recordOutcome(sink, "topic_config", err)
	return err
}

// ValidateTopicFilter wraps topic.Validate, recording the attempt under
// kind "topic_filter" — the kind Scenario 5 in the spec's test notes
// checks for after ParseTopic sanitizes a malicious topic string.
func ValidateTopicFilter(filter string, sink *metrics.ValidationMetrics) error {
	result := topic.Validate(filter)
	var err error
	if !result.Valid {
		err = &CompositeError{Kind: "topic_filter", Violations: []string{result.Error}}
	}
	recordOutcome(sink, "topic_filter", err)
	return err
}

// PoolConfig is the bounded connection pool's sizing and timeout record.
type PoolConfig struct {
	MinConnections int
	MaxConnections int
	MaxIdleTime    time.Duration
	WaitTimeout    time.Duration
}

// ValidatePoolConfig enforces every PoolConfig invariant and records the
// attempt under kind "pool_config".
func ValidatePoolConfig(c *PoolConfig, sink *metrics.ValidationMetrics) error {
	var violations []string

	if c.MinConnections < 0 {
		violations = append(violations, fmt.Sprintf("minConnections %d must be >= 0", c.MinConnections))
	}
	if c.MaxConnections < 1 {
		violations = append(violations, fmt.Sprintf("maxConnections %d must be >= 1", c.MaxConnections))
	}
	if c.MaxConnections < c.MinConnections {
		violations = append(violations, fmt.Sprintf("maxConnections %d must be >= minConnections %d", c.MaxConnections, c.MinConnections))
	}
	if c.MaxIdleTime < 0 {
		violations = append(violations, "maxIdleTime must be >= 0")
	}
	if c.WaitTimeout < 0 {
		violations = append(violations, "waitTimeout must be >= 0")
	}

	err := compositeOrNil("pool_config", violations)
	recordOutcome(sink, "pool_config", err)
	return err
}

func recordOutcome(sink *metrics.ValidationMetrics, kind string, err error) {
	if sink == nil {
		return
	}
	if err != nil {
		sink.RecordFailure(kind, err.Error())
		return
	}
	sink.RecordSuccess(kind)
}
