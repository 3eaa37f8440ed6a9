// Package topic implements the bidirectional translation between opaque
// MQTT wire topic strings (including the $share/<group>/... and
// $queue/... prefix conventions) and a structured Config record, plus
// wildcard validation and matching.
//
// Every exported function here is pure: no shared state, no locking, no
// I/O. Callers that need validation attempts recorded to a metrics sink
// do that one layer up, in package config.
package topic

import (
	"errors"
	"fmt"
	"strings"
)

// MaxTopicLength is the maximum length, in bytes, of a sanitized topic or
// filter string.
const MaxTopicLength = 65535

const (
	shareTopicPrefix = "$share/"
	queueTopicPrefix = "$queue/"

	// DefaultShareGroup is used by GenerateShareTopic when the caller does
	// not name a group explicitly.
	DefaultShareGroup = "default"
)

// ErrInvalidConfig is the sentinel every invariant violation in this
// package wraps. Callers should use errors.Is against this value rather
// than matching on message text.
var ErrInvalidConfig = errors.New("topic: invalid configuration")

// Config is a structured description of one logical subscription or
// publication slot, the record form that ParseTopic produces from the wire
// strings GenerateShareTopic/GenerateQueueTopic build.
type Config struct {
	Topic string
	QoS   uint8

	EnableShareTopic bool
	// ShareTopic is always of the shape {"group_name": [group]} when
	// EnableShareTopic is true — a one-element list under a fixed key,
	// preserved for wire compatibility with the convention this was
	// ported from rather than flattened to a plain string field.
	ShareTopic map[string][]string

	EnableQueueTopic bool

	EnableMultiSub bool
	MultiSubNum    int

	RetainHandling uint8
	Retain         bool
	Dup            bool

	Properties map[string]any
}

// Option configures a Config at construction time via NewConfig.
type Option func(*Config)

// WithShareTopic marks the config as a shared subscription under group.
// An empty group is replaced with DefaultShareGroup. Setting this after
// WithQueueTopic has no effect — queue takes priority (see NewConfig).
func WithShareTopic(group string) Option {
	return func(c *Config) {
		if group == "" {
			group = DefaultShareGroup
		}
		c.EnableShareTopic = true
		c.ShareTopic = map[string][]string{"group_name": {group}}
	}
}

// WithQueueTopic marks the config as a queue subscription.
func WithQueueTopic() Option {
	return func(c *Config) { c.EnableQueueTopic = true }
}

// WithMultiSub enables repeated-subscribe semantics. n < 1 is coerced to
// 1 rather than rejected, matching MultiSubscribe's own boundary rule.
func WithMultiSub(n int) Option {
	return func(c *Config) {
		if n < 1 {
			n = 1
		}
		c.EnableMultiSub = true
		c.MultiSubNum = n
	}
}

// WithRetainHandling sets the MQTT 5 RETAIN HANDLING option (0, 1, or 2).
func WithRetainHandling(v uint8) Option {
	return func(c *Config) { c.RetainHandling = v }
}

// WithRetain sets the retain flag.
func WithRetain(retain bool) Option {
	return func(c *Config) { c.Retain = retain }
}

// WithDup sets the duplicate-delivery flag.
func WithDup(dup bool) Option {
	return func(c *Config) { c.Dup = dup }
}

// WithProperties attaches opaque pass-through properties.
func WithProperties(props map[string]any) Option {
	return func(c *Config) { c.Properties = props }
}

// NewConfig constructs a Config, sanitizing topic and enforcing every
// invariant in §3 in one pass. Queue takes priority over share when both
// are requested: the mutual-exclusivity rule documented on WithShareTopic.
func NewConfig(rawTopic string, qos uint8, opts ...Option) (*Config, error) {
	c := &Config{Topic: Sanitize(rawTopic), QoS: qos}
	for _, opt := range opts {
		opt(c)
	}
	if c.EnableQueueTopic && c.EnableShareTopic {
		c.EnableShareTopic = false
		c.ShareTopic = nil
	}

	var violations []string
	if qos > 2 {
		violations = append(violations, fmt.Sprintf("qos %d is not one of {0,1,2}", qos))
	}
	if c.RetainHandling > 2 {
		violations = append(violations, fmt.Sprintf("retainHandling %d is not one of {0,1,2}", c.RetainHandling))
	}
	if c.EnableMultiSub && c.MultiSubNum < 1 {
		violations = append(violations, "multiSubNum must be >= 1 when enableMultiSub is set")
	}
	if len(c.Topic) > MaxTopicLength {
		violations = append(violations, fmt.Sprintf("topic length %d exceeds maximum %d", len(c.Topic), MaxTopicLength))
	}
	if valid, msg := ValidateFilter(c.Topic); !valid {
		violations = append(violations, msg)
	}

	if len(violations) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(violations, "; "))
	}
	return c, nil
}

// GenerateShareTopic builds the wire-level shared-subscription string
// "$share/<group>/<topic>". An empty group defaults to DefaultShareGroup.
func GenerateShareTopic(topic, group string) (string, error) {
	if group == "" {
		group = DefaultShareGroup
	}
	if valid, msg := ValidateFilter(topic); !valid {
		return "", fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
	}
	return shareTopicPrefix + group + "/" + topic, nil
}

// GenerateQueueTopic builds the wire-level queue-subscription string
// "$queue/<topic>".
func GenerateQueueTopic(topic string) (string, error) {
	if valid, msg := ValidateFilter(topic); !valid {
		return "", fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
	}
	return queueTopicPrefix + topic, nil
}

// GenerateTopicArray produces the {topic: props} mapping the Subscribe
// and Unsubscribe facade operations expect. props must already contain a
// "qos" key.
func GenerateTopicArray(topic string, props map[string]any) (map[string]map[string]any, error) {
	if _, ok := props["qos"]; !ok {
		return nil, fmt.Errorf("%w: props must contain \"qos\"", ErrInvalidConfig)
	}
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	return map[string]map[string]any{topic: cp}, nil
}

// ParseTopic is the inverse of GenerateShareTopic/GenerateQueueTopic: it
// sanitizes wireTopic, strips a $queue/ or $share/<group>/ prefix by
// exact match (not substring containment — see the note below), and
// returns the structured Config.
//
// The convention this was ported from matched "$share"/"$queue" by
// substring containment anywhere in the topic, so a topic like
// "sensors/$queue/x" was silently misinterpreted as a queue topic. This
// implementation requires the prefix to start at byte 0, which is the
// behavioral fix: "sensors/$queue/x" is now a bare topic, not a queue
// topic.
func ParseTopic(wireTopic string, qos uint8, props ...map[string]any) (*Config, error) {
	sanitized := Sanitize(wireTopic)

	merged := map[string]any{}
	for _, p := range props {
		for k, v := range p {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		merged = nil
	}

	c := &Config{QoS: qos, Properties: merged}

	switch {
	case strings.HasPrefix(sanitized, queueTopicPrefix):
		c.EnableQueueTopic = true
		c.Topic = strings.TrimPrefix(sanitized, queueTopicPrefix)
	case strings.HasPrefix(sanitized, shareTopicPrefix):
		rest := strings.TrimPrefix(sanitized, shareTopicPrefix)
		group, bare, found := strings.Cut(rest, "/")
		if !found {
			group, bare = rest, ""
		}
		group = strings.TrimPrefix(group, "$")
		c.EnableShareTopic = true
		c.ShareTopic = map[string][]string{"group_name": {group}}
		c.Topic = bare
	default:
		c.Topic = sanitized
	}

	var violations []string
	if qos > 2 {
		violations = append(violations, fmt.Sprintf("qos %d is not one of {0,1,2}", qos))
	}
	if len(c.Topic) > MaxTopicLength {
		violations = append(violations, fmt.Sprintf("topic length %d exceeds maximum %d", len(c.Topic), MaxTopicLength))
	}
	if valid, msg := ValidateFilter(c.Topic); !valid {
		violations = append(violations, msg)
	}
	if len(violations) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(violations, "; "))
	}
	return c, nil
}

// ValidationResult is the outcome Validate reports for one filter string.
type ValidationResult struct {
	Valid bool
	Error string
}

// Validate reports whether filter is a syntactically legal MQTT topic
// filter (a bare topic is always a valid filter).
func Validate(filter string) ValidationResult {
	if valid, msg := ValidateFilter(filter); !valid {
		return ValidationResult{Valid: false, Error: msg}
	}
	return ValidationResult{Valid: true}
}

// ValidateFilter is the lower-level check Validate, NewConfig and
// ParseTopic all share: '#' legal only as the sole, final level; '+'
// legal only alone in its level; empty intermediate levels are illegal.
func ValidateFilter(filter string) (bool, string) {
	parts := strings.Split(filter, "/")
	for i, part := range parts {
		if strings.Contains(part, "#") {
			if part != "#" {
				return false, fmt.Sprintf("multi-level wildcard '#' must occupy its entire level (level %d: %q)", i, part)
			}
			if i != len(parts)-1 {
				return false, fmt.Sprintf("multi-level wildcard '#' must be the last level (found at level %d of %d)", i, len(parts))
			}
			continue
		}
		if strings.Contains(part, "+") && part != "+" {
			return false, fmt.Sprintf("single-level wildcard '+' must occupy its entire level (level %d: %q)", i, part)
		}
		if part == "" && i != 0 && i != len(parts)-1 {
			return false, fmt.Sprintf("empty topic level is not allowed (level %d)", i)
		}
	}
	return true, ""
}

// Matches reports whether topic (a concrete topic name, no wildcards) is
// matched by pattern (a filter, which may contain + and #). A pattern
// ending in "/#" matches both the parent level and its descendants;
// standalone "#" matches everything. Per MQTT-4.7.2-1, a pattern starting
// with a wildcard never matches a topic starting with '$'.
func Matches(pattern, topic string) bool {
	if len(topic) > 0 && topic[0] == '$' {
		if len(pattern) > 0 && (pattern[0] == '+' || pattern[0] == '#') {
			return false
		}
	}

	fIdx, tIdx := 0, 0
	fLen, tLen := len(pattern), len(topic)

	for fIdx <= fLen {
		var fLevel string
		var fNext int
		if idx := strings.IndexByte(pattern[fIdx:], '/'); idx >= 0 {
			fNext = fIdx + idx
			fLevel = pattern[fIdx:fNext]
		} else {
			fNext = fLen
			fLevel = pattern[fIdx:]
		}

		if fLevel == "#" {
			return true
		}
		if tIdx > tLen {
			return false
		}

		var tLevel string
		var tNext int
		if idx := strings.IndexByte(topic[tIdx:], '/'); idx >= 0 {
			tNext = tIdx + idx
			tLevel = topic[tIdx:tNext]
		} else {
			tNext = tLen
			tLevel = topic[tIdx:]
		}

		if fLevel != "+" && fLevel != tLevel {
			return false
		}

		if fNext == fLen {
			fIdx = fLen + 1
		} else {
			fIdx = fNext + 1
		}
		if tNext == tLen {
			tIdx = tLen + 1
		} else {
			tIdx = tNext + 1
		}
	}

	return tIdx > tLen
}
