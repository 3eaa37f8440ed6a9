package mqfleet

import (
	"context"

	"github.com/mqfleet/core/config"
	"github.com/mqfleet/core/robust"
)

// PropsBag is an opaque, pass-through property bag. Subscribe and
// Unsubscribe key their topic argument by topic string; Subscribe (and
// MultiSubscribe) require each bag to contain at least a "qos" entry.
// Beyond that the core never interprets its contents — the connection
// factory and wire codec do.
type PropsBag = map[string]any

// Message is one decoded MQTT message delivered by Receive.
type Message struct {
	Topic      string
	Payload    []byte
	QoS        uint8
	Retained   bool
	Duplicate  bool
	Properties PropsBag
}

// Connection is the per-borrow handle the pool hands out. The external
// interface in spec.md §6 describes Connect returning a "handle" and the
// five operations taking that handle as a parameter; the idiomatic Go
// rendering of "a handle plus operations on it" is an interface with
// methods, so Connection plays the role of that handle directly rather
// than being threaded through free functions.
type Connection interface {
	Publish(ctx context.Context, topic string, payload []byte, qos uint8, dup, retain bool, props PropsBag) error
	Subscribe(ctx context.Context, topics map[string]PropsBag) error
	Unsubscribe(ctx context.Context, topics map[string]PropsBag) error
	Receive(ctx context.Context) (Message, error)
	Close(ctx context.Context) error
	IsAlive() bool
}

// ConnectionFactory is the one external dependency the core must consume
// (§6): something that can dial a live Connection from a
// config.ConnectionConfig. wireconn.Factory is the concrete
// implementation this module ships.
type ConnectionFactory interface {
	Connect(ctx context.Context, cfg config.ConnectionConfig) (Connection, error)
}

// ClassifyingFactory is an optional extension a ConnectionFactory can
// implement to supply the robust.Classifier its own connections should be
// evaluated with by default. Factory.NewClient checks for this before
// falling back to robust.DefaultClassifier, so a caller never has to
// reach for WithClassifier just to make retries work with the shipped
// wireconn.Factory: wireconn's connection-drop errors aren't recognizable
// by the generic default (robust cannot import mqfleet or wireconn
// without cycling back through this package), so the factory that knows
// its own error shapes supplies the classifier instead.
type ClassifyingFactory interface {
	DefaultClassifier() robust.Classifier
}
