// Package wireconn adapts a compact MQTT wire codec (wire.go) into an
// mqfleet.ConnectionFactory/mqfleet.Connection pair — the one concrete,
// non-core collaborator the rest of this module only ever sees through
// those two interfaces.
package wireconn

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	mqfleet "github.com/mqfleet/core"
	"github.com/mqfleet/core/config"
	"github.com/mqfleet/core/robust"
)

// DefaultProtocolVersion is the MQTT protocol level a Factory dials with
// when config.ConnectionConfig.Options carries no "protocol_version"
// override.
const DefaultProtocolVersion uint8 = 5

// DefaultDialTimeout bounds how long Connect waits for the TCP handshake
// and CONNACK before giving up, unless overridden on the Factory.
const DefaultDialTimeout = 10 * time.Second

// Factory dials live MQTT sessions over TCP, using the retained wire codec
// to perform the CONNECT/CONNACK handshake and frame every subsequent
// packet. It is the concrete mqfleet.ConnectionFactory this module ships.
type Factory struct {
	DialTimeout time.Duration
	Logger      mqfleet.Logger
}

// NewFactory constructs a Factory with DefaultDialTimeout. A nil logger
// defaults to the discard logger.
func NewFactory(logger mqfleet.Logger) *Factory {
	if logger == nil {
		logger = mqfleet.NewDiscardLogger()
	}
	return &Factory{DialTimeout: DefaultDialTimeout, Logger: logger}
}

// DefaultClassifier satisfies mqfleet.ClassifyingFactory, letting
// mqfleet.Factory.NewClient pick this package's DefaultClassifier when the
// caller hasn't supplied one via WithClassifier. Without it, the spine's
// classifier would never see the connection-drop errors this package's
// Conn actually produces and would treat every one of them as permanent.
func (f *Factory) DefaultClassifier() robust.Classifier {
	return DefaultClassifier
}

// Connect dials cfg.Host:cfg.Port, performs the CONNECT/CONNACK handshake,
// and starts the background read loop that feeds Receive and routes
// acknowledgement packets back to whichever call is waiting on them.
//
// An empty cfg.ClientID is replaced with a synthetic one derived from
// uuid.NewString() — short enough to respect the 23-byte MQTT 3.1.1 limit.
// A separate uuid.NewString() becomes the correlation id ("conn_id")
// attached to every log line this connection emits, so a borrowed
// connection's activity can be traced across Publish/Subscribe/Receive
// calls without threading an id through every call site.
func (f *Factory) Connect(ctx context.Context, cfg config.ConnectionConfig) (mqfleet.Connection, error) {
	version := protocolVersion(cfg)
	timeout := f.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "mqfleet-" + uuid.NewString()[:8]
	}
	connID := uuid.NewString()

	logger := f.Logger
	if logger == nil {
		logger = mqfleet.NewDiscardLogger()
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var d net.Dialer
	nc, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		logger.Warn("wireconn: dial failed", "conn_id", connID, "addr", addr, "error", err)
		return nil, fmt.Errorf("wireconn: dial %s: %w", addr, err)
	}

	c := &Conn{
		nc:       nc,
		id:       connID,
		version:  version,
		clientID: clientID,
		logger:   logger,
		incoming: make(chan mqfleet.Message, 64),
		pending:  make(map[uint16]chan ackResult),
		done:     make(chan struct{}),
	}
	c.alive.Store(true)

	if err := c.handshake(dialCtx, cfg, clientID); err != nil {
		nc.Close()
		logger.Warn("wireconn: handshake failed", "conn_id", connID, "addr", addr, "error", err)
		return nil, err
	}

	go c.readLoop()
	if cfg.KeepAlive > 0 {
		go c.keepaliveLoop(time.Duration(cfg.KeepAlive) * time.Second)
	}

	logger.Info("wireconn: connected", "conn_id", connID, "addr", addr, "client_id", clientID, "version", version)
	return c, nil
}

func protocolVersion(cfg config.ConnectionConfig) uint8 {
	if cfg.Options == nil {
		return DefaultProtocolVersion
	}
	switch v := cfg.Options["protocol_version"].(type) {
	case int:
		return uint8(v)
	case uint8:
		return v
	default:
		return DefaultProtocolVersion
	}
}

func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

func optBool(opts map[string]any, key string, def bool) bool {
	if opts == nil {
		return def
	}
	b, ok := opts[key].(bool)
	if !ok {
		return def
	}
	return b
}
