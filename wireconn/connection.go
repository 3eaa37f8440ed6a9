package wireconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	mqfleet "github.com/mqfleet/core"
	"github.com/mqfleet/core/config"
)

// ackResult is what the read loop hands back to whichever call is
// blocked waiting for the acknowledgement packet matching one PacketID.
type ackResult struct {
	pkt Packet
	err error
}

// Conn is the per-borrow handle the pool hands out: one live TCP session
// speaking the wire codec in wire.go, serialized so exactly one
// write is in flight at a time (the pool's exclusive-borrow guarantee
// means exactly one goroutine calls Publish/Subscribe/Unsubscribe/Receive
// on a given Conn at a time, but the keepalive loop also writes, hence the
// mutex).
type Conn struct {
	nc       net.Conn
	id       string
	version  uint8
	clientID string
	logger   mqfleet.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint16]chan ackResult
	nextID    uint32

	incoming chan mqfleet.Message

	alive    atomic.Bool
	closeMu  sync.Mutex
	closed   bool
	done     chan struct{}
}

var _ mqfleet.Connection = (*Conn)(nil)

func (c *Conn) allocPacketID() uint16 {
	for {
		id := uint16(atomic.AddUint32(&c.nextID, 1))
		if id != 0 {
			return id
		}
	}
}

func (c *Conn) registerPending(id uint16) chan ackResult {
	ch := make(chan ackResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *Conn) resolvePending(id uint16, result ackResult) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- result
	}
}

func (c *Conn) failAllPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[uint16]chan ackResult)
	c.pendingMu.Unlock()
	for _, ch := range pending {
		ch <- ackResult{err: err}
	}
}

func (c *Conn) writePacket(pkt Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := pkt.WriteTo(c.nc)
	return err
}

// handshake sends CONNECT and blocks for CONNACK, rejecting the dial on a
// non-zero return code the same way the teacher's client.go treats a
// refused connection: as permanent, not worth retrying with the same
// credentials.
func (c *Conn) handshake(ctx context.Context, cfg config.ConnectionConfig, clientID string) error {
	username := optString(cfg.Options, "username")
	password := optString(cfg.Options, "password")
	cleanSession := optBool(cfg.Options, "clean_session", true)

	connect := &ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: c.version,
		CleanSession:  cleanSession,
		KeepAlive:     uint16(cfg.KeepAlive),
		ClientID:      clientID,
		UsernameFlag:  username != "",
		Username:      username,
		PasswordFlag:  password != "",
		Password:      password,
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetDeadline(dl)
		defer c.nc.SetDeadline(time.Time{})
	}

	if err := c.writePacket(connect); err != nil {
		return fmt.Errorf("wireconn: write CONNECT: %w", err)
	}

	pkt, err := ReadPacket(c.nc, c.version, 0)
	if err != nil {
		return fmt.Errorf("wireconn: read CONNACK: %w", err)
	}
	ack, ok := pkt.(*ConnackPacket)
	if !ok {
		return fmt.Errorf("wireconn: expected CONNACK, got packet type %d: %w", pkt.Type(), mqfleet.ErrPermanent)
	}
	if ack.ReturnCode != ConnAccepted {
		return fmt.Errorf("wireconn: broker refused connection (%s): %w", reasonCodeName(ack.ReturnCode), mqfleet.ErrPermanent)
	}
	return nil
}

func (c *Conn) keepaliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.writePacket(&PingreqPacket{}); err != nil {
				c.logger.Warn("wireconn: keepalive ping failed", "conn_id", c.id, "error", err)
				return
			}
		}
	}
}

// readLoop is the single reader for this connection: it demultiplexes
// incoming PUBLISH deliveries onto the Receive channel and routes every
// acknowledgement packet back to the pending call that is waiting on its
// PacketID. It runs until the socket errors or Close tears it down.
func (c *Conn) readLoop() {
	defer func() {
		c.alive.Store(false)
		close(c.incoming)
		c.failAllPending(fmt.Errorf("wireconn: connection closed: %w: %w", mqfleet.ErrTransient, errConnClosed))
	}()

	for {
		pkt, err := ReadPacket(c.nc, c.version, 0)
		if err != nil {
			if !c.closedByUs() {
				c.logger.Warn("wireconn: read loop terminating", "conn_id", c.id, "error", err)
			}
			return
		}

		switch p := pkt.(type) {
		case *PublishPacket:
			c.handleIncomingPublish(p)
		case *PubackPacket:
			c.resolvePending(p.PacketID, ackResult{pkt: p})
		case *PubrecPacket:
			c.resolvePending(p.PacketID, ackResult{pkt: p})
		case *PubcompPacket:
			c.resolvePending(p.PacketID, ackResult{pkt: p})
		case *SubackPacket:
			c.resolvePending(p.PacketID, ackResult{pkt: p})
		case *UnsubackPacket:
			c.resolvePending(p.PacketID, ackResult{pkt: p})
		case *PingrespPacket:
			// keepalive acknowledged; nothing to do.
		case *DisconnectPacket:
			c.logger.Info("wireconn: broker sent DISCONNECT", "conn_id", c.id, "reason", reasonCodeName(p.ReasonCode))
			return
		default:
			c.logger.Debug("wireconn: ignoring unexpected packet", "conn_id", c.id, "type", pkt.Type())
		}
	}
}

func (c *Conn) closedByUs() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

func (c *Conn) handleIncomingPublish(p *PublishPacket) {
	msg := mqfleet.Message{
		Topic:      p.Topic,
		Payload:    p.Payload,
		QoS:        p.QoS,
		Retained:   p.Retain,
		Duplicate:  p.Dup,
		Properties: propertiesFromWire(p.Properties).toPropsBag(),
	}

	switch p.QoS {
	case QoS1:
		_ = c.writePacket(&PubackPacket{PacketID: p.PacketID, Version: c.version})
	case QoS2:
		_ = c.writePacket(&PubrecPacket{PacketID: p.PacketID, Version: c.version})
	}

	select {
	case c.incoming <- msg:
	default:
		c.logger.Warn("wireconn: incoming buffer full, dropping message", "conn_id", c.id, "topic", p.Topic)
	}
}

func qosFromProps(props mqfleet.PropsBag) (uint8, error) {
	raw, ok := props["qos"]
	if !ok {
		return 0, fmt.Errorf("wireconn: props must contain \"qos\": %w", mqfleet.ErrInvalidConfig)
	}
	switch v := raw.(type) {
	case uint8:
		return v, nil
	case int:
		return uint8(v), nil
	case float64:
		return uint8(v), nil
	default:
		return 0, fmt.Errorf("wireconn: qos has unsupported type %T: %w", raw, mqfleet.ErrInvalidConfig)
	}
}

// Publish sends one PUBLISH, running the PUBACK (QoS 1) or
// PUBREC/PUBREL/PUBCOMP (QoS 2) handshake to completion before returning.
func (c *Conn) Publish(ctx context.Context, topic string, payload []byte, qos uint8, dup, retain bool, props mqfleet.PropsBag) error {
	pkt := &PublishPacket{
		Dup:     dup,
		QoS:     qos,
		Retain:  retain,
		Topic:   topic,
		Payload: payload,
		Version: c.version,
	}

	var waiter chan ackResult
	if qos > 0 {
		pkt.PacketID = c.allocPacketID()
		waiter = c.registerPending(pkt.PacketID)
	}

	if err := c.writePacket(pkt); err != nil {
		return fmt.Errorf("wireconn: publish write: %w", err)
	}
	if qos == 0 {
		return nil
	}

	first, err := c.awaitAck(ctx, waiter)
	if err != nil {
		return err
	}
	if qos == QoS1 {
		ack, ok := first.(*PubackPacket)
		if !ok {
			return fmt.Errorf("wireconn: expected PUBACK, got %T: %w", first, mqfleet.ErrPermanent)
		}
		if ack.ReasonCode >= 0x80 {
			return fmt.Errorf("wireconn: broker rejected publish (%s): %w", reasonCodeName(ack.ReasonCode), mqfleet.ErrPermanent)
		}
		return nil
	}

	// QoS 2: first was PUBREC, now send PUBREL and await PUBCOMP.
	rec, ok := first.(*PubrecPacket)
	if !ok {
		return fmt.Errorf("wireconn: expected PUBREC, got %T: %w", first, mqfleet.ErrPermanent)
	}
	if rec.ReasonCode >= 0x80 {
		return fmt.Errorf("wireconn: broker rejected publish (%s): %w", reasonCodeName(rec.ReasonCode), mqfleet.ErrPermanent)
	}
	rel := &PubrelPacket{PacketID: pkt.PacketID, Version: c.version}
	waiter = c.registerPending(pkt.PacketID)
	if err := c.writePacket(rel); err != nil {
		return fmt.Errorf("wireconn: pubrel write: %w", err)
	}
	second, err := c.awaitAck(ctx, waiter)
	if err != nil {
		return err
	}
	comp, ok := second.(*PubcompPacket)
	if !ok {
		return fmt.Errorf("wireconn: expected PUBCOMP, got %T: %w", second, mqfleet.ErrPermanent)
	}
	if comp.ReasonCode >= 0x80 {
		return fmt.Errorf("wireconn: broker rejected publish (%s): %w", reasonCodeName(comp.ReasonCode), mqfleet.ErrPermanent)
	}
	return nil
}

func (c *Conn) awaitAck(ctx context.Context, waiter chan ackResult) (Packet, error) {
	select {
	case result := <-waiter:
		if result.err != nil {
			return nil, result.err
		}
		return result.pkt, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wireconn: %w", ctx.Err())
	}
}

// Subscribe issues one SUBSCRIBE covering every entry in topics and waits
// for the matching SUBACK, surfacing ErrPermanent if the broker refused
// any filter (return code 0x80).
func (c *Conn) Subscribe(ctx context.Context, topics map[string]mqfleet.PropsBag) error {
	sub := &SubscribePacket{PacketID: c.allocPacketID(), Version: c.version}
	for topic, props := range topics {
		qos, err := qosFromProps(props)
		if err != nil {
			return err
		}
		sub.Topics = append(sub.Topics, topic)
		sub.QoS = append(sub.QoS, qos)
	}

	waiter := c.registerPending(sub.PacketID)
	if err := c.writePacket(sub); err != nil {
		return fmt.Errorf("wireconn: subscribe write: %w", err)
	}

	pkt, err := c.awaitAck(ctx, waiter)
	if err != nil {
		return err
	}
	ack, ok := pkt.(*SubackPacket)
	if !ok {
		return fmt.Errorf("wireconn: expected SUBACK, got %T: %w", pkt, mqfleet.ErrPermanent)
	}
	for _, code := range ack.ReturnCodes {
		if code >= 0x80 {
			return fmt.Errorf("wireconn: broker refused a subscription (%s): %w", reasonCodeName(code), mqfleet.ErrPermanent)
		}
	}
	return nil
}

// Unsubscribe issues one UNSUBSCRIBE covering every entry in topics and
// waits for the matching UNSUBACK.
func (c *Conn) Unsubscribe(ctx context.Context, topics map[string]mqfleet.PropsBag) error {
	unsub := &UnsubscribePacket{PacketID: c.allocPacketID(), Version: c.version}
	for topic := range topics {
		unsub.Topics = append(unsub.Topics, topic)
	}

	waiter := c.registerPending(unsub.PacketID)
	if err := c.writePacket(unsub); err != nil {
		return fmt.Errorf("wireconn: unsubscribe write: %w", err)
	}

	pkt, err := c.awaitAck(ctx, waiter)
	if err != nil {
		return err
	}
	if _, ok := pkt.(*UnsubackPacket); !ok {
		return fmt.Errorf("wireconn: expected UNSUBACK, got %T: %w", pkt, mqfleet.ErrPermanent)
	}
	return nil
}

// Receive blocks until one message has been demultiplexed by the read
// loop or ctx is cancelled.
func (c *Conn) Receive(ctx context.Context) (mqfleet.Message, error) {
	select {
	case msg, ok := <-c.incoming:
		if !ok {
			return mqfleet.Message{}, fmt.Errorf("wireconn: connection closed: %w: %w", mqfleet.ErrTransient, errConnClosed)
		}
		return msg, nil
	case <-ctx.Done():
		return mqfleet.Message{}, fmt.Errorf("wireconn: %w", ctx.Err())
	}
}

// Close sends DISCONNECT best-effort and tears down the socket. It is
// idempotent.
func (c *Conn) Close(ctx context.Context) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	close(c.done)
	c.alive.Store(false)
	_ = c.writePacket(&DisconnectPacket{Version: c.version})
	return c.nc.Close()
}

// IsAlive reports whether the read loop is still running and Close has
// not been called.
func (c *Conn) IsAlive() bool {
	return c.alive.Load()
}
