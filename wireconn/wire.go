package wireconn

// This file is a compact, hand-written MQTT wire encoder/decoder covering
// only the packet types and fields wireconn.Conn actually drives: CONNECT/
// CONNACK, PUBLISH/PUBACK/PUBREC/PUBREL/PUBCOMP, SUBSCRIBE/SUBACK,
// UNSUBSCRIBE/UNSUBACK, PINGREQ/PINGRESP, DISCONNECT, plus the handful of
// MQTT 5 properties convert.go surfaces on a delivered message. It is the
// minimal, adapted stand-in for a full protocol library — the wire codec
// is explicitly out of this module's core scope (spec.md §1); see
// DESIGN.md for why it was shrunk down from a full packet-per-file layout
// rather than kept at teacher scale.
//
// Property identifiers and fixed-header layout follow the MQTT v5.0
// specification; version 4 (v3.1.1) connections use the same framing with
// an implicit empty properties section, which every MQTT 5 broker also
// accepts, so one code path serves both without a parallel v3.1.1 decoder.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	pktConnect     = 1
	pktConnack     = 2
	pktPublish     = 3
	pktPuback      = 4
	pktPubrec      = 5
	pktPubrel      = 6
	pktPubcomp     = 7
	pktSubscribe   = 8
	pktSuback      = 9
	pktUnsubscribe = 10
	pktUnsuback    = 11
	pktPingreq     = 12
	pktPingresp    = 13
	pktDisconnect  = 14
)

// QoS level constants, used both on the wire and as Conn.Publish's qos
// argument.
const (
	QoS0 uint8 = 0
	QoS1 uint8 = 1
	QoS2 uint8 = 2
)

// ConnAccepted is the CONNACK return code meaning the broker accepted the
// connection.
const ConnAccepted uint8 = 0

var errMalformedPacket = errors.New("wireconn: malformed packet")

// Packet is any frame this package can write to the wire. It matches
// io.WriterTo so a Conn can hand one straight to its write path.
type Packet interface {
	Type() byte
	WriteTo(w io.Writer) (int64, error)
}

// --- fixed header & variable-byte integer -----------------------------

func writeFixedHeader(w io.Writer, ptype byte, flags byte, remainingLen int) (int64, error) {
	var hdr []byte
	hdr = append(hdr, (ptype<<4)|flags)
	hdr = append(hdr, encodeVarInt(remainingLen)...)
	n, err := w.Write(hdr)
	return int64(n), err
}

func encodeVarInt(v int) []byte {
	var out []byte
	for {
		b := byte(v % 128)
		v /= 128
		if v > 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func readVarIntFrom(r io.Reader) (int, error) {
	value := 0
	mult := 1
	for i := 0; i < 4; i++ {
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		value += int(b[0]&0x7F) * mult
		if b[0]&0x80 == 0 {
			return value, nil
		}
		mult *= 128
	}
	return 0, fmt.Errorf("%w: variable-length integer too long", errMalformedPacket)
}

// cursor decodes fields out of one packet's already-buffered remaining-
// length body.
type cursor struct {
	b []byte
	i int
}

func (c *cursor) u8() (uint8, error) {
	if c.i >= len(c.b) {
		return 0, io.ErrUnexpectedEOF
	}
	v := c.b[c.i]
	c.i++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	if c.i+2 > len(c.b) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(c.b[c.i:])
	c.i += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if c.i+4 > len(c.b) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(c.b[c.i:])
	c.i += 4
	return v, nil
}

func (c *cursor) bin(n int) ([]byte, error) {
	if c.i+n > len(c.b) {
		return nil, io.ErrUnexpectedEOF
	}
	v := c.b[c.i : c.i+n]
	c.i += n
	return v, nil
}

func (c *cursor) lenPrefixed() ([]byte, error) {
	n, err := c.u16()
	if err != nil {
		return nil, err
	}
	return c.bin(int(n))
}

func (c *cursor) str() (string, error) {
	b, err := c.lenPrefixed()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *cursor) varint() (int, error) {
	value := 0
	mult := 1
	for i := 0; i < 4; i++ {
		b, err := c.u8()
		if err != nil {
			return 0, err
		}
		value += int(b&0x7F) * mult
		if b&0x80 == 0 {
			return value, nil
		}
		mult *= 128
	}
	return 0, fmt.Errorf("%w: variable-length integer too long", errMalformedPacket)
}

func (c *cursor) remaining() []byte { return c.b[c.i:] }

func writeUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func writeUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func writeString(buf []byte, s string) []byte {
	buf = writeUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func writeBinary(buf []byte, data []byte) []byte {
	buf = writeUint16(buf, uint16(len(data)))
	return append(buf, data...)
}

// --- MQTT 5 properties --------------------------------------------------

const (
	propPayloadFormatIndicator = 0x01
	propMessageExpiryInterval  = 0x02
	propContentType            = 0x03
	propResponseTopic          = 0x08
	propCorrelationData        = 0x09
	propSubscriptionIdentifier = 0x0B
	propSessionExpiryInterval  = 0x11
	propWillDelayInterval      = 0x18
	propReasonString           = 0x1F
	propUserProperty           = 0x26
)

// Presence bits record which optional fields a decoded Properties value
// actually carried, so a zero value (unset) is distinguishable from an
// explicit zero.
const (
	PresContentType = 1 << iota
	PresResponseTopic
	PresMessageExpiryInterval
	PresPayloadFormatIndicator
	PresReasonString
	PresWillDelayInterval
	PresSessionExpiryInterval
)

// UserProperty is one MQTT 5 user-property key/value pair.
type UserProperty struct {
	Key   string
	Value string
}

// wireProperties is the subset of MQTT 5 properties this adapter understands,
// on both PUBLISH deliveries and the handful of other packets that carry
// them. See convert.go for how this flattens into mqfleet.PropsBag.
type wireProperties struct {
	Presence               int
	ContentType            string
	ResponseTopic          string
	CorrelationData        []byte
	MessageExpiryInterval  uint32
	PayloadFormatIndicator uint8
	ReasonString           string
	WillDelayInterval      uint32
	SessionExpiryInterval  uint32
	SubscriptionIdentifier []int
	UserProperties         []UserProperty
}

func encodeProperties(p *wireProperties) []byte {
	if p == nil {
		return encodeVarInt(0)
	}
	var body []byte
	if p.Presence&PresPayloadFormatIndicator != 0 {
		body = append(body, propPayloadFormatIndicator, p.PayloadFormatIndicator)
	}
	if p.Presence&PresMessageExpiryInterval != 0 {
		body = append(body, propMessageExpiryInterval)
		body = writeUint32(body, p.MessageExpiryInterval)
	}
	if p.Presence&PresContentType != 0 {
		body = append(body, propContentType)
		body = writeString(body, p.ContentType)
	}
	if p.Presence&PresResponseTopic != 0 {
		body = append(body, propResponseTopic)
		body = writeString(body, p.ResponseTopic)
	}
	if len(p.CorrelationData) > 0 {
		body = append(body, propCorrelationData)
		body = writeBinary(body, p.CorrelationData)
	}
	for _, id := range p.SubscriptionIdentifier {
		body = append(body, propSubscriptionIdentifier)
		body = append(body, encodeVarInt(id)...)
	}
	if p.Presence&PresSessionExpiryInterval != 0 {
		body = append(body, propSessionExpiryInterval)
		body = writeUint32(body, p.SessionExpiryInterval)
	}
	if p.Presence&PresWillDelayInterval != 0 {
		body = append(body, propWillDelayInterval)
		body = writeUint32(body, p.WillDelayInterval)
	}
	if p.Presence&PresReasonString != 0 {
		body = append(body, propReasonString)
		body = writeString(body, p.ReasonString)
	}
	for _, up := range p.UserProperties {
		body = append(body, propUserProperty)
		body = writeString(body, up.Key)
		body = writeString(body, up.Value)
	}
	return append(encodeVarInt(len(body)), body...)
}

// decodeProperties reads a properties length prefix off c, then consumes
// exactly that many bytes as a sequence of (identifier, value) pairs. A
// zero-length properties section yields a nil *wireProperties.
func decodeProperties(c *cursor) (*wireProperties, error) {
	n, err := c.varint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	raw, err := c.bin(n)
	if err != nil {
		return nil, err
	}
	sub := &cursor{b: raw}
	p := &wireProperties{}
	for sub.i < len(sub.b) {
		id, err := sub.u8()
		if err != nil {
			return nil, err
		}
		switch id {
		case propPayloadFormatIndicator:
			v, err := sub.u8()
			if err != nil {
				return nil, err
			}
			p.PayloadFormatIndicator = v
			p.Presence |= PresPayloadFormatIndicator
		case propMessageExpiryInterval:
			v, err := sub.u32()
			if err != nil {
				return nil, err
			}
			p.MessageExpiryInterval = v
			p.Presence |= PresMessageExpiryInterval
		case propContentType:
			v, err := sub.str()
			if err != nil {
				return nil, err
			}
			p.ContentType = v
			p.Presence |= PresContentType
		case propResponseTopic:
			v, err := sub.str()
			if err != nil {
				return nil, err
			}
			p.ResponseTopic = v
			p.Presence |= PresResponseTopic
		case propCorrelationData:
			v, err := sub.lenPrefixed()
			if err != nil {
				return nil, err
			}
			p.CorrelationData = append([]byte(nil), v...)
		case propSubscriptionIdentifier:
			v, err := sub.varint()
			if err != nil {
				return nil, err
			}
			p.SubscriptionIdentifier = append(p.SubscriptionIdentifier, v)
		case propSessionExpiryInterval:
			v, err := sub.u32()
			if err != nil {
				return nil, err
			}
			p.SessionExpiryInterval = v
			p.Presence |= PresSessionExpiryInterval
		case propWillDelayInterval:
			v, err := sub.u32()
			if err != nil {
				return nil, err
			}
			p.WillDelayInterval = v
			p.Presence |= PresWillDelayInterval
		case propReasonString:
			v, err := sub.str()
			if err != nil {
				return nil, err
			}
			p.ReasonString = v
			p.Presence |= PresReasonString
		case propUserProperty:
			k, err := sub.str()
			if err != nil {
				return nil, err
			}
			v, err := sub.str()
			if err != nil {
				return nil, err
			}
			p.UserProperties = append(p.UserProperties, UserProperty{Key: k, Value: v})
		default:
			return nil, fmt.Errorf("%w: unknown property identifier 0x%02X", errMalformedPacket, id)
		}
	}
	return p, nil
}

// --- CONNECT / CONNACK --------------------------------------------------

// ConnectPacket is the client's opening handshake frame.
type ConnectPacket struct {
	ProtocolName  string
	ProtocolLevel uint8
	CleanSession  bool
	KeepAlive     uint16
	ClientID      string
	UsernameFlag  bool
	Username      string
	PasswordFlag  bool
	Password      string
}

func (p *ConnectPacket) Type() byte { return pktConnect }

func (p *ConnectPacket) WriteTo(w io.Writer) (int64, error) {
	name := p.ProtocolName
	if name == "" {
		name = "MQTT"
	}
	var vh []byte
	vh = writeString(vh, name)
	vh = append(vh, p.ProtocolLevel)

	var flags byte
	if p.CleanSession {
		flags |= 0x02
	}
	if p.UsernameFlag {
		flags |= 0x80
	}
	if p.PasswordFlag {
		flags |= 0x40
	}
	vh = append(vh, flags)
	vh = writeUint16(vh, p.KeepAlive)
	if p.ProtocolLevel >= 5 {
		vh = append(vh, encodeVarInt(0)...)
	}

	var payload []byte
	payload = writeString(payload, p.ClientID)
	if p.UsernameFlag {
		payload = writeString(payload, p.Username)
	}
	if p.PasswordFlag {
		payload = writeString(payload, p.Password)
	}

	return writeFrame(w, pktConnect, 0, vh, payload)
}

func decodeConnect(c *cursor) (*ConnectPacket, error) {
	protocolName, err := c.str()
	if err != nil {
		return nil, err
	}
	level, err := c.u8()
	if err != nil {
		return nil, err
	}
	flags, err := c.u8()
	if err != nil {
		return nil, err
	}
	keepAlive, err := c.u16()
	if err != nil {
		return nil, err
	}
	if level >= 5 {
		if _, err := decodeProperties(c); err != nil {
			return nil, err
		}
	}
	clientID, err := c.str()
	if err != nil {
		return nil, err
	}
	p := &ConnectPacket{
		ProtocolName:  protocolName,
		ProtocolLevel: level,
		CleanSession:  flags&0x02 != 0,
		KeepAlive:     keepAlive,
		ClientID:      clientID,
		UsernameFlag:  flags&0x80 != 0,
		PasswordFlag:  flags&0x40 != 0,
	}
	if p.UsernameFlag {
		p.Username, err = c.str()
		if err != nil {
			return nil, err
		}
	}
	if p.PasswordFlag {
		p.Password, err = c.str()
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ConnackPacket is the broker's reply to CONNECT.
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     uint8
}

func (p *ConnackPacket) Type() byte { return pktConnack }

func (p *ConnackPacket) WriteTo(w io.Writer) (int64, error) {
	var vh []byte
	var flags byte
	if p.SessionPresent {
		flags = 0x01
	}
	vh = append(vh, flags, p.ReturnCode)
	vh = append(vh, encodeVarInt(0)...)
	return writeFrame(w, pktConnack, 0, vh, nil)
}

func decodeConnack(c *cursor) (*ConnackPacket, error) {
	flags, err := c.u8()
	if err != nil {
		return nil, err
	}
	code, err := c.u8()
	if err != nil {
		return nil, err
	}
	if len(c.remaining()) > 0 {
		if _, err := decodeProperties(c); err != nil {
			return nil, err
		}
	}
	return &ConnackPacket{SessionPresent: flags&0x01 != 0, ReturnCode: code}, nil
}

// --- PUBLISH / PUBACK / PUBREC / PUBREL / PUBCOMP -----------------------

// PublishPacket carries one application message, outbound or inbound.
type PublishPacket struct {
	Dup        bool
	QoS        uint8
	Retain     bool
	Topic      string
	PacketID   uint16
	Payload    []byte
	Version    uint8
	Properties *wireProperties
}

func (p *PublishPacket) Type() byte { return pktPublish }

func (p *PublishPacket) WriteTo(w io.Writer) (int64, error) {
	var flags byte
	if p.Dup {
		flags |= 0x08
	}
	flags |= (p.QoS & 0x03) << 1
	if p.Retain {
		flags |= 0x01
	}

	var vh []byte
	vh = writeString(vh, p.Topic)
	if p.QoS > 0 {
		vh = writeUint16(vh, p.PacketID)
	}
	if p.Version >= 5 {
		vh = append(vh, encodeProperties(p.Properties)...)
	}

	return writeFrame(w, pktPublish, flags, vh, p.Payload)
}

func decodePublish(c *cursor, flags byte, version uint8) (*PublishPacket, error) {
	topic, err := c.str()
	if err != nil {
		return nil, err
	}
	qos := (flags >> 1) & 0x03
	p := &PublishPacket{
		Dup:     flags&0x08 != 0,
		QoS:     qos,
		Retain:  flags&0x01 != 0,
		Topic:   topic,
		Version: version,
	}
	if qos > 0 {
		p.PacketID, err = c.u16()
		if err != nil {
			return nil, err
		}
	}
	if version >= 5 {
		props, err := decodeProperties(c)
		if err != nil {
			return nil, err
		}
		p.Properties = props
	}
	p.Payload = append([]byte(nil), c.remaining()...)
	return p, nil
}

// ackPacket is the shared shape of PUBACK/PUBREC/PUBCOMP: a packet id plus
// an MQTT 5 reason code once the reason/properties tail is present.
type ackPacket struct {
	ptype      byte
	PacketID   uint16
	ReasonCode uint8
	Version    uint8
}

func (p *ackPacket) writeTo(w io.Writer, flags byte) (int64, error) {
	var vh []byte
	vh = writeUint16(vh, p.PacketID)
	if p.Version >= 5 {
		vh = append(vh, p.ReasonCode)
		vh = append(vh, encodeVarInt(0)...)
	}
	return writeFrame(w, p.ptype, flags, vh, nil)
}

func decodeAck(c *cursor) (uint16, uint8, error) {
	id, err := c.u16()
	if err != nil {
		return 0, 0, err
	}
	if len(c.remaining()) == 0 {
		return id, ConnAccepted, nil
	}
	code, err := c.u8()
	if err != nil {
		return id, 0, err
	}
	if len(c.remaining()) > 0 {
		if _, err := decodeProperties(c); err != nil {
			return id, code, err
		}
	}
	return id, code, nil
}

// PubackPacket acknowledges a QoS 1 PUBLISH.
type PubackPacket struct {
	PacketID   uint16
	ReasonCode uint8
	Version    uint8
}

func (p *PubackPacket) Type() byte { return pktPuback }
func (p *PubackPacket) WriteTo(w io.Writer) (int64, error) {
	return (&ackPacket{ptype: pktPuback, PacketID: p.PacketID, ReasonCode: p.ReasonCode, Version: p.Version}).writeTo(w, 0)
}

// PubrecPacket acknowledges the first step of a QoS 2 PUBLISH.
type PubrecPacket struct {
	PacketID   uint16
	ReasonCode uint8
	Version    uint8
}

func (p *PubrecPacket) Type() byte { return pktPubrec }
func (p *PubrecPacket) WriteTo(w io.Writer) (int64, error) {
	return (&ackPacket{ptype: pktPubrec, PacketID: p.PacketID, ReasonCode: p.ReasonCode, Version: p.Version}).writeTo(w, 0)
}

// PubrelPacket is the client's second step of a QoS 2 PUBLISH.
type PubrelPacket struct {
	PacketID uint16
	Version  uint8
}

func (p *PubrelPacket) Type() byte { return pktPubrel }
func (p *PubrelPacket) WriteTo(w io.Writer) (int64, error) {
	return (&ackPacket{ptype: pktPubrel, PacketID: p.PacketID, Version: p.Version}).writeTo(w, 0x02)
}

// PubcompPacket completes a QoS 2 PUBLISH handshake.
type PubcompPacket struct {
	PacketID   uint16
	ReasonCode uint8
	Version    uint8
}

func (p *PubcompPacket) Type() byte { return pktPubcomp }
func (p *PubcompPacket) WriteTo(w io.Writer) (int64, error) {
	return (&ackPacket{ptype: pktPubcomp, PacketID: p.PacketID, ReasonCode: p.ReasonCode, Version: p.Version}).writeTo(w, 0)
}

// --- SUBSCRIBE / SUBACK / UNSUBSCRIBE / UNSUBACK ------------------------

// SubscribePacket requests one or more topic filters.
type SubscribePacket struct {
	PacketID uint16
	Topics   []string
	QoS      []uint8
	Version  uint8
}

func (p *SubscribePacket) Type() byte { return pktSubscribe }

func (p *SubscribePacket) WriteTo(w io.Writer) (int64, error) {
	var vh []byte
	vh = writeUint16(vh, p.PacketID)
	if p.Version >= 5 {
		vh = append(vh, encodeVarInt(0)...)
	}
	var payload []byte
	for i, topic := range p.Topics {
		payload = writeString(payload, topic)
		payload = append(payload, p.QoS[i]&0x03)
	}
	return writeFrame(w, pktSubscribe, 0x02, vh, payload)
}

func decodeSubscribe(c *cursor, version uint8) (*SubscribePacket, error) {
	id, err := c.u16()
	if err != nil {
		return nil, err
	}
	if version >= 5 {
		if _, err := decodeProperties(c); err != nil {
			return nil, err
		}
	}
	p := &SubscribePacket{PacketID: id, Version: version}
	for c.i < len(c.b) {
		topic, err := c.str()
		if err != nil {
			return nil, err
		}
		opts, err := c.u8()
		if err != nil {
			return nil, err
		}
		p.Topics = append(p.Topics, topic)
		p.QoS = append(p.QoS, opts&0x03)
	}
	return p, nil
}

// SubackPacket carries one return code per requested filter.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []uint8
	Version     uint8
}

func (p *SubackPacket) Type() byte { return pktSuback }

func (p *SubackPacket) WriteTo(w io.Writer) (int64, error) {
	var vh []byte
	vh = writeUint16(vh, p.PacketID)
	if p.Version >= 5 {
		vh = append(vh, encodeVarInt(0)...)
	}
	return writeFrame(w, pktSuback, 0, vh, p.ReturnCodes)
}

func decodeSuback(c *cursor, version uint8) (*SubackPacket, error) {
	id, err := c.u16()
	if err != nil {
		return nil, err
	}
	if version >= 5 {
		if _, err := decodeProperties(c); err != nil {
			return nil, err
		}
	}
	return &SubackPacket{PacketID: id, ReturnCodes: append([]uint8(nil), c.remaining()...), Version: version}, nil
}

// UnsubscribePacket requests removal of one or more topic filters.
type UnsubscribePacket struct {
	PacketID uint16
	Topics   []string
	Version  uint8
}

func (p *UnsubscribePacket) Type() byte { return pktUnsubscribe }

func (p *UnsubscribePacket) WriteTo(w io.Writer) (int64, error) {
	var vh []byte
	vh = writeUint16(vh, p.PacketID)
	if p.Version >= 5 {
		vh = append(vh, encodeVarInt(0)...)
	}
	var payload []byte
	for _, topic := range p.Topics {
		payload = writeString(payload, topic)
	}
	return writeFrame(w, pktUnsubscribe, 0x02, vh, payload)
}

func decodeUnsubscribe(c *cursor, version uint8) (*UnsubscribePacket, error) {
	id, err := c.u16()
	if err != nil {
		return nil, err
	}
	if version >= 5 {
		if _, err := decodeProperties(c); err != nil {
			return nil, err
		}
	}
	p := &UnsubscribePacket{PacketID: id, Version: version}
	for c.i < len(c.b) {
		topic, err := c.str()
		if err != nil {
			return nil, err
		}
		p.Topics = append(p.Topics, topic)
	}
	return p, nil
}

// UnsubackPacket acknowledges an UNSUBSCRIBE.
type UnsubackPacket struct {
	PacketID uint16
	Version  uint8
}

func (p *UnsubackPacket) Type() byte { return pktUnsuback }

func (p *UnsubackPacket) WriteTo(w io.Writer) (int64, error) {
	var vh []byte
	vh = writeUint16(vh, p.PacketID)
	if p.Version >= 5 {
		vh = append(vh, encodeVarInt(0)...)
	}
	return writeFrame(w, pktUnsuback, 0, vh, nil)
}

func decodeUnsuback(c *cursor, version uint8) (*UnsubackPacket, error) {
	id, err := c.u16()
	if err != nil {
		return nil, err
	}
	return &UnsubackPacket{PacketID: id, Version: version}, nil
}

// --- PINGREQ / PINGRESP / DISCONNECT ------------------------------------

// PingreqPacket is the keepalive ping the client sends.
type PingreqPacket struct{}

func (PingreqPacket) Type() byte { return pktPingreq }
func (PingreqPacket) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, pktPingreq, 0, nil, nil)
}

// PingrespPacket is the broker's reply to PINGREQ.
type PingrespPacket struct{}

func (PingrespPacket) Type() byte { return pktPingresp }
func (PingrespPacket) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, pktPingresp, 0, nil, nil)
}

// DisconnectPacket closes the session, either client- or broker-initiated.
type DisconnectPacket struct {
	ReasonCode uint8
	Version    uint8
}

func (p *DisconnectPacket) Type() byte { return pktDisconnect }

func (p *DisconnectPacket) WriteTo(w io.Writer) (int64, error) {
	if p.Version < 5 {
		return writeFrame(w, pktDisconnect, 0, nil, nil)
	}
	vh := append([]byte{p.ReasonCode}, encodeVarInt(0)...)
	return writeFrame(w, pktDisconnect, 0, vh, nil)
}

func decodeDisconnect(c *cursor, version uint8) (*DisconnectPacket, error) {
	if len(c.remaining()) == 0 {
		return &DisconnectPacket{Version: version}, nil
	}
	code, err := c.u8()
	if err != nil {
		return nil, err
	}
	if len(c.remaining()) > 0 {
		if _, err := decodeProperties(c); err != nil {
			return nil, err
		}
	}
	return &DisconnectPacket{ReasonCode: code, Version: version}, nil
}

// --- framing --------------------------------------------------------

func writeFrame(w io.Writer, ptype byte, flags byte, variableHeader, payload []byte) (int64, error) {
	n1, err := writeFixedHeader(w, ptype, flags, len(variableHeader)+len(payload))
	if err != nil {
		return n1, err
	}
	var n2, n3 int
	if len(variableHeader) > 0 {
		n2, err = w.Write(variableHeader)
		if err != nil {
			return n1 + int64(n2), err
		}
	}
	if len(payload) > 0 {
		n3, err = w.Write(payload)
	}
	return n1 + int64(n2) + int64(n3), err
}

// ReadPacket reads and decodes exactly one frame from r, using version to
// decide whether ack/subscribe-family packets carry an MQTT 5 properties
// tail. maxSize, when non-zero, rejects a frame whose remaining length
// exceeds it (a defensive cap against a misbehaving broker).
func ReadPacket(r io.Reader, version uint8, maxSize int) (Packet, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	ptype := hdr[0] >> 4
	flags := hdr[0] & 0x0F

	remLen, err := readVarIntFrom(r)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && remLen > maxSize {
		return nil, fmt.Errorf("%w: remaining length %d exceeds limit %d", errMalformedPacket, remLen, maxSize)
	}
	body := make([]byte, remLen)
	if remLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}
	c := &cursor{b: body}

	switch ptype {
	case pktConnect:
		return decodeConnect(c)
	case pktConnack:
		return decodeConnack(c)
	case pktPublish:
		return decodePublish(c, flags, version)
	case pktPuback:
		id, code, err := decodeAck(c)
		if err != nil {
			return nil, err
		}
		return &PubackPacket{PacketID: id, ReasonCode: code, Version: version}, nil
	case pktPubrec:
		id, code, err := decodeAck(c)
		if err != nil {
			return nil, err
		}
		return &PubrecPacket{PacketID: id, ReasonCode: code, Version: version}, nil
	case pktPubrel:
		id, _, err := decodeAck(c)
		if err != nil {
			return nil, err
		}
		return &PubrelPacket{PacketID: id, Version: version}, nil
	case pktPubcomp:
		id, code, err := decodeAck(c)
		if err != nil {
			return nil, err
		}
		return &PubcompPacket{PacketID: id, ReasonCode: code, Version: version}, nil
	case pktSubscribe:
		return decodeSubscribe(c, version)
	case pktSuback:
		return decodeSuback(c, version)
	case pktUnsubscribe:
		return decodeUnsubscribe(c, version)
	case pktUnsuback:
		return decodeUnsuback(c, version)
	case pktPingreq:
		return &PingreqPacket{}, nil
	case pktPingresp:
		return &PingrespPacket{}, nil
	case pktDisconnect:
		return decodeDisconnect(c, version)
	default:
		return nil, fmt.Errorf("%w: unknown packet type %d", errMalformedPacket, ptype)
	}
}
