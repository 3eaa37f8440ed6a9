package wireconn

import (
	"fmt"

	mqfleet "github.com/mqfleet/core"
)

// propertiesFromWire decodes the wire codec's bitmask-based wireProperties
// into the richer, named Properties this package exposes to callers;
// toPropsBag then folds that into the flat PropsBag mqfleet.Message carries
// so a caller never needs to import this package just to read one field
// off a delivered message.
func propertiesFromWire(p *wireProperties) *Properties {
	if p == nil {
		return nil
	}
	out := NewProperties()
	if p.Presence&PresContentType != 0 {
		out.ContentType = p.ContentType
	}
	if p.Presence&PresResponseTopic != 0 {
		out.ResponseTopic = p.ResponseTopic
	}
	if len(p.CorrelationData) > 0 {
		out.CorrelationData = p.CorrelationData
	}
	if p.Presence&PresMessageExpiryInterval != 0 {
		v := p.MessageExpiryInterval
		out.MessageExpiry = &v
	}
	if p.Presence&PresPayloadFormatIndicator != 0 {
		v := p.PayloadFormatIndicator
		out.PayloadFormat = &v
	}
	if p.Presence&PresReasonString != 0 {
		out.ReasonString = p.ReasonString
	}
	for _, up := range p.UserProperties {
		out.SetUserProperty(up.Key, up.Value)
	}
	return out
}

// toPropsBag flattens Properties into the generic map mqfleet.Message
// carries. A nil receiver yields a nil bag so an unset-properties message
// doesn't pick up an empty-but-non-nil map.
func (p *Properties) toPropsBag() mqfleet.PropsBag {
	if p == nil {
		return nil
	}
	bag := mqfleet.PropsBag{}
	if p.ContentType != "" {
		bag["content_type"] = p.ContentType
	}
	if p.ResponseTopic != "" {
		bag["response_topic"] = p.ResponseTopic
	}
	if len(p.CorrelationData) > 0 {
		bag["correlation_data"] = p.CorrelationData
	}
	if p.MessageExpiry != nil {
		bag["message_expiry"] = *p.MessageExpiry
	}
	if p.PayloadFormat != nil {
		bag["payload_format"] = *p.PayloadFormat
	}
	if p.ReasonString != "" {
		bag["reason_string"] = p.ReasonString
	}
	if len(p.UserProperties) > 0 {
		bag["user_properties"] = p.UserProperties
	}
	return bag
}

// MQTT v5 reason codes, reported in CONNACK, PUBACK, PUBREC, PUBREL,
// PUBCOMP, SUBACK, UNSUBACK, and DISCONNECT packets. 0x00-0x7F is success,
// 0x80-0xFF is failure — connection.go's ack handling only ever branches
// on that threshold (it has no synchronous per-code recovery path of its
// own), so the names below exist purely to make reasonCodeName's log
// lines and wrapped errors read as "not authorized" rather than "0x87".
const (
	ReasonCodeNormalDisconnect   uint8 = 0x00
	ReasonCodeDisconnectWithWill uint8 = 0x04

	ReasonCodeUnspecifiedError      uint8 = 0x80
	ReasonCodeMalformedPacket       uint8 = 0x81
	ReasonCodeProtocolError         uint8 = 0x82
	ReasonCodeImplementationError   uint8 = 0x83
	ReasonCodeNotAuthorized         uint8 = 0x87
	ReasonCodeServerBusy            uint8 = 0x89
	ReasonCodeServerShuttingDown    uint8 = 0x8B
	ReasonCodeKeepAliveTimeout      uint8 = 0x8D
	ReasonCodeSessionTakenOver      uint8 = 0x8E
	ReasonCodeTopicFilterInvalid    uint8 = 0x90
	ReasonCodeTopicNameInvalid      uint8 = 0x91
	ReasonCodeReceiveMaximumExceed  uint8 = 0x93
	ReasonCodeTopicAliasInvalid     uint8 = 0x94
	ReasonCodePacketTooLarge        uint8 = 0x95
	ReasonCodeMessageRateTooHigh    uint8 = 0x96
	ReasonCodeQuotaExceeded         uint8 = 0x97
	ReasonCodeAdministrativeAction  uint8 = 0x98
	ReasonCodePayloadFormatInvalid  uint8 = 0x99
	ReasonCodeRetainNotSupported    uint8 = 0x9A
	ReasonCodeQoSNotSupported       uint8 = 0x9B
	ReasonCodeUseAnotherServer      uint8 = 0x9C
	ReasonCodeServerMoved           uint8 = 0x9D
	ReasonCodeSharedSubNotSupported uint8 = 0x9E
	ReasonCodeConnectionRateExceed  uint8 = 0x9F
	ReasonCodeMaximumConnectTime    uint8 = 0xA0
	ReasonCodeSubscriptionIDNotSupp uint8 = 0xA1
	ReasonCodeWildcardSubNotSupp    uint8 = 0xA2
)

var reasonCodeNames = map[uint8]string{
	ReasonCodeNormalDisconnect:      "normal disconnect",
	ReasonCodeDisconnectWithWill:    "disconnect with will",
	ReasonCodeUnspecifiedError:      "unspecified error",
	ReasonCodeMalformedPacket:       "malformed packet",
	ReasonCodeProtocolError:         "protocol error",
	ReasonCodeImplementationError:   "implementation specific error",
	ReasonCodeNotAuthorized:         "not authorized",
	ReasonCodeServerBusy:            "server busy",
	ReasonCodeServerShuttingDown:    "server shutting down",
	ReasonCodeKeepAliveTimeout:      "keep alive timeout",
	ReasonCodeSessionTakenOver:      "session taken over",
	ReasonCodeTopicFilterInvalid:    "topic filter invalid",
	ReasonCodeTopicNameInvalid:      "topic name invalid",
	ReasonCodeReceiveMaximumExceed:  "receive maximum exceeded",
	ReasonCodeTopicAliasInvalid:     "topic alias invalid",
	ReasonCodePacketTooLarge:        "packet too large",
	ReasonCodeMessageRateTooHigh:    "message rate too high",
	ReasonCodeQuotaExceeded:         "quota exceeded",
	ReasonCodeAdministrativeAction:  "administrative action",
	ReasonCodePayloadFormatInvalid:  "payload format invalid",
	ReasonCodeRetainNotSupported:    "retain not supported",
	ReasonCodeQoSNotSupported:       "QoS not supported",
	ReasonCodeUseAnotherServer:      "use another server",
	ReasonCodeServerMoved:           "server moved",
	ReasonCodeSharedSubNotSupported: "shared subscriptions not supported",
	ReasonCodeConnectionRateExceed:  "connection rate exceeded",
	ReasonCodeMaximumConnectTime:    "maximum connect time",
	ReasonCodeSubscriptionIDNotSupp: "subscription identifiers not supported",
	ReasonCodeWildcardSubNotSupp:    "wildcard subscriptions not supported",
}

// reasonCodeName renders an MQTT v5 reason code the way log lines and
// wrapped errors report broker-refusal detail; codes this package doesn't
// name are rendered as their raw hex value.
func reasonCodeName(code uint8) string {
	if name, ok := reasonCodeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", code)
}
