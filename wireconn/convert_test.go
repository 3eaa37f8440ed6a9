package wireconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPropertiesFromWire_Nil(t *testing.T) {
	assert.Nil(t, propertiesFromWire(nil))
	var p *Properties
	assert.Nil(t, p.toPropsBag())
}

func TestPropertiesFromWire_RoundTrip(t *testing.T) {
	expiry := uint32(30)
	wire := &wireProperties{
		Presence:              PresContentType | PresResponseTopic | PresMessageExpiryInterval,
		ContentType:           "application/json",
		ResponseTopic:         "replies/1",
		MessageExpiryInterval: expiry,
		CorrelationData:       []byte("corr-1"),
		UserProperties:        []UserProperty{{Key: "trace", Value: "abc"}},
	}

	props := propertiesFromWire(wire)
	assert.Equal(t, "application/json", props.ContentType)
	assert.Equal(t, "replies/1", props.ResponseTopic)
	assert.Equal(t, []byte("corr-1"), props.CorrelationData)
	assert.Equal(t, "abc", props.GetUserProperty("trace"))

	bag := props.toPropsBag()
	assert.Equal(t, "application/json", bag["content_type"])
	assert.Equal(t, "replies/1", bag["response_topic"])
	assert.Equal(t, uint32(30), bag["message_expiry"])
}

func TestReasonCodeName(t *testing.T) {
	assert.Equal(t, "not authorized", reasonCodeName(ReasonCodeNotAuthorized))
	assert.Equal(t, "0xF0", reasonCodeName(0xF0))
}
