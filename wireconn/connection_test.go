package wireconn

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	mqfleet "github.com/mqfleet/core"
	"github.com/mqfleet/core/config"
	"github.com/mqfleet/core/robust"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQosFromProps(t *testing.T) {
	cases := []struct {
		name    string
		props   mqfleet.PropsBag
		want    uint8
		wantErr bool
	}{
		{"uint8", mqfleet.PropsBag{"qos": uint8(2)}, 2, false},
		{"int", mqfleet.PropsBag{"qos": 1}, 1, false},
		{"float64", mqfleet.PropsBag{"qos": float64(0)}, 0, false},
		{"missing", mqfleet.PropsBag{}, 0, true},
		{"wrong type", mqfleet.PropsBag{"qos": "one"}, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := qosFromProps(tc.props)
			if tc.wantErr {
				assert.Error(t, err)
				assert.ErrorIs(t, err, mqfleet.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestProtocolVersion(t *testing.T) {
	assert.Equal(t, DefaultProtocolVersion, protocolVersion(config.ConnectionConfig{}))
	assert.Equal(t, uint8(4), protocolVersion(config.ConnectionConfig{Options: map[string]any{"protocol_version": 4}}))
	assert.Equal(t, uint8(5), protocolVersion(config.ConnectionConfig{Options: map[string]any{"protocol_version": uint8(5)}}))
	assert.Equal(t, DefaultProtocolVersion, protocolVersion(config.ConnectionConfig{Options: map[string]any{"protocol_version": "five"}}))
}

func TestOptStringAndOptBool(t *testing.T) {
	assert.Equal(t, "", optString(nil, "username"))
	assert.Equal(t, "bob", optString(map[string]any{"username": "bob"}, "username"))
	assert.True(t, optBool(nil, "clean_session", true))
	assert.False(t, optBool(map[string]any{"clean_session": false}, "clean_session", true))
	assert.True(t, optBool(map[string]any{"clean_session": "nope"}, "clean_session", true))
}

// fakeBroker accepts exactly one connection, replies to CONNECT with a
// successful CONNACK, and acknowledges whatever QoS1 PUBLISH it sees next.
// It gives the factory/connection pair something real to dial and frame
// packets against without requiring an actual broker.
func fakeBroker(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		pkt, err := ReadPacket(conn, 5, 0)
		if err != nil {
			return
		}
		if _, ok := pkt.(*ConnectPacket); !ok {
			return
		}
		if _, err := (&ConnackPacket{ReturnCode: ConnAccepted}).WriteTo(conn); err != nil {
			return
		}

		for {
			pkt, err := ReadPacket(conn, 5, 0)
			if err != nil {
				return
			}
			switch p := pkt.(type) {
			case *PublishPacket:
				if p.QoS == QoS1 {
					_, _ = (&PubackPacket{PacketID: p.PacketID, Version: 5}).WriteTo(conn)
				}
			case *SubscribePacket:
				codes := make([]uint8, len(p.Topics))
				_, _ = (&SubackPacket{PacketID: p.PacketID, ReturnCodes: codes, Version: 5}).WriteTo(conn)
			case *DisconnectPacket:
				return
			}
		}
	}()
}

func listenerConfig(t *testing.T, ln net.Listener) config.ConnectionConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return config.ConnectionConfig{
		Host:      host,
		Port:      port,
		ClientID:  "test-client",
		KeepAlive: 0,
	}
}

func TestFactoryConnect_HandshakeAndPublish(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	fakeBroker(t, ln)

	f := NewFactory(nil)
	cfg := listenerConfig(t, ln)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := f.Connect(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, conn)
	defer conn.Close(context.Background())

	assert.True(t, conn.IsAlive())

	err = conn.Publish(ctx, "rooms/1", []byte("hello"), QoS1, false, false, nil)
	assert.NoError(t, err)

	err = conn.Subscribe(ctx, map[string]mqfleet.PropsBag{
		"rooms/+": {"qos": uint8(1)},
	})
	assert.NoError(t, err)

	require.NoError(t, conn.Close(context.Background()))
	assert.False(t, conn.IsAlive())
}

func TestFactoryConnect_DialTimeout(t *testing.T) {
	f := NewFactory(nil)
	f.DialTimeout = 50 * time.Millisecond

	// 192.0.2.0/24 is reserved for documentation (RFC 5737) and never
	// routable, so the dial reliably times out rather than refusing fast.
	cfg := config.ConnectionConfig{Host: "192.0.2.1", Port: 1883, ClientID: "t"}

	_, err := f.Connect(context.Background(), cfg)
	require.Error(t, err)
}

func TestFactoryConnect_ContextAlreadyCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	f := NewFactory(nil)
	cfg := listenerConfig(t, ln)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.Connect(ctx, cfg)
	require.Error(t, err)
}

func TestFactoryDefaultClassifier_UsedByFacade(t *testing.T) {
	var f mqfleet.ClassifyingFactory = NewFactory(nil)
	assert.NotNil(t, f.DefaultClassifier())
}

func TestConnectionDrop_ClassifiesTransient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	fakeBroker(t, ln)

	f := NewFactory(nil)
	cfg := listenerConfig(t, ln)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := f.Connect(ctx, cfg)
	require.NoError(t, err)

	c := conn.(*Conn)
	require.NoError(t, c.nc.Close())

	_, recvErr := conn.Receive(ctx)
	require.Error(t, recvErr)
	assert.Equal(t, robust.KindTransient, DefaultClassifier(recvErr))
}
