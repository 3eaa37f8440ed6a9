package mqfleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqfleet/core/config"
	"github.com/mqfleet/core/metrics"
	"github.com/mqfleet/core/robust"
)

type fakeConn struct {
	mu             sync.Mutex
	alive          bool
	publishErr     error
	publishCalls   int
	subscribeCalls int
	subscribeArgs  []map[string]PropsBag
	closeCalls     int
}

func newFakeConn() *fakeConn { return &fakeConn{alive: true} }

func (c *fakeConn) Publish(ctx context.Context, topic string, payload []byte, qos uint8, dup, retain bool, props PropsBag) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishCalls++
	return c.publishErr
}

func (c *fakeConn) Subscribe(ctx context.Context, topics map[string]PropsBag) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeCalls++
	c.subscribeArgs = append(c.subscribeArgs, topics)
	return nil
}

func (c *fakeConn) Unsubscribe(ctx context.Context, topics map[string]PropsBag) error { return nil }

func (c *fakeConn) Receive(ctx context.Context) (Message, error) {
	return Message{Topic: "t", Payload: []byte("hi")}, nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	c.alive = false
	return nil
}

func (c *fakeConn) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

type fakeFactory struct {
	mu         sync.Mutex
	conns      []*fakeConn
	connectErr error
}

func (f *fakeFactory) Connect(ctx context.Context, cfg config.ConnectionConfig) (Connection, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	c := newFakeConn()
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func testConnCfg() config.ConnectionConfig {
	return config.ConnectionConfig{Host: "broker.example.com", Port: 1883}
}

func testPoolCfg(max int) config.PoolConfig {
	return config.PoolConfig{MinConnections: 0, MaxConnections: max, WaitTimeout: 200 * time.Millisecond}
}

func newTestClient(t *testing.T, factory *fakeFactory, max int) *Client {
	t.Helper()
	f := NewFactory(factory, metrics.NewRegistry(100), nil)
	client, err := f.NewClient("default", testConnCfg(), testPoolCfg(max))
	require.NoError(t, err)
	return client
}

func TestClient_Publish_Success(t *testing.T) {
	factory := &fakeFactory{}
	client := newTestClient(t, factory, 2)

	err := client.Publish(context.Background(), "sensors/temp", []byte("21.5"), 1, false, false, nil)
	require.NoError(t, err)
}

func TestClient_Publish_RejectsBadQoS(t *testing.T) {
	factory := &fakeFactory{}
	client := newTestClient(t, factory, 2)

	err := client.Publish(context.Background(), "sensors/temp", nil, 3, false, false, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 0, factory.connectCount())
}

func TestClient_Subscribe_RequiresQoS(t *testing.T) {
	factory := &fakeFactory{}
	client := newTestClient(t, factory, 2)

	err := client.Subscribe(context.Background(), map[string]PropsBag{"orders": {}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClient_MultiSubscribe_RunsNTimesOnOneConnection(t *testing.T) {
	factory := &fakeFactory{}
	client := newTestClient(t, factory, 2)

	topics := map[string]PropsBag{"orders": {"qos": 1}}
	err := client.MultiSubscribe(context.Background(), topics, 3)
	require.NoError(t, err)

	require.Len(t, factory.conns, 1)
	assert.Equal(t, 3, factory.conns[0].subscribeCalls)
	for _, args := range factory.conns[0].subscribeArgs {
		assert.Equal(t, topics, args)
	}
}

func TestClient_MultiSubscribe_CoercesNLessThanOne(t *testing.T) {
	factory := &fakeFactory{}
	client := newTestClient(t, factory, 2)

	err := client.MultiSubscribe(context.Background(), map[string]PropsBag{"orders": {"qos": 0}}, 0)
	require.NoError(t, err)
	require.Len(t, factory.conns, 1)
	assert.Equal(t, 1, factory.conns[0].subscribeCalls)
}

type fakeContextStore struct {
	held map[string]Connection
}

func (f *fakeContextStore) Has(ctx context.Context, key string) bool {
	_, ok := f.held[key]
	return ok
}

func (f *fakeContextStore) Get(ctx context.Context, key string) Connection {
	return f.held[key]
}

func TestClient_ContextAffinity_SkipsPoolAndDoesNotRelease(t *testing.T) {
	factory := &fakeFactory{}
	heldConn := newFakeConn()
	store := &fakeContextStore{held: map[string]Connection{"default": heldConn}}

	f := NewFactory(factory, metrics.NewRegistry(100), nil)
	client, err := f.NewClient("default", testConnCfg(), testPoolCfg(1), WithContextStore(store))
	require.NoError(t, err)

	err = client.Publish(context.Background(), "t", []byte("x"), 0, false, false, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, heldConn.publishCalls)
	assert.Equal(t, 0, factory.connectCount(), "affinity connection must bypass the pool entirely")
}

func TestClient_PoolExhaustion_ReturnsPoolExhausted(t *testing.T) {
	factory := &fakeFactory{}
	f := NewFactory(factory, metrics.NewRegistry(100), nil)
	client, err := f.NewClient("default", testConnCfg(), config.PoolConfig{MaxConnections: 1, WaitTimeout: 50 * time.Millisecond}, WithDefaultRetryPolicy(robust.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	require.NoError(t, err)

	ctx := context.Background()
	b, err := client.resolveConnection(ctx)
	require.NoError(t, err)
	defer client.release(b)

	_, err = client.Receive(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}
