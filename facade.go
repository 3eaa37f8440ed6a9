package mqfleet

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/puddle/v2"

	"github.com/mqfleet/core/config"
	"github.com/mqfleet/core/metrics"
	"github.com/mqfleet/core/robust"
)

// DefaultPoolName is the pool name a Client uses when none is given
// explicitly, matching the teacher's single-client-per-process default.
const DefaultPoolName = "default"

// Client is the facade exposing the five MQTT operations. Each call path
// validates the name implicitly (it is one of five typed methods, so
// there is no dynamic-dispatch surface left to misname — see DESIGN.md),
// resolves a connection (affinity check against ContextStore, else
// Pool.Get), wraps the underlying call through the robustness spine under
// operation name "mqtt_<op>", and releases the connection unless it was
// context-scoped.
type Client struct {
	name         string
	pool         *Pool
	spine        *robust.Spine
	contextStore ContextStore
	logger       Logger
}

// NewClient builds a facade over pool, running every operation through
// spine. A nil contextStore defaults to the no-op store.
func NewClient(name string, pool *Pool, spine *robust.Spine, contextStore ContextStore, logger Logger) *Client {
	if contextStore == nil {
		contextStore = noopContextStore{}
	}
	if logger == nil {
		logger = discardLogger{}
	}
	return &Client{name: name, pool: pool, spine: spine, contextStore: contextStore, logger: logger}
}

// Name returns the pool name this facade is bound to.
func (c *Client) Name() string { return c.name }

// borrowed is what resolveConnection hands back: either a pool-owned
// resource that must be Put, or a context-scoped connection whose
// lifetime is owned by the caller's request context.
type borrowed struct {
	conn   Connection
	res    *puddle.Resource[Connection]
	scoped bool
}

func (c *Client) resolveConnection(ctx context.Context) (borrowed, error) {
	if c.contextStore.Has(ctx, c.name) {
		conn := c.contextStore.Get(ctx, c.name)
		if conn == nil || !conn.IsAlive() {
			return borrowed{}, newFleetError(ErrInvalidMQTTConnection, "resolveConnection", nil)
		}
		return borrowed{conn: conn, scoped: true}, nil
	}

	conn, res, err := c.pool.Get(ctx)
	if err != nil {
		return borrowed{}, err
	}
	return borrowed{conn: conn, res: res, scoped: false}, nil
}

func (c *Client) release(b borrowed) {
	if !b.scoped {
		c.pool.Put(b.res)
	}
}

// withConnection is a free function, not a method, because Go methods
// cannot carry their own type parameters.
func withConnection[T any](ctx context.Context, c *Client, opName string, fn func(context.Context, Connection) (T, error)) (T, error) {
	var zero T

	b, err := c.resolveConnection(ctx)
	if err != nil {
		return zero, err
	}

	result, opErr := robust.WrapOperation(ctx, c.spine, fmt.Sprintf("mqtt_%s", opName), func(ctx context.Context) (T, error) {
		return fn(ctx, b.conn)
	})

	c.release(b)
	return result, opErr
}

// Publish sends payload to topic at the given QoS. qos outside {0,1,2}
// is rejected with ErrInvalidConfig before any connection is resolved.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos uint8, dup, retain bool, props PropsBag) error {
	if qos > 2 {
		return newFleetError(ErrInvalidConfig, "Publish", fmt.Errorf("qos %d is not one of {0,1,2}", qos))
	}
	_, err := withConnection(ctx, c, "publish", func(ctx context.Context, conn Connection) (struct{}, error) {
		return struct{}{}, conn.Publish(ctx, topic, payload, qos, dup, retain, props)
	})
	return err
}

// Subscribe issues one SUBSCRIBE covering every entry in topics, each of
// which must carry a "qos" key.
func (c *Client) Subscribe(ctx context.Context, topics map[string]PropsBag) error {
	for t, props := range topics {
		if _, ok := props["qos"]; !ok {
			return newFleetError(ErrInvalidConfig, "Subscribe", fmt.Errorf("topic %q: props must contain \"qos\"", t))
		}
	}
	_, err := withConnection(ctx, c, "subscribe", func(ctx context.Context, conn Connection) (struct{}, error) {
		return struct{}{}, conn.Subscribe(ctx, topics)
	})
	return err
}

// Unsubscribe issues one UNSUBSCRIBE covering every entry in topics.
func (c *Client) Unsubscribe(ctx context.Context, topics map[string]PropsBag) error {
	_, err := withConnection(ctx, c, "unsubscribe", func(ctx context.Context, conn Connection) (struct{}, error) {
		return struct{}{}, conn.Unsubscribe(ctx, topics)
	})
	return err
}

// Receive blocks on the borrowed connection until one message arrives or
// ctx is cancelled.
func (c *Client) Receive(ctx context.Context) (Message, error) {
	return withConnection(ctx, c, "receive", func(ctx context.Context, conn Connection) (Message, error) {
		return conn.Receive(ctx)
	})
}

// MultiSubscribe issues the same Subscribe n times (coerced to at least 1)
// on a single borrowed connection, relying on broker semantics to
// load-balance deliveries across the n subscriptions. If any attempt
// fails, the remaining attempts are not made and the first error
// propagates; exactly one connection is borrowed and released regardless
// of how many of the n attempts ran.
func (c *Client) MultiSubscribe(ctx context.Context, topics map[string]PropsBag, n int) error {
	if n < 1 {
		n = 1
	}
	for t, props := range topics {
		if _, ok := props["qos"]; !ok {
			return newFleetError(ErrInvalidConfig, "MultiSubscribe", fmt.Errorf("topic %q: props must contain \"qos\"", t))
		}
	}

	b, err := c.resolveConnection(ctx)
	if err != nil {
		return err
	}
	defer c.release(b)

	for i := 0; i < n; i++ {
		_, opErr := robust.WrapOperation(ctx, c.spine, "mqtt_subscribe", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, b.conn.Subscribe(ctx, topics)
		})
		if opErr != nil {
			return opErr
		}
	}
	return nil
}

// Factory holds named Clients, each with independent pool sizing and
// retry/breaker configuration, backed by a shared metrics.Registry and
// ConnectionFactory — the generalization of the teacher's single-client
// model to N named facades sharing one process.
type Factory struct {
	connFactory ConnectionFactory
	registry    *metrics.Registry
	logger      Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewFactory constructs an empty Factory. A nil registry disables metrics
// recording across every Client it builds.
func NewFactory(connFactory ConnectionFactory, registry *metrics.Registry, logger Logger) *Factory {
	if logger == nil {
		logger = discardLogger{}
	}
	return &Factory{
		connFactory: connFactory,
		registry:    registry,
		logger:      logger,
		clients:     make(map[string]*Client),
	}
}

// ClientOption configures one named Client at construction, per the
// design note on making per-operation retry policy overrides an explicit
// builder rather than a mutable map entry.
type ClientOption func(*clientBuildOptions)

type clientBuildOptions struct {
	contextStore  ContextStore
	retryPolicies map[string]robust.RetryPolicy
	defaultRetry  *robust.RetryPolicy
	breakerCfg    *robust.BreakerConfig
	classifier    robust.Classifier
}

// WithContextStore overrides the default no-op ContextStore for this
// Client.
func WithContextStore(cs ContextStore) ClientOption {
	return func(o *clientBuildOptions) { o.contextStore = cs }
}

// WithOperationRetryPolicy overrides the retry policy for one operation
// name ("publish", "subscribe", "unsubscribe", "receive") on this Client.
func WithOperationRetryPolicy(operation string, policy robust.RetryPolicy) ClientOption {
	return func(o *clientBuildOptions) {
		if o.retryPolicies == nil {
			o.retryPolicies = make(map[string]robust.RetryPolicy)
		}
		o.retryPolicies[fmt.Sprintf("mqtt_%s", operation)] = policy
	}
}

// WithDefaultRetryPolicy overrides the retry policy for operations that
// have not been given one via WithOperationRetryPolicy.
func WithDefaultRetryPolicy(policy robust.RetryPolicy) ClientOption {
	return func(o *clientBuildOptions) { o.defaultRetry = &policy }
}

// WithBreakerConfig overrides the breaker configuration for every
// operation on this Client.
func WithBreakerConfig(cfg robust.BreakerConfig) ClientOption {
	return func(o *clientBuildOptions) { o.breakerCfg = &cfg }
}

// WithClassifier overrides the error classifier for this Client.
func WithClassifier(classify robust.Classifier) ClientOption {
	return func(o *clientBuildOptions) { o.classifier = classify }
}

// NewClient validates connCfg and poolCfg (recording to the Factory's
// registry), dials a pool through the Factory's ConnectionFactory, and
// registers the resulting Client under name.
func (f *Factory) NewClient(name string, connCfg config.ConnectionConfig, poolCfg config.PoolConfig, opts ...ClientOption) (*Client, error) {
	if name == "" {
		name = DefaultPoolName
	}

	var validationSink *metrics.ValidationMetrics
	if f.registry != nil {
		validationSink = f.registry.Validation
	}
	if err := config.ValidateConnectionConfig(&connCfg, validationSink); err != nil {
		return nil, err
	}
	if err := config.ValidatePoolConfig(&poolCfg, validationSink); err != nil {
		return nil, err
	}

	build := clientBuildOptions{}
	for _, opt := range opts {
		opt(&build)
	}

	spineOpts := []robust.SpineOption{WithSpineLogger(f.logger)}
	if f.registry != nil {
		spineOpts = append(spineOpts, robust.WithMetrics(f.registry))
	}
	if build.defaultRetry != nil {
		spineOpts = append(spineOpts, robust.WithDefaultRetryPolicy(*build.defaultRetry))
	}
	if build.breakerCfg != nil {
		spineOpts = append(spineOpts, robust.WithBreakerConfig(*build.breakerCfg))
	}
	classifier := build.classifier
	if classifier == nil {
		if cf, ok := f.connFactory.(ClassifyingFactory); ok {
			classifier = cf.DefaultClassifier()
		}
	}
	if classifier != nil {
		spineOpts = append(spineOpts, robust.WithClassifier(classifier))
	}
	for op, policy := range build.retryPolicies {
		spineOpts = append(spineOpts, robust.WithRetryPolicy(op, policy))
	}
	spine := robust.NewSpine(spineOpts...)

	pool, err := NewPool(name, connCfg, poolCfg, f.connFactory, f.logger)
	if err != nil {
		return nil, err
	}

	client := NewClient(name, pool, spine, build.contextStore, f.logger)
	f.mu.Lock()
	f.clients[name] = client
	f.mu.Unlock()
	return client, nil
}

// WithSpineLogger adapts this package's Logger to robust.WithLogger; the
// two Logger interfaces are structurally identical, so no wrapper type is
// needed beyond satisfying robust.Logger.
func WithSpineLogger(l Logger) robust.SpineOption {
	return robust.WithLogger(l)
}

// Client returns the named Client and whether it was found.
func (f *Factory) Client(name string) (*Client, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.clients[name]
	return c, ok
}

// Close closes every pool this Factory constructed.
func (f *Factory) Close() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.clients {
		c.pool.Close()
	}
}
