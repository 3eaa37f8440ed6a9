package mqfleet

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"

	"github.com/mqfleet/core/config"
)

// reapInterval is how often the background reaper wakes up to check idle
// connections against cfg.MaxIdleTime. pgxpool runs its equivalent health
// check on the same kind of fixed tick rather than a per-resource timer,
// since puddle doesn't expose expiry callbacks directly.
const reapInterval = 30 * time.Second

// Pool is a bounded borrow/return pool of live Connections, backed by
// puddle.Pool[Connection] — the same generic resource pool pgx uses for
// database connections, here holding MQTT sessions instead.
type Pool struct {
	name     string
	cfg      config.PoolConfig
	connCfg  config.ConnectionConfig
	factory  ConnectionFactory
	logger   Logger
	inner    *puddle.Pool[Connection]
	closed   atomic.Bool
	reapDone chan struct{}
}

// NewPool constructs a Pool named name, dialing connections through
// factory using connCfg. poolCfg must already have passed
// config.ValidatePoolConfig. NewPool prewarms cfg.MinConnections
// connections synchronously before returning.
func NewPool(name string, connCfg config.ConnectionConfig, poolCfg config.PoolConfig, factory ConnectionFactory, logger Logger) (*Pool, error) {
	if logger == nil {
		logger = discardLogger{}
	}

	constructor := func(ctx context.Context) (Connection, error) {
		return factory.Connect(ctx, connCfg)
	}
	destructor := func(conn Connection) {
		_ = conn.Close(context.Background())
	}

	inner, err := puddle.NewPool(&puddle.Config[Connection]{
		Constructor: constructor,
		Destructor:  destructor,
		MaxSize:     int32(poolCfg.MaxConnections),
	})
	if err != nil {
		return nil, newFleetError(ErrInvalidConfig, "NewPool", err)
	}

	p := &Pool{name: name, cfg: poolCfg, connCfg: connCfg, factory: factory, logger: logger, inner: inner}
	p.prewarm()
	if poolCfg.MaxIdleTime > 0 {
		p.reapDone = make(chan struct{})
		go p.reapIdle()
	}
	return p, nil
}

// reapIdle periodically destroys idle connections that have sat longer
// than cfg.MaxIdleTime, the same pattern pgxpool's background health check
// runs on top of puddle.Pool.AcquireAllIdle: briefly acquire every idle
// resource, decide per-resource, then either destroy or release it back.
func (p *Pool) reapIdle() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.reapDone:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

// reapOnce runs one idle sweep. Split out from reapIdle so tests can drive
// it directly instead of waiting out reapInterval.
func (p *Pool) reapOnce() {
	for _, res := range p.inner.AcquireAllIdle() {
		if res.IdleDuration() > p.cfg.MaxIdleTime || !res.Value().IsAlive() {
			p.logger.Debug("pool: reaping idle connection", "pool", p.name, "idle_for", res.IdleDuration())
			res.Destroy()
			continue
		}
		res.Release()
	}
}

func (p *Pool) prewarm() {
	for i := 0; i < p.cfg.MinConnections; i++ {
		res, err := p.inner.CreateResource(context.Background())
		if err != nil {
			p.logger.Warn("pool: prewarm connection failed", "pool", p.name, "error", err)
			return
		}
		res.Release()
	}
}

// Name returns the pool's configured name.
func (p *Pool) Name() string { return p.name }

// Get returns an idle healthy connection, creates one if below max, or
// blocks up to cfg.WaitTimeout before failing with ErrPoolExhausted. The
// returned *puddle.Resource must be passed to Put exactly once.
func (p *Pool) Get(ctx context.Context) (Connection, *puddle.Resource[Connection], error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.WaitTimeout)
	defer cancel()

	res, err := p.inner.Acquire(waitCtx)
	if err == nil && !res.Value().IsAlive() {
		// A connection that died while idle is discarded and the pool is
		// tried once more.
		res.Destroy()
		res, err = p.inner.Acquire(waitCtx)
	}
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil, nil, newFleetError(ErrCancelled, "pool.Get", ctx.Err())
		}
		return nil, nil, newFleetError(ErrPoolExhausted, "pool.Get", err)
	}

	conn := res.Value()
	if !conn.IsAlive() {
		res.Destroy()
		return nil, nil, newFleetError(ErrInvalidMQTTConnection, "pool.Get", nil)
	}
	return conn, res, nil
}

// Put returns a borrowed connection. A Failed or dead connection is
// discarded and the pool's count drops; a healthy one is marked idle.
func (p *Pool) Put(res *puddle.Resource[Connection]) {
	if res == nil {
		return
	}
	if !res.Value().IsAlive() {
		res.Destroy()
		return
	}
	res.Release()
}

// Close transitions the pool to its terminal state and closes every idle
// connection. Borrowers that have not yet Put will discard on return.
func (p *Pool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		if p.reapDone != nil {
			close(p.reapDone)
		}
		p.inner.Close()
	}
}

// Stat exposes puddle's own accounting (total/idle/acquired resources)
// for callers that want raw pool occupancy rather than a Snapshot.
func (p *Pool) Stat() *puddle.Stat { return p.inner.Stat() }
