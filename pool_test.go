package mqfleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqfleet/core/config"
)

func TestPool_ExhaustionThenRecoversAfterPut(t *testing.T) {
	factory := &fakeFactory{}
	pool, err := NewPool("default", testConnCfg(), config.PoolConfig{MaxConnections: 2, WaitTimeout: 100 * time.Millisecond}, factory, nil)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()

	_, resA, err := pool.Get(ctx)
	require.NoError(t, err)
	_, resB, err := pool.Get(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, _, err = pool.Get(ctx)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	go func() {
		defer wg.Done()
		_, res, e := pool.Get(ctx)
		gotErr = e
		if e == nil {
			pool.Put(res)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	pool.Put(resB)
	wg.Wait()

	assert.NoError(t, gotErr)
	pool.Put(resA)
}

func TestPool_WaitTimeoutZeroFailsImmediately(t *testing.T) {
	factory := &fakeFactory{}
	pool, err := NewPool("default", testConnCfg(), config.PoolConfig{MaxConnections: 1, WaitTimeout: 0}, factory, nil)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	_, res, err := pool.Get(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, _, err = pool.Get(ctx)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Less(t, elapsed, 50*time.Millisecond)

	pool.Put(res)
}

func TestPool_PutDiscardsDeadConnection(t *testing.T) {
	factory := &fakeFactory{}
	pool, err := NewPool("default", testConnCfg(), config.PoolConfig{MaxConnections: 1, WaitTimeout: time.Second}, factory, nil)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	conn, res, err := pool.Get(ctx)
	require.NoError(t, err)

	conn.(*fakeConn).mu.Lock()
	conn.(*fakeConn).alive = false
	conn.(*fakeConn).mu.Unlock()

	pool.Put(res)

	// A discarded connection frees up pool capacity for a fresh dial.
	_, res2, err := pool.Get(ctx)
	require.NoError(t, err)
	pool.Put(res2)

	assert.Equal(t, 2, factory.connectCount())
}

func TestPool_ReapOnceDestroysConnectionsIdleLongerThanMaxIdleTime(t *testing.T) {
	factory := &fakeFactory{}
	pool, err := NewPool("default", testConnCfg(), config.PoolConfig{MaxConnections: 2, WaitTimeout: time.Second, MaxIdleTime: 10 * time.Millisecond}, factory, nil)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	_, res, err := pool.Get(ctx)
	require.NoError(t, err)
	pool.Put(res)

	time.Sleep(20 * time.Millisecond)
	pool.reapOnce()

	assert.EqualValues(t, 0, pool.Stat().TotalResources())

	_, res2, err := pool.Get(ctx)
	require.NoError(t, err)
	pool.Put(res2)
	assert.Equal(t, 2, factory.connectCount())
}

func TestPool_MaxIdleTimeZeroDisablesReaper(t *testing.T) {
	factory := &fakeFactory{}
	pool, err := NewPool("default", testConnCfg(), config.PoolConfig{MaxConnections: 1, WaitTimeout: time.Second}, factory, nil)
	require.NoError(t, err)
	defer pool.Close()

	assert.Nil(t, pool.reapDone)
}
