package robust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(10, 3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		held, err := b.Allow()
		require.NoError(t, err)
		require.False(t, held)
		b.Record(held, false)
	}

	assert.Equal(t, Open, b.State())

	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_HalfOpenProbeSucceeds(t *testing.T) {
	b := NewBreaker(10, 1, 20*time.Millisecond)

	held, err := b.Allow()
	require.NoError(t, err)
	b.Record(held, false)
	require.Equal(t, Open, b.State())

	time.Sleep(30 * time.Millisecond)

	held, err = b.Allow()
	require.NoError(t, err)
	require.True(t, held)
	assert.Equal(t, HalfOpen, b.State())

	b.Record(held, true)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbeFails_ReOpens(t *testing.T) {
	b := NewBreaker(10, 1, 10*time.Millisecond)

	held, _ := b.Allow()
	b.Record(held, false)
	time.Sleep(15 * time.Millisecond)

	held, err := b.Allow()
	require.NoError(t, err)
	b.Record(held, false)

	assert.Equal(t, Open, b.State())
}

func TestBreaker_HalfOpenRejectsConcurrentCallers(t *testing.T) {
	b := NewBreaker(10, 1, 10*time.Millisecond)

	held, _ := b.Allow()
	b.Record(held, false)
	time.Sleep(15 * time.Millisecond)

	_, err := b.Allow()
	require.NoError(t, err)

	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_ClosedStateNeverBlocks(t *testing.T) {
	b := NewBreaker(5, 100, time.Second)
	for i := 0; i < 4; i++ {
		held, err := b.Allow()
		require.NoError(t, err)
		b.Record(held, false)
	}
	assert.Equal(t, Closed, b.State())
}
