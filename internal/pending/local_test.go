package pending

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	key := Key("user-1", "story-2")

	ok, err := l.TryAcquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, l.Held(key))

	ok, err = l.TryAcquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must be rejected")

	require.NoError(t, l.Release(ctx, key))
	assert.False(t, l.Held(key))

	ok, err = l.TryAcquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocal_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	ok, _ := l.TryAcquire(ctx, Key("user-1", "a"))
	assert.True(t, ok)
	ok, _ = l.TryAcquire(ctx, Key("user-1", "b"))
	assert.True(t, ok)
	ok, _ = l.TryAcquire(ctx, Key("user-2", "a"))
	assert.True(t, ok)
}

func TestLocal_ConcurrentAcquireSingleWinner(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	key := Key("user-1", "story-2")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.TryAcquire(ctx, key); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestNewRedis_RequiresAddrNoMessage(t *testing.T) {
	_, err := NewRedis(context.Background(), "", "", 0)
	require.Error(t, err)
}
