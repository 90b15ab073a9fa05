package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewPool(PoolOptions{Workers: 3})
	defer pool.Shutdown(context.Background())

	var count atomic.Int64
	for i := 0; i < 10; i++ {
		err := pool.Submit(func(ctx context.Context) {
			count.Add(1)
		})
		require.NoError(t, err)
	}
	pool.Wait()
	assert.Equal(t, int64(10), count.Load())
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	pool := NewPool(PoolOptions{Workers: 1})
	require.NoError(t, pool.Shutdown(context.Background()))

	err := pool.Submit(func(ctx context.Context) {})
	require.ErrorIs(t, err, ErrPoolClosed)

	// A second shutdown is a no-op
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	pool := NewPool(PoolOptions{Workers: 1, QueueSize: 8})

	var count atomic.Int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) {
			time.Sleep(5 * time.Millisecond)
			count.Add(1)
		}))
	}
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int64(5), count.Load())
}

func TestPoolRecoversFromPanic(t *testing.T) {
	pool := NewPool(PoolOptions{Workers: 1})
	defer pool.Shutdown(context.Background())

	require.NoError(t, pool.Submit(func(ctx context.Context) {
		panic("boom")
	}))
	var ran atomic.Bool
	require.NoError(t, pool.Submit(func(ctx context.Context) {
		ran.Store(true)
	}))
	pool.Wait()
	assert.True(t, ran.Load())
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	keyed := NewKeyedMutex()

	var active atomic.Int64
	var maxActive atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := keyed.Lock("project-a")
			defer unlock()

			now := active.Add(1)
			if now > maxActive.Load() {
				maxActive.Store(now)
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), maxActive.Load())

	// All entries released
	keyed.mutex.Lock()
	assert.Empty(t, keyed.locks)
	keyed.mutex.Unlock()
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	keyed := NewKeyedMutex()

	unlockA := keyed.Lock("a")
	acquired := make(chan struct{})
	go func() {
		unlockB := keyed.Lock("b")
		close(acquired)
		unlockB()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("independent key should not block")
	}
	unlockA()
}

func TestKeyedMutexUnlockIsIdempotent(t *testing.T) {
	keyed := NewKeyedMutex()
	unlock := keyed.Lock("a")
	unlock()
	unlock()

	done := make(chan struct{})
	go func() {
		second := keyed.Lock("a")
		second()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock should be reacquirable")
	}
}
