package resource

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})
	assert.Equal(t, int64(100), c.MemoryLimit())

	require.NoError(t, c.AcquireMemory(50))
	require.NoError(t, c.AcquireMemory(40))
	assert.ErrorIs(t, c.AcquireMemory(20), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	require.NoError(t, c.AcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
	assert.Equal(t, int64(90), c.MemoryPeak())

	require.NoError(t, c.ResizeMemory(60, 100))
	assert.ErrorIs(t, c.ResizeMemory(100, 101), ErrMemoryLimitExceeded)
	require.NoError(t, c.ResizeMemory(100, 10))
	assert.Equal(t, int64(10), c.MemoryUsage())
}

func TestController_ConcurrentMemory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 1000})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.AcquireMemory(30) == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 33, granted)
	assert.Equal(t, int64(990), c.MemoryUsage())
}

func TestController_Unlimited(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.AcquireMemory(1<<40))
	assert.Zero(t, c.MemoryLimit())
	require.NoError(t, c.AcquireIO(t.Context(), 1<<30))
	assert.Equal(t, int64(1<<30), c.IOBytes())
}

func TestController_Workers(t *testing.T) {
	c := NewController(Config{PagerWorkers: 2})

	require.NoError(t, c.AcquireWorker(t.Context()))
	assert.True(t, c.TryAcquireWorker())
	assert.False(t, c.TryAcquireWorker())

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireWorker(ctx))

	c.ReleaseWorker()
	assert.True(t, c.TryAcquireWorker())
}

func TestController_IO(t *testing.T) {
	c := NewController(Config{IOBytesPerSec: 1000})
	require.NoError(t, c.AcquireIO(t.Context(), 100))

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.AcquireIO(ctx, 1500))
	assert.Equal(t, int64(1600), c.IOBytes())
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	require.NoError(t, c.AcquireMemory(10))
	c.ReleaseMemory(10)
	require.NoError(t, c.ResizeMemory(0, 10))
	require.NoError(t, c.AcquireWorker(t.Context()))
	assert.True(t, c.TryAcquireWorker())
	c.ReleaseWorker()
	require.NoError(t, c.AcquireIO(t.Context(), 10))
	assert.Zero(t, c.MemoryUsage())
	assert.Zero(t, c.MemoryPeak())
	assert.Zero(t, c.IOBytes())
}

func TestThrottle(t *testing.T) {
	var buf bytes.Buffer
	assert.Same(t, &buf, Throttle(t.Context(), &buf, nil))

	c := NewController(Config{})
	n, err := Throttle(t.Context(), &buf, c).Write([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "payload", buf.String())
	assert.Equal(t, int64(7), c.IOBytes())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = Throttle(ctx, &buf, NewController(Config{IOBytesPerSec: 1})).Write(make([]byte, 64))
	assert.Error(t, err)
}
