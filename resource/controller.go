// Package resource holds the budgets shared by queries, the pager and the
// stream manager:
//
//   - memory for resident voxel payloads, sampling grids and cached blocks
//   - pager worker slots
//   - bytes per second fetched from or written to blob stores
//
// A nil *Controller is valid and imposes no limits.
package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would pass the
// memory limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds the limits of a Controller. Zero values mean unlimited,
// except PagerWorkers which defaults to 1.
type Config struct {
	MemoryLimitBytes int64
	PagerWorkers     int64
	IOBytesPerSec    int64
}

// Controller tracks memory, pager workers and IO throughput.
type Controller struct {
	limit   int64
	memUsed atomic.Int64
	memPeak atomic.Int64

	workers *semaphore.Weighted

	io      *rate.Limiter
	ioBytes atomic.Int64
}

func NewController(cfg Config) *Controller {
	c := &Controller{
		limit:   max(cfg.MemoryLimitBytes, 0),
		workers: semaphore.NewWeighted(max(cfg.PagerWorkers, 1)),
	}
	if cfg.IOBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOBytesPerSec), int(cfg.IOBytesPerSec))
	}
	return c
}

// AcquireMemory reserves bytes or fails with ErrMemoryLimitExceeded. It
// never blocks.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	for {
		used := c.memUsed.Load()
		if c.limit > 0 && used+bytes > c.limit {
			return ErrMemoryLimitExceeded
		}
		if c.memUsed.CompareAndSwap(used, used+bytes) {
			c.notePeak(used + bytes)
			return nil
		}
	}
}

func (c *Controller) notePeak(used int64) {
	for {
		peak := c.memPeak.Load()
		if used <= peak || c.memPeak.CompareAndSwap(peak, used) {
			return
		}
	}
}

func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	c.memUsed.Add(-bytes)
}

// ResizeMemory moves a reservation from old to new bytes. A failed grow
// keeps the old reservation.
func (c *Controller) ResizeMemory(old, new int64) error {
	if new > old {
		return c.AcquireMemory(new - old)
	}
	c.ReleaseMemory(old - new)
	return nil
}

func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryPeak is the highest reservation seen.
func (c *Controller) MemoryPeak() int64 {
	if c == nil {
		return 0
	}
	return c.memPeak.Load()
}

// MemoryLimit is 0 when memory is only tracked.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.limit
}

// TryAcquireWorker claims a pager worker slot without blocking.
func (c *Controller) TryAcquireWorker() bool {
	return c == nil || c.workers.TryAcquire(1)
}

// AcquireWorker waits for a pager worker slot.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workers.Acquire(ctx, 1)
}

func (c *Controller) ReleaseWorker() {
	if c != nil {
		c.workers.Release(1)
	}
}

// AcquireIO waits until bytes fit the IO rate. Requests above one second
// of budget wait in burst sized steps.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.io != nil {
		step := c.io.Burst()
		for left := bytes; left > 0; left -= step {
			if err := c.io.WaitN(ctx, min(left, step)); err != nil {
				return err
			}
		}
	}
	c.ioBytes.Add(int64(bytes))
	return nil
}

// IOBytes is the total admitted by AcquireIO.
func (c *Controller) IOBytes() int64 {
	if c == nil {
		return 0
	}
	return c.ioBytes.Load()
}
