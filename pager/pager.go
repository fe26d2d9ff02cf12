// Package pager keeps voxel residency close to the LOD the renderer asks for.
//
// A Pager periodically walks the scene, loads voxels below their requested
// LOD and evicts unpinned voxels above it. Queries that need a stable view of
// residency pause it for their duration.
package pager

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/resource"
)

const DefaultInterval = 250 * time.Millisecond

type options struct {
	interval time.Duration
	rc       *resource.Controller
	logger   *slog.Logger
}

// Option configures a Pager.
type Option func(*options)

// WithInterval sets the delay between passes.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithResourceController bounds loads by the controller's background slots.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Pager is the background residency manager. A nil *Pager is valid and does
// nothing.
type Pager struct {
	scene index.Scene
	opts  options

	paused atomic.Int32
	passMu sync.Mutex

	loaded  atomic.Int64
	evicted atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped Pager for scene.
func New(scene index.Scene, optFns ...Option) *Pager {
	o := options{
		interval: DefaultInterval,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return &Pager{scene: scene, opts: o}
}

// Start runs passes in a background goroutine until Stop or ctx is done.
func (p *Pager) Start(ctx context.Context) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		t := time.NewTicker(p.opts.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, _, err := p.Step(ctx); err != nil && ctx.Err() == nil {
					p.opts.logger.Warn("pager pass failed", "error", err)
				}
			}
		}
	}(p.done)
}

// Stop ends the background goroutine and waits for it.
func (p *Pager) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Pause stops passes until the returned release func is called. It waits for
// a pass in progress to finish. Pauses nest.
func (p *Pager) Pause() (release func()) {
	if p == nil {
		return func() {}
	}
	p.paused.Add(1)
	p.passMu.Lock()
	p.passMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.paused.Add(-1) })
	}
}

// Paused reports whether at least one pause is held.
func (p *Pager) Paused() bool {
	return p != nil && p.paused.Load() > 0
}

// Step runs one pass over the scene. Busy voxels are skipped. A paused pager
// does nothing.
func (p *Pager) Step(ctx context.Context) (loaded, evicted int, err error) {
	if p == nil {
		return 0, 0, nil
	}
	p.passMu.Lock()
	defer p.passMu.Unlock()

	for _, root := range p.scene.Roots() {
		for _, v := range index.Voxels(root) {
			if p.Paused() {
				return loaded, evicted, nil
			}
			if err := ctx.Err(); err != nil {
				return loaded, evicted, err
			}

			l, e, err := p.page(ctx, v)
			if err != nil {
				p.opts.logger.Debug("voxel load failed", "voxel", v.ID(), "error", err)
				continue
			}
			if l {
				loaded++
			}
			if e {
				evicted++
			}
		}
	}

	p.loaded.Add(int64(loaded))
	p.evicted.Add(int64(evicted))
	return loaded, evicted, nil
}

func (p *Pager) page(ctx context.Context, v index.Voxel) (loaded, evicted bool, err error) {
	if !v.TryLock() {
		return false, false, nil
	}
	defer v.Unlock()

	target, cur := v.RequestLOD(), v.CurrentLOD()
	switch {
	case cur < target:
		if !p.opts.rc.TryAcquireWorker() {
			return false, false, nil
		}
		defer p.opts.rc.ReleaseWorker()
		if err := v.LoadLOD(ctx, target); err != nil {
			return false, false, err
		}
		return true, false, nil
	case cur > target && !v.Pinned() && v.Flag(index.FlagOutOfCore):
		v.UnloadLOD(target)
		return false, true, nil
	}
	return false, false, nil
}

// Stats returns the number of loads and evictions since New.
func (p *Pager) Stats() (loaded, evicted int64) {
	if p == nil {
		return 0, 0
	}
	return p.loaded.Load(), p.evicted.Load()
}
