// Package stream batches remote voxel reads.
//
// A traversal opens a session with Begin, queues the remote voxels it wants
// with AddReadVoxel and fetches them together with ProcessReads, which runs
// the reads in parallel under the resource controller's IO budget. Failed
// reads are reported per voxel so a caller can treat them as empty.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/resource"
)

const DefaultParallelism = 8

type options struct {
	parallelism int
	rc          *resource.Controller
	logger      *slog.Logger
}

// Option configures a Manager.
type Option func(*options)

// WithParallelism bounds the number of concurrent reads in ProcessReads.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithResourceController charges reads against the controller's IO budget.
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

type request struct {
	v      index.Voxel
	amount float64
}

// Manager collects and performs batched remote reads. It is safe for
// concurrent use, but a session is meant to be driven by one traversal.
type Manager struct {
	opts options

	mu       sync.Mutex
	sessions int
	pending  []request
	queued   *roaring64.Bitmap
	lastErr  error

	batches atomic.Int64
	fetched atomic.Int64
	failed  atomic.Int64
	bytes   atomic.Int64
}

// New creates a Manager.
func New(optFns ...Option) *Manager {
	o := options{
		parallelism: DefaultParallelism,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return &Manager{opts: o, queued: roaring64.New()}
}

// Begin opens a read session.
func (m *Manager) Begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions++
}

// End closes a read session. Reads still queued when the last session ends
// are dropped.
func (m *Manager) End() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions > 0 {
		m.sessions--
	}
	if m.sessions == 0 && len(m.pending) > 0 {
		m.opts.logger.Debug("dropping unprocessed reads", "voxels", len(m.pending))
		m.pending = nil
		m.queued.Clear()
	}
}

// AddReadVoxel queues v to be loaded to amount. Queuing a voxel twice keeps
// the larger amount.
func (m *Manager) AddReadVoxel(v index.Voxel, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queued.Contains(v.ID()) {
		for i := range m.pending {
			if m.pending[i].v.ID() == v.ID() {
				m.pending[i].amount = max(m.pending[i].amount, amount)
				return
			}
		}
	}
	m.queued.Add(v.ID())
	m.pending = append(m.pending, request{v: v, amount: amount})
}

// Pending returns the number of queued reads.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// ProcessReads fetches every queued voxel and empties the queue. It returns
// the IDs of voxels whose read failed together with the combined error. The
// caller must not hold any of the voxels' locks.
func (m *Manager) ProcessReads(ctx context.Context) (*roaring64.Bitmap, error) {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.queued.Clear()
	m.mu.Unlock()

	failed := roaring64.New()
	if len(batch) == 0 {
		return failed, nil
	}

	var (
		mu   sync.Mutex
		errs error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.parallelism)
	for _, r := range batch {
		g.Go(func() error {
			err := m.fetch(gctx, r)
			if err != nil {
				mu.Lock()
				failed.Add(r.v.ID())
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			// A failed voxel must not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	m.batches.Add(1)
	m.failed.Add(int64(failed.GetCardinality()))

	m.mu.Lock()
	m.lastErr = errs
	m.mu.Unlock()

	if errs != nil {
		m.opts.logger.Warn("remote reads failed", "voxels", failed.GetCardinality(), "error", errs)
	}
	m.opts.logger.Debug("batch processed", "voxels", len(batch), "failed", failed.GetCardinality())
	return failed, errs
}

func (m *Manager) fetch(ctx context.Context, r request) error {
	n := r.v.PayloadBytes(r.amount)
	if err := m.opts.rc.AcquireIO(ctx, int(n)); err != nil {
		return err
	}
	if err := r.v.FetchLOD(ctx, r.amount); err != nil {
		return err
	}
	m.fetched.Add(1)
	m.bytes.Add(n)
	return nil
}

// Err returns the error of the last ProcessReads call.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Stats is a snapshot of the manager's counters.
type Stats struct {
	Batches int64
	Fetched int64
	Failed  int64
	Bytes   int64
}

// Stats returns the counters accumulated since New.
func (m *Manager) Stats() Stats {
	return Stats{
		Batches: m.batches.Load(),
		Fetched: m.fetched.Load(),
		Failed:  m.failed.Load(),
		Bytes:   m.bytes.Load(),
	}
}
