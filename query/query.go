// Package query implements point queries over a scene.
//
// A Query owns its configuration (density, scope, layers, colour mode) and
// its resumption state. Each Run copies the next points into caller buffers;
// repeated calls enumerate every qualifying point once, after which Run
// returns zero until the query is reset.
//
//	q := query.New(scene, condition.Box(box))
//	buf := &query.Buffers{Geometry: make([]float64, 3*1024)}
//	for {
//		n, err := q.Run(ctx, 1024, buf)
//		if err != nil || n == 0 {
//			break
//		}
//		consume(buf.Geometry[:3*n])
//	}
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/pointq/condition"
	"github.com/hupe1980/pointq/density"
	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/internal/traverse"
)

type (
	// Buffers are the caller-owned outputs of Run.
	Buffers = traverse.Buffers
	// ChannelBuffer receives a user channel in RunDetailed.
	ChannelBuffer = traverse.ChannelBuffer
	// RGBMode selects the colour written to the RGB buffer.
	RGBMode = traverse.RGBMode
	// State is the resumption state of a query.
	State = traverse.State
	// Result reports the last Run.
	Result = traverse.Result
	// PointID locates a returned point.
	PointID = traverse.PointID
	// Point is one output point with its standard channels.
	Point = traverse.Point
)

const (
	RGBActual    = traverse.RGBActual
	RGBSelection = traverse.RGBSelection
	RGBIntensity = traverse.RGBIntensity
)

var (
	// ErrGridAllocation is returned by Run when the spatial sampling grid
	// cannot be allocated. The query stays resumable.
	ErrGridAllocation = traverse.ErrGridAllocation
	// ErrInvalidDensity is returned for a density the query cannot use.
	ErrInvalidDensity = errors.New("query: invalid density")
	// ErrBufferSize, ErrNoBuffers, ErrShortBuffer and ErrUnsupportedStride
	// report malformed Run parameters.
	ErrBufferSize        = traverse.ErrBufferSize
	ErrNoBuffers         = traverse.ErrNoBuffers
	ErrShortBuffer       = traverse.ErrShortBuffer
	ErrUnsupportedStride = traverse.ErrUnsupportedStride
)

// Query is a resumable point query. It is safe for concurrent use; calls are
// serialized.
type Query struct {
	scene index.Scene
	cond  condition.Condition
	kind  Kind
	order func(index.Node) []int
	opts  options

	mu      sync.Mutex
	density density.Type
	coeff   float64
	// limitCoeff caches the sampling fraction of density.Limit.
	limitCoeff float64
	limitValid bool
	scope      *roaring.Bitmap
	layers     uint8
	rgbMode    RGBMode

	state traverse.State
	grid  *traverse.Grid
	last  traverse.Result
}

// New creates a query that returns the points of scene accepted by cond.
// A nil cond accepts every point.
func New(scene index.Scene, cond condition.Condition, optFns ...Option) *Query {
	return newQuery(KindGeneric, scene, cond, optFns)
}

func newQuery(kind Kind, scene index.Scene, cond condition.Condition, optFns []Option) *Query {
	if cond == nil {
		cond = condition.Null{}
	}
	return &Query{
		scene:   scene,
		cond:    cond,
		kind:    kind,
		opts:    applyOptions(optFns),
		density: density.Full,
		coeff:   1,
	}
}

// Kind returns the kind of the query.
func (q *Query) Kind() Kind { return q.kind }

// Condition returns the query's condition.
func (q *Query) Condition() condition.Condition { return q.cond }

// SetDensity sets the sampling of every voxel and resets the query. For
// density.Limit coeff is the number of points the whole query should
// return; for density.Spatial it is the grid cell edge.
func (q *Query) SetDensity(t density.Type, coeff float64) error {
	if math.IsNaN(coeff) || coeff < 0 || t > density.Spatial {
		return fmt.Errorf("%w: %s with coefficient %v", ErrInvalidDensity, t, coeff)
	}
	if t == density.Spatial && coeff == 0 {
		return fmt.Errorf("%w: spatial density needs a positive cell size", ErrInvalidDensity)
	}
	if q.kind == KindAnalytical && (t == density.View || t == density.ViewComplete) {
		return fmt.Errorf("%w: analytical queries do not follow the view", ErrInvalidDensity)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.density, q.coeff = t, coeff
	q.limitValid = false
	q.resetLocked()
	return nil
}

// Density returns the density setting.
func (q *Query) Density() (density.Type, float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.density, q.coeff
}

// SetScope restricts the query to the given clouds and resets it. No IDs
// means every cloud.
func (q *Query) SetScope(clouds ...uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(clouds) == 0 {
		q.scope = nil
	} else {
		q.scope = roaring.BitmapOf(clouds...)
	}
	q.limitValid = false
	q.resetLocked()
}

// SetLayers restricts the query to points on the layers of mask and resets
// it. Zero means every layer.
func (q *Query) SetLayers(mask uint8) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.layers = mask
	q.limitValid = false
	q.resetLocked()
}

// SetRGBMode sets the colour written to the RGB buffer. The query is not
// reset.
func (q *Query) SetRGBMode(m RGBMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rgbMode = m
}

// Reset restarts the query from the first point and frees its sampling grid.
func (q *Query) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetLocked()
}

// Close releases the resources held by the query.
func (q *Query) Close() error {
	q.Reset()
	return nil
}

func (q *Query) resetLocked() {
	q.state = q.state.Release(q.scene)
	q.state = traverse.State{}
	if q.grid != nil {
		q.grid.Release()
		q.grid = nil
	}
	q.last = traverse.Result{}
}

// Done reports whether the query has returned every point.
func (q *Query) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.Done
}

// State returns the resumption state.
func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Last returns the report of the last successful Run.
func (q *Query) Last() Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}

// Run copies up to size points into buf and returns their number. Zero
// means the query is exhausted. A spatial grid allocation failure returns
// -1 and ErrGridAllocation; the next Run retries the same points.
func (q *Query) Run(ctx context.Context, size int, buf *Buffers) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.runLocked(ctx, size, buf)
}

// RunDetailed is Run that also copies the given user channels.
func (q *Query) RunDetailed(ctx context.Context, size int, buf *Buffers, channels []ChannelBuffer) (int, error) {
	b := Buffers{}
	if buf != nil {
		b = *buf
	}
	b.Channels = channels

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.runLocked(ctx, size, &b)
}

func (q *Query) runLocked(ctx context.Context, size int, buf *Buffers) (int, error) {
	if err := buf.Validate(size); err != nil {
		return 0, err
	}
	if q.density != density.View {
		release := q.opts.pager.Pause()
		defer release()
	}

	p, err := q.params(ctx)
	if err != nil {
		if errors.Is(err, ErrGridAllocation) {
			return -1, err
		}
		return 0, err
	}

	res, err := traverse.ReadPoints(ctx, p, buf, size, q.state)
	q.state = res.State
	if err != nil {
		if errors.Is(err, ErrGridAllocation) {
			q.opts.logger.Error("spatial grid allocation failed", "kind", q.kind, "error", err)
			return -1, err
		}
		return 0, err
	}
	q.last = res
	q.opts.logger.Debug("query run", "kind", q.kind, "density", q.density, "points", res.N,
		"deferred", res.Deferred, "failed", res.Failed, "done", res.State.Done)
	return res.N, nil
}

// Select sets (on) or clears the selection of every point the query accepts
// and returns their number.
func (q *Query) Select(ctx context.Context, on bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	release := q.opts.pager.Pause()
	defer release()

	p := q.baseParams()
	n, err := traverse.Select(ctx, p, on)
	q.opts.logger.Debug("query select", "kind", q.kind, "select", on, "points", n)
	return n, err
}

// SubmitChannelUpdate writes data, Stride() bytes per point, into ch for the
// points returned by the last Run, in the order they were returned.
func (q *Query) SubmitChannelUpdate(ch index.UserChannel, data []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ch == nil {
		return 0, fmt.Errorf("%w: user channel without handle", ErrNoBuffers)
	}
	return traverse.WriteBack(q.scene, q.last.Trace, ch, data)
}

// ComputeNumPoints returns the number of points the query accepts at full
// density.
func (q *Query) ComputeNumPoints(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	release := q.opts.pager.Pause()
	defer release()
	return traverse.Count(ctx, q.baseParams())
}

func (q *Query) baseParams() traverse.Params {
	roots := q.roots()
	return traverse.Params{
		Scene:     q.scene,
		Roots:     roots,
		Condition: q.cond,
		Density:   q.density,
		Coeff:     q.coeff,
		LayerMask: q.layers,
		Space:     q.opts.space,
		RGBMode:   q.rgbMode,
		Highlight: q.opts.highlight,
		Order:     q.order,
		Stream:    q.opts.stream,
		TryLock:   q.opts.tryLock,
		Logger:    q.opts.logger,
	}
}

// params completes baseParams with the state the density needs. The caller
// holds q.mu.
func (q *Query) params(ctx context.Context) (traverse.Params, error) {
	p := q.baseParams()
	switch q.density {
	case density.Limit:
		if !q.limitValid {
			total, err := traverse.Count(ctx, p)
			if err != nil {
				return p, err
			}
			q.limitCoeff = density.LimitCoefficient(int64(q.coeff), total)
			q.limitValid = true
			q.opts.logger.Debug("limit coefficient", "limit", int64(q.coeff), "total", total, "coefficient", q.limitCoeff)
		}
		p.Coeff = q.limitCoeff
	case density.Spatial:
		if q.grid == nil {
			g, err := traverse.NewGrid(q.bounds(p.Roots), q.coeff, q.opts.rc)
			if err != nil {
				q.opts.logger.Error("spatial grid allocation failed", "kind", q.kind, "cell", q.coeff, "error", err)
				return p, err
			}
			q.grid = g
		}
		p.Grid = q.grid
	}
	return p, nil
}

// roots returns the scene roots in scope, ordered for the query kind.
func (q *Query) roots() []index.Node {
	if q.scene == nil {
		return nil
	}
	all := q.scene.Roots()
	roots := make([]index.Node, 0, len(all))
	for _, r := range all {
		if q.scope == nil || q.scope.Contains(r.CloudID()) {
			roots = append(roots, r)
		}
	}
	if q.kind == KindFrustum {
		sortByDistance(roots, q.eye(), q.opts.space)
	}
	return roots
}

func (q *Query) bounds(roots []index.Node) geom.Box {
	b := geom.EmptyBox()
	for _, r := range roots {
		b = b.Union(r.Extents(q.opts.space))
	}
	return b
}
