// Package traverse implements the point extraction engine behind queries.
//
// ReadPoints walks the scene with a condition, samples each voxel according
// to a density setting and copies accepted points into caller buffers. It is
// bounded by the buffer size and resumable: the State it returns is passed
// to the next call, which continues at the exact next point. Remote voxels
// are not loaded one by one; they are collected and fetched in one batch when
// the buffer could fill, or when the scene is exhausted.
//
// Select and Count share the node pruning of ReadPoints to set selection bits
// and to count qualifying points.
package traverse

import (
	"context"
	"errors"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/pointq/condition"
	"github.com/hupe1980/pointq/density"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/pager"
	"github.com/hupe1980/pointq/stream"
)

var (
	// ErrBufferSize is returned for a buffer size below one.
	ErrBufferSize = errors.New("traverse: buffer size must be positive")
	// ErrNoBuffers is returned when no output buffer is given.
	ErrNoBuffers = errors.New("traverse: no output buffer")
	// ErrShortBuffer is returned when an output buffer cannot hold the
	// requested number of points.
	ErrShortBuffer = errors.New("traverse: buffer too short")
	// ErrUnsupportedStride is returned for buffer combinations the engine
	// does not implement.
	ErrUnsupportedStride = errors.New("traverse: unsupported buffer stride combination")
)

// Streamer batches remote voxel reads. *stream.Manager implements it.
type Streamer interface {
	Begin()
	End()
	AddReadVoxel(v index.Voxel, amount float64)
	ProcessReads(ctx context.Context) (*roaring64.Bitmap, error)
}

var _ Streamer = (*stream.Manager)(nil)

// Params configures one traversal.
type Params struct {
	Scene index.Scene
	// Roots restricts the traversal to a subset of the scene's roots.
	// Defaults to every root.
	Roots     []index.Node
	Condition condition.Condition
	Density   density.Type
	Coeff     float64
	// LayerMask selects the layers to read. Zero means every layer.
	LayerMask uint8
	Space     index.CoordSpace
	RGBMode   RGBMode
	Highlight [3]uint8
	// Order returns the order in which the children of n are visited.
	// Defaults to octant order.
	Order func(n index.Node) []int
	// Stream batches remote reads. Defaults to a private stream.Manager.
	Stream Streamer
	// Grid keeps one point per cell for density.Spatial.
	Grid *Grid
	// TryLock skips voxels whose lock is held instead of waiting.
	TryLock bool
	Logger  *slog.Logger
}

var octants = []int{0, 1, 2, 3, 4, 5, 6, 7}

func (p Params) withDefaults() Params {
	if p.Roots == nil && p.Scene != nil {
		p.Roots = p.Scene.Roots()
	}
	if p.Condition == nil {
		p.Condition = condition.Null{}
	}
	p.Condition = p.Condition.Clone()
	if p.LayerMask == 0 {
		p.LayerMask = index.LayerBits
	}
	if p.Order == nil {
		p.Order = func(index.Node) []int { return octants }
	}
	if p.Stream == nil {
		p.Stream = stream.New()
	}
	if p.Logger == nil {
		p.Logger = slog.New(slog.DiscardHandler)
	}
	return p
}

func (p *Params) lock(v index.Voxel) bool {
	if p.TryLock {
		return v.TryLock()
	}
	v.Lock()
	return true
}

// State is the resumption state carried between ReadPoints calls.
type State struct {
	// Resume is set once a point has been examined. Voxel and Point name the
	// next point to examine.
	Resume bool
	Voxel  uint64
	Point  int
	// Partial is the ID of a voxel left pinned because the buffer filled
	// inside it, zero if none. PartialLOD is the LOD to restore it to.
	Partial    uint64
	PartialLOD float64
	// Done is set when the traversal reached the end of the scene.
	Done bool
}

// Release unpins the partially read voxel of st and restores its LOD. It
// returns st without the partial voxel.
func (st State) Release(scene index.Scene) State {
	if st.Partial != 0 && scene != nil {
		releasePartial(scene, st.Partial, st.PartialLOD)
	}
	st.Partial, st.PartialLOD = 0, 0
	return st
}

func releasePartial(scene index.Scene, id uint64, lod float64) {
	v, ok := scene.Voxel(id)
	if !ok {
		return
	}
	v.Lock()
	defer v.Unlock()
	v.Unpin()
	if !v.Pinned() && v.Flag(index.FlagOutOfCore) {
		v.UnloadLOD(lod)
	}
}

// PointID locates an emitted point for write-back.
type PointID struct {
	Voxel uint64
	Index int
}

// Result reports one ReadPoints call.
type Result struct {
	// N is the number of points written.
	N     int
	State State
	// Trace holds the origin of every written point in output order.
	Trace []PointID
	// Deferred counts remote voxels flushed in batches, Failed the voxels
	// whose load failed and Busy the voxels skipped by TryLock.
	Deferred int
	Failed   int
	Busy     int
}

// check runs the node protocol. ok is false when the node is pruned.
func check(c condition.Condition, n index.Node, space index.CoordSpace) (whole, ok bool) {
	if !c.NodeCheck(n) || !c.BoundsCheck(n.Extents(space)) || c.EscapeWhole(n) {
		return false, false
	}
	return c.ProcessWhole(n), true
}

// newLoader prepares v for reading amount, remembering its previous LOD.
// The caller holds the lock.
func newLoader(ctx context.Context, p *Params, v index.Voxel) (*pager.VoxelLoader, float64) {
	amount, load := density.Prepare(p.Density, p.Coeff, v)
	return pager.NewVoxelLoader(ctx, v, amount, load), amount
}
