// Package knn finds the k nearest points of a scene for a set of query
// vertices.
//
// The search is branch and bound over the scene hierarchy. Nodes are refined
// nearest first, measured from the bounding box of all vertices, until the
// collected leaves hold at least k points and no unrefined node can be
// closer than the farthest collected leaf. Each vertex then scans these
// leaves nearest first into a bounded max-heap. Once some vertices are
// solved, their k-th distances bound the search radius of the next vertex.
package knn

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/density"
	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/internal/queue"
	"github.com/hupe1980/pointq/internal/traverse"
	"github.com/hupe1980/pointq/pager"
	"github.com/hupe1980/pointq/stream"
)

// ErrInvalidK is returned for k below one.
var ErrInvalidK = errors.New("knn: k must be positive")

// seedSlack widens the coherence radius against rounding.
const seedSlack = 1e-9

// Neighbour is one nearest point.
type Neighbour struct {
	Voxel uint64
	Index int
	Pos   r3.Vector
	Dist2 float64

	// Channels copied while the voxel was resident. RGB is white when the
	// cloud has no colour.
	RGB            [3]uint8
	Intensity      int16
	Classification uint8
	Filter         uint8
}

// Result holds the neighbours of every vertex, nearest first, in vertex
// order.
type Result struct {
	Neighbours [][]Neighbour
	// Volumes is the number of voxels searched, Failed the number whose
	// load failed.
	Volumes int
	Failed  int
	// Scanned counts distance evaluations.
	Scanned int64
}

// Searcher runs nearest neighbour searches over a scene.
type Searcher struct {
	scene index.Scene
	opts  options
}

// New creates a Searcher.
func New(scene index.Scene, optFns ...Option) *Searcher {
	o := options{
		lod:       1,
		coherence: DefaultCoherence,
		space:     index.SpaceProject,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.layers == 0 {
		o.layers = index.LayerBits
	}
	if o.stream == nil {
		o.stream = stream.New(stream.WithLogger(o.logger))
	}
	return &Searcher{scene: scene, opts: o}
}

type volume struct {
	node     index.Node
	box      geom.Box
	min, max float64
	points   []Neighbour
}

// Search returns the k nearest points of every vertex. A vertex gets fewer
// than k neighbours only when the scope holds fewer points.
func (s *Searcher) Search(ctx context.Context, vertices []r3.Vector, k int) (*Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	res := &Result{Neighbours: make([][]Neighbour, len(vertices))}
	if len(vertices) == 0 {
		return res, nil
	}

	release := s.opts.pager.Pause()
	defer release()

	qbox := geom.BoxOf(vertices...)
	vols := s.neighbourhood(qbox, k)
	res.Volumes = len(vols)

	if err := s.load(ctx, vols, res); err != nil {
		return nil, err
	}

	var solved []int
	for i, q := range vertices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bound := s.seed(vertices, res.Neighbours, solved, q, k)
		res.Neighbours[i] = s.searchVertex(q, k, bound, vols, &res.Scanned)
		if len(res.Neighbours[i]) == k && s.opts.coherence > 0 {
			solved = append(solved, i)
			if len(solved) > s.opts.coherence {
				solved = solved[1:]
			}
		}
	}

	s.opts.logger.Debug("knn search", "vertices", len(vertices), "k", k, "volumes", res.Volumes,
		"failed", res.Failed, "scanned", res.Scanned)
	return res, nil
}

// neighbourhood collects the leaves that can hold a nearest point of any
// vertex inside qbox.
func (s *Searcher) neighbourhood(qbox geom.Box, k int) []*volume {
	pq := queue.NewMin[*volume](16)
	push := func(n index.Node) {
		if n == nil || n.NumPointsAtLOD(s.opts.lod) == 0 {
			return
		}
		b := n.Extents(s.opts.space)
		v := &volume{node: n, box: b, min: qbox.MinDist2Box(b), max: qbox.MaxDist2Box(b)}
		pq.Push(v, v.min)
	}

	var scope *roaring.Bitmap
	if len(s.opts.scope) > 0 {
		scope = roaring.BitmapOf(s.opts.scope...)
	}
	for _, r := range s.scene.Roots() {
		if scope == nil || scope.Contains(r.CloudID()) {
			push(r)
		}
	}

	var (
		out      []*volume
		count    int
		farthest float64
		prune    = math.Inf(1)
	)
	for pq.Len() > 0 {
		it, _ := pq.Pop()
		v := it.Value
		if v.min > prune {
			break
		}
		if !v.node.IsLeaf() {
			for i := range 8 {
				push(v.node.Child(i))
			}
			continue
		}
		n := s.eligible(v.node)
		if n == 0 {
			continue
		}
		out = append(out, v)
		count += n
		farthest = max(farthest, v.max)
		if count >= k {
			prune = farthest
		}
	}
	return out
}

// eligible counts the points of a leaf at the search LOD that lie on the
// searched layers. Filter bytes are resident even when the payload is not.
func (s *Searcher) eligible(n index.Node) int {
	total := n.NumPointsAtLOD(s.opts.lod)
	v, ok := n.(index.Voxel)
	if !ok {
		return total
	}
	v.Lock()
	defer v.Unlock()
	count := 0
	for i := range total {
		if v.Filter(i)&s.opts.layers != 0 {
			count++
		}
	}
	return count
}

// load copies the points of every volume and restores the voxels. Remote
// voxels are fetched in one batch first.
func (s *Searcher) load(ctx context.Context, vols []*volume, res *Result) error {
	m := s.opts.stream
	m.Begin()
	defer m.End()

	fetched := roaring64.New()
	for _, vol := range vols {
		v, ok := vol.node.(index.Voxel)
		if !ok || !v.Remote() {
			continue
		}
		v.Lock()
		if _, load := density.Prepare(density.Full, s.opts.lod, v); load {
			m.AddReadVoxel(v, s.opts.lod)
			fetched.Add(v.ID())
		}
		v.Unlock()
	}

	failed, err := m.ProcessReads(ctx)
	if err != nil {
		s.opts.logger.Warn("neighbourhood voxels failed to load", "voxels", failed.GetCardinality(), "error", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, vol := range vols {
		v, ok := vol.node.(index.Voxel)
		if !ok {
			continue
		}
		if failed.Contains(v.ID()) {
			res.Failed++
			continue
		}
		if err := s.copyPoints(ctx, vol, v, fetched.Contains(v.ID())); err != nil {
			res.Failed++
			s.opts.logger.Warn("voxel load failed", "voxel", v.ID(), "error", err)
		}
	}
	return nil
}

func (s *Searcher) copyPoints(ctx context.Context, vol *volume, v index.Voxel, fetched bool) error {
	v.Lock()
	defer v.Unlock()

	var l *pager.VoxelLoader
	if fetched {
		l = pager.Adopt(v)
	} else {
		amount, load := density.Prepare(density.Full, s.opts.lod, v)
		l = pager.NewVoxelLoader(ctx, v, amount, load)
	}
	defer l.Release()
	if err := l.Err(); err != nil {
		return err
	}

	id := v.ID()
	vol.points = make([]Neighbour, 0, v.NumPointsAtLOD(s.opts.lod))
	v.IteratePoints(s.opts.space, s.opts.layers, s.opts.lod, 0, func(i int, pos r3.Vector, f *uint8) bool {
		vol.points = append(vol.points, Neighbour{
			Voxel:          id,
			Index:          i,
			Pos:            pos,
			RGB:            traverse.ActualColor(v, i),
			Intensity:      v.Intensity(i),
			Classification: v.Classification(i),
			Filter:         *f,
		})
		return true
	})
	return nil
}

// seed bounds the k-th distance of q by the solved vertices: every
// neighbour of a solved vertex p lies within |q-p| + kth(p) of q.
func (s *Searcher) seed(vertices []r3.Vector, found [][]Neighbour, solved []int, q r3.Vector, k int) float64 {
	bound := math.Inf(1)
	for _, j := range solved {
		r := math.Sqrt(q.Sub(vertices[j]).Norm2()) + math.Sqrt(found[j][k-1].Dist2)
		bound = min(bound, r*r)
	}
	if math.IsInf(bound, 1) {
		return bound
	}
	return bound*(1+seedSlack) + seedSlack
}

func (s *Searcher) searchVertex(q r3.Vector, k int, bound float64, vols []*volume, scanned *int64) []Neighbour {
	order := make([]int, len(vols))
	dist := make([]float64, len(vols))
	for i, v := range vols {
		order[i] = i
		dist[i] = v.box.MinDist2(q)
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(dist[a], dist[b]) })

	best := queue.NewMax[Neighbour](k)
	for _, vi := range order {
		limit := bound
		if best.Len() == k {
			top, _ := best.Peek()
			limit = min(limit, top.Priority)
		}
		if dist[vi] > limit {
			break
		}
		for _, p := range vols[vi].points {
			d2 := p.Pos.Sub(q).Norm2()
			*scanned++
			if d2 > bound {
				continue
			}
			best.Offer(p, d2, k)
		}
	}

	items := best.Drain()
	out := make([]Neighbour, len(items))
	for i, it := range items {
		out[i] = it.Value
		out[i].Dist2 = it.Priority
	}
	return out
}
