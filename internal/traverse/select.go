package traverse

import (
	"context"

	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/density"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/pager"
)

// Select sets (on) or clears the selection bit of every point accepted by
// p.Condition and returns the number of points visited. Voxels are loaded
// as needed. Afterwards the selection flags of every visited voxel and of
// its ancestors describe the new selection.
func Select(ctx context.Context, p Params, on bool) (int, error) {
	p = p.withDefaults()
	s := &selector{ctx: ctx, p: &p, on: on}
	for _, root := range p.Roots {
		s.visit(root)
		if err := ctx.Err(); err != nil {
			return s.count, err
		}
	}
	p.Logger.Debug("selection updated", "select", on, "points", s.count, "failed", s.failed)
	return s.count, nil
}

type selector struct {
	ctx    context.Context
	p      *Params
	on     bool
	count  int
	failed int
}

// visit returns whether the subtree has any and whether it has only
// selected points.
func (s *selector) visit(n index.Node) (anySel, allSel bool) {
	whole, ok := check(s.p.Condition, n, s.p.Space)
	if !ok || s.ctx.Err() != nil {
		return selectionFlags(n)
	}

	if n.IsLeaf() {
		v, ok := n.(index.Voxel)
		if !ok {
			return selectionFlags(n)
		}
		return s.voxel(v, whole)
	}

	anySel, allSel = false, true
	for _, i := range s.p.Order(n) {
		c := n.Child(i)
		if c == nil {
			continue
		}
		a, b := s.visit(c)
		anySel = anySel || a
		allSel = allSel && b
	}
	setSelectionFlags(n, anySel, allSel)
	return anySel, allSel
}

func (s *selector) voxel(v index.Voxel, whole bool) (bool, bool) {
	if !s.p.lock(v) {
		return selectionFlags(v)
	}
	defer v.Unlock()

	l, amount := newLoader(s.ctx, s.p, v)
	if v.CurrentLOD() < amount && !l.Elevated() && l.Err() == nil {
		// Selection always loads, whatever the density says.
		v.SetPreviousLOD(v.CurrentLOD())
		l = pager.NewVoxelLoader(s.ctx, v, amount, true)
	}
	defer l.Release()

	if err := l.Err(); err != nil {
		s.failed++
		s.p.Logger.Warn("voxel load failed", "voxel", v.ID(), "error", err)
		return selectionFlags(v)
	}

	v.IteratePoints(s.p.Space, s.p.LayerMask, amount, 0, func(i int, pos r3.Vector, f *uint8) bool {
		if whole || s.p.Condition.ValidPoint(index.PointRef{Voxel: v, Index: i, Pos: pos, Filter: f}) {
			if s.on {
				*f |= index.SelectedBit
			} else {
				*f &^= index.SelectedBit
			}
			s.count++
		}
		return true
	})

	anySel, allSel := false, v.FullPointCount() > 0
	for i := range v.FullPointCount() {
		if v.Filter(i)&index.SelectedBit != 0 {
			anySel = true
		} else {
			allSel = false
		}
	}
	setSelectionFlags(v, anySel, allSel)
	return anySel, allSel
}

func selectionFlags(n index.Node) (anySel, allSel bool) {
	allSel = n.Flag(index.FlagWholeSelected)
	return allSel || n.Flag(index.FlagPartSelected), allSel
}

func setSelectionFlags(n index.Node, anySel, allSel bool) {
	n.SetFlag(index.FlagWholeSelected, anySel && allSel)
	n.SetFlag(index.FlagPartSelected, anySel && !allSel)
}

// Count returns the number of points accepted by p.Condition at full
// density. Voxels the condition accepts whole are counted from their filter
// bytes without loading.
func Count(ctx context.Context, p Params) (int64, error) {
	p = p.withDefaults()
	p.Density, p.Coeff = density.Full, 1

	var total int64
	for _, root := range p.Roots {
		index.Walk(root, func(n index.Node) bool {
			if ctx.Err() != nil {
				return false
			}
			whole, ok := check(p.Condition, n, p.Space)
			if !ok {
				return false
			}
			if v, isVoxel := n.(index.Voxel); isVoxel && n.IsLeaf() {
				total += countVoxel(ctx, &p, v, whole)
			}
			return true
		})
	}
	return total, ctx.Err()
}

func countVoxel(ctx context.Context, p *Params, v index.Voxel, whole bool) int64 {
	if !p.lock(v) {
		return 0
	}
	defer v.Unlock()

	var n int64
	if whole {
		for i := range v.FullPointCount() {
			if v.Filter(i)&p.LayerMask != 0 {
				n++
			}
		}
		return n
	}

	l, amount := newLoader(ctx, p, v)
	defer l.Release()
	if err := l.Err(); err != nil {
		p.Logger.Warn("voxel load failed", "voxel", v.ID(), "error", err)
		return 0
	}
	v.IteratePoints(p.Space, p.LayerMask, amount, 0, func(i int, pos r3.Vector, f *uint8) bool {
		if p.Condition.ValidPoint(index.PointRef{Voxel: v, Index: i, Pos: pos, Filter: f}) {
			n++
		}
		return true
	})
	return n
}

// WriteBack stores data, Stride() bytes per traced point, into ch. It
// returns the number of points written.
func WriteBack(scene index.Scene, trace []PointID, ch index.UserChannel, data []byte) (int, error) {
	s := ch.Stride()
	if len(data) < len(trace)*s {
		return 0, ErrShortBuffer
	}

	written := 0
	var cur index.Voxel
	for i, id := range trace {
		if cur == nil || cur.ID() != id.Voxel {
			if cur != nil {
				cur.Unlock()
			}
			v, ok := scene.Voxel(id.Voxel)
			if !ok {
				cur = nil
				continue
			}
			cur = v
			cur.Lock()
		}
		ch.Write(cur, id.Index, data[i*s:(i+1)*s])
		written++
	}
	if cur != nil {
		cur.Unlock()
	}
	return written, nil
}
