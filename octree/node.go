package octree

import (
	"math"
	"sync/atomic"

	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
)

var (
	_ index.Node  = (*Node)(nil)
	_ index.Voxel = (*Voxel)(nil)
)

// base holds what nodes and voxels share.
type base struct {
	id     uint64
	cloud  *Cloud
	bounds geom.Box // cloud space
	flags  atomic.Uint32
}

func (b *base) ID() uint64 { return b.id }

func (b *base) CloudID() uint32 { return b.cloud.id }

func (b *base) Extents(space index.CoordSpace) geom.Box {
	if space == index.SpaceProject {
		return b.bounds.Translate(b.cloud.offset)
	}
	return b.bounds
}

func (b *base) Flag(f index.Flag) bool {
	return b.flags.Load()&uint32(f) != 0
}

func (b *base) SetFlag(f index.Flag, on bool) {
	for {
		old := b.flags.Load()
		nv := old &^ uint32(f)
		if on {
			nv = old | uint32(f)
		}
		if old == nv || b.flags.CompareAndSwap(old, nv) {
			return
		}
	}
}

// Node is an internal octree node.
type Node struct {
	base
	children [8]index.Node
	full     int
}

func (n *Node) IsLeaf() bool { return false }

func (n *Node) Child(i int) index.Node {
	if i < 0 || i > 7 {
		return nil
	}
	return n.children[i]
}

func (n *Node) FullPointCount() int { return n.full }

// NumPointsAtLOD sums the children.
func (n *Node) NumPointsAtLOD(amount float64) int {
	total := 0
	for _, c := range n.children {
		if c != nil {
			total += c.NumPointsAtLOD(amount)
		}
	}
	return total
}

func (n *Node) setChild(i int, c index.Node) {
	n.children[i] = c
	n.full += c.FullPointCount()
}

// lodCount maps a fraction to a point count, rounding down so a sample never
// exceeds the requested share.
func lodCount(full int, amount float64) int {
	if amount <= 0 || full == 0 {
		return 0
	}
	if amount >= 1 {
		return full
	}
	return min(full, int(math.Floor(amount*float64(full)+1e-9)))
}
