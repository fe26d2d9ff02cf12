package traverse

import (
	"errors"
	"math"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/resource"
)

// ErrGridAllocation is returned when the spatial sampling grid cannot be
// created or grown.
var ErrGridAllocation = errors.New("traverse: spatial grid allocation failed")

const (
	gridBaseBytes = 64
	// gridAccountEvery is the number of new cells between memory accounting
	// updates.
	gridAccountEvery = 1024
)

// Grid records the occupied cells of a regular grid so that a spatial
// density query keeps at most one point per cell. Its memory is charged to
// the resource controller.
type Grid struct {
	cell   float64
	origin r3.Vector
	dims   [3]uint64

	cells    *roaring64.Bitmap
	rc       *resource.Controller
	reserved int64
	unbilled int

	// added holds the cells inserted since the last mark.
	added []uint64
}

// NewGrid creates a grid with cells of edge cell covering bounds.
func NewGrid(bounds geom.Box, cell float64, rc *resource.Controller) (*Grid, error) {
	if !(cell > 0) || math.IsInf(cell, 0) || bounds.IsEmpty() {
		return nil, ErrGridAllocation
	}

	size := bounds.Size()
	g := &Grid{cell: cell, origin: bounds.Min, cells: roaring64.New(), rc: rc}
	total := 1.0
	for i, ext := range []float64{size.X, size.Y, size.Z} {
		n := math.Floor(ext/cell) + 1
		total *= n
		if total > math.MaxInt64 {
			return nil, ErrGridAllocation
		}
		g.dims[i] = uint64(n)
	}

	if err := rc.AcquireMemory(gridBaseBytes); err != nil {
		return nil, ErrGridAllocation
	}
	g.reserved = gridBaseBytes
	return g, nil
}

// Insert marks the cell of p. It reports false if the cell was taken.
func (g *Grid) Insert(p r3.Vector) (bool, error) {
	key := g.key(p)
	if g.cells.Contains(key) {
		return false, nil
	}
	g.cells.Add(key)

	if g.unbilled++; g.unbilled >= gridAccountEvery {
		size := max(int64(g.cells.GetSizeInBytes()), gridBaseBytes)
		if err := g.rc.ResizeMemory(g.reserved, size); err != nil {
			g.cells.Remove(key)
			g.unbilled--
			return false, ErrGridAllocation
		}
		g.reserved, g.unbilled = size, 0
	}

	g.added = append(g.added, key)
	return true, nil
}

// Len returns the number of occupied cells.
func (g *Grid) Len() uint64 {
	return g.cells.GetCardinality()
}

// Release returns the grid's memory to the controller.
func (g *Grid) Release() {
	g.rc.ReleaseMemory(g.reserved)
	g.reserved = 0
	g.cells.Clear()
	g.added = nil
}

func (g *Grid) mark() {
	g.added = g.added[:0]
}

// rollback frees the cells inserted since the last mark.
func (g *Grid) rollback() {
	for _, k := range g.added {
		g.cells.Remove(k)
	}
	g.unbilled = max(g.unbilled-len(g.added), 0)
	g.added = g.added[:0]
}

func (g *Grid) key(p r3.Vector) uint64 {
	d := p.Sub(g.origin)
	x := g.index(d.X, 0)
	y := g.index(d.Y, 1)
	z := g.index(d.Z, 2)
	return x + g.dims[0]*(y+g.dims[1]*z)
}

func (g *Grid) index(off float64, axis int) uint64 {
	i := math.Floor(off / g.cell)
	if i < 0 {
		return 0
	}
	if u := uint64(i); u < g.dims[axis] {
		return u
	}
	return g.dims[axis] - 1
}
