package testutil

import (
	"cmp"
	"slices"

	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/codec"
	"github.com/hupe1980/pointq/geom"
)

// GridPoints returns the n³ points of an integer lattice starting at origin.
// Intensity holds the creation index.
func GridPoints(n int, origin r3.Vector) []codec.Record {
	pts := make([]codec.Record, 0, n*n*n)
	for x := range n {
		for y := range n {
			for z := range n {
				pts = append(pts, codec.Record{
					Pos:       origin.Add(r3.Vector{X: float64(x), Y: float64(y), Z: float64(z)}),
					Intensity: int16(len(pts)),
				})
			}
		}
	}
	return pts
}

// Positions returns the positions of pts shifted by offset.
func Positions(pts []codec.Record, offset r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(pts))
	for i := range pts {
		out[i] = pts[i].Pos.Add(offset)
	}
	return out
}

// Neighbour is an exact nearest neighbour.
type Neighbour struct {
	Index int
	Dist2 float64
}

// BruteForceKNN returns the k points closest to query, nearest first. Ties
// keep input order.
func BruteForceKNN(points []r3.Vector, query r3.Vector, k int) []Neighbour {
	all := make([]Neighbour, len(points))
	for i, p := range points {
		all[i] = Neighbour{Index: i, Dist2: p.Sub(query).Norm2()}
	}
	slices.SortStableFunc(all, func(a, b Neighbour) int { return cmp.Compare(a.Dist2, b.Dist2) })
	return all[:min(k, len(all))]
}

// CountInside counts the points v contains.
func CountInside(points []r3.Vector, v geom.Volume) int {
	n := 0
	for _, p := range points {
		if v.Contains(p) {
			n++
		}
	}
	return n
}
