// Package geom provides the bounding volumes used to prune point queries:
// axis-aligned boxes, spheres, oriented boxes and view frustums.
//
// All volumes are expressed with r3.Vector and classify an axis-aligned box
// as Outside, Intersects or Inside so a traversal can skip or accept whole
// subtrees without touching individual points.
package geom

import (
	"math"

	"github.com/golang/geo/r3"
)

// Box is an axis-aligned bounding box. A box with Min > Max on any axis is empty.
type Box struct {
	Min r3.Vector
	Max r3.Vector
}

// NewBox returns the box spanning the two corners in any order.
func NewBox(a, b r3.Vector) Box {
	return Box{
		Min: r3.Vector{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)},
		Max: r3.Vector{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)},
	}
}

// EmptyBox returns a box that contains nothing and grows with Extend.
func EmptyBox() Box {
	return Box{
		Min: r3.Vector{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64},
		Max: r3.Vector{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64},
	}
}

// BoxOf returns the tight bounding box of the points.
func BoxOf(pts ...r3.Vector) Box {
	b := EmptyBox()
	for _, p := range pts {
		b = b.Extend(p)
	}
	return b
}

// IsEmpty reports whether the box contains no points.
func (b Box) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Extend returns the smallest box containing b and p.
func (b Box) Extend(p r3.Vector) Box {
	return Box{
		Min: r3.Vector{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)},
		Max: r3.Vector{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)},
	}
}

// Union returns the smallest box containing both boxes.
func (b Box) Union(o Box) Box {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return b.Extend(o.Min).Extend(o.Max)
}

// Center returns the box midpoint.
func (b Box) Center() r3.Vector {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size returns the edge lengths.
func (b Box) Size() r3.Vector {
	return b.Max.Sub(b.Min)
}

// Translate returns the box moved by d.
func (b Box) Translate(d r3.Vector) Box {
	return Box{Min: b.Min.Add(d), Max: b.Max.Add(d)}
}

// Contains reports whether p lies inside the box (boundaries included).
func (b Box) Contains(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// ContainsBox reports whether o lies entirely inside b.
func (b Box) ContainsBox(o Box) bool {
	return b.Contains(o.Min) && b.Contains(o.Max)
}

// Intersects reports whether the boxes overlap (touching counts).
func (b Box) Intersects(o Box) bool {
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

// Classify implements Volume for a box query region.
func (b Box) Classify(o Box) Relation {
	switch {
	case !b.Intersects(o):
		return Outside
	case b.ContainsBox(o):
		return Inside
	default:
		return Intersects
	}
}

// Corners returns the eight corners. Bit 0 of the index selects Max.X,
// bit 1 Max.Y and bit 2 Max.Z.
func (b Box) Corners() [8]r3.Vector {
	var c [8]r3.Vector
	for i := range c {
		c[i] = b.corner(i)
	}
	return c
}

func (b Box) corner(i int) r3.Vector {
	p := b.Min
	if i&1 != 0 {
		p.X = b.Max.X
	}
	if i&2 != 0 {
		p.Y = b.Max.Y
	}
	if i&4 != 0 {
		p.Z = b.Max.Z
	}
	return p
}

// Octant returns the i-th child cell of the box split at its center, using the
// same bit layout as Corners.
func (b Box) Octant(i int) Box {
	c := b.Center()
	return NewBox(c, b.corner(i))
}

// OctantOf returns the octant index of p relative to the box center.
func (b Box) OctantOf(p r3.Vector) int {
	c := b.Center()
	i := 0
	if p.X > c.X {
		i |= 1
	}
	if p.Y > c.Y {
		i |= 2
	}
	if p.Z > c.Z {
		i |= 4
	}
	return i
}

// MinDist2 returns the squared distance from p to the nearest point of the box.
// It is zero when p is inside.
func (b Box) MinDist2(p r3.Vector) float64 {
	dx := axisDist(p.X, b.Min.X, b.Max.X)
	dy := axisDist(p.Y, b.Min.Y, b.Max.Y)
	dz := axisDist(p.Z, b.Min.Z, b.Max.Z)
	return dx*dx + dy*dy + dz*dz
}

// MaxDist2 returns the squared distance from p to the farthest corner of the box.
func (b Box) MaxDist2(p r3.Vector) float64 {
	dx := math.Max(math.Abs(p.X-b.Min.X), math.Abs(p.X-b.Max.X))
	dy := math.Max(math.Abs(p.Y-b.Min.Y), math.Abs(p.Y-b.Max.Y))
	dz := math.Max(math.Abs(p.Z-b.Min.Z), math.Abs(p.Z-b.Max.Z))
	return dx*dx + dy*dy + dz*dz
}

// MinDist2Box returns the smallest squared distance between any point of b and
// any point of o. Overlapping boxes return zero.
func (b Box) MinDist2Box(o Box) float64 {
	dx := gap(b.Min.X, b.Max.X, o.Min.X, o.Max.X)
	dy := gap(b.Min.Y, b.Max.Y, o.Min.Y, o.Max.Y)
	dz := gap(b.Min.Z, b.Max.Z, o.Min.Z, o.Max.Z)
	return dx*dx + dy*dy + dz*dz
}

// MaxDist2Box returns the largest squared distance between any point of b and
// any point of o.
func (b Box) MaxDist2Box(o Box) float64 {
	dx := math.Max(math.Abs(b.Max.X-o.Min.X), math.Abs(o.Max.X-b.Min.X))
	dy := math.Max(math.Abs(b.Max.Y-o.Min.Y), math.Abs(o.Max.Y-b.Min.Y))
	dz := math.Max(math.Abs(b.Max.Z-o.Min.Z), math.Abs(o.Max.Z-b.Min.Z))
	return dx*dx + dy*dy + dz*dz
}

func axisDist(k, lo, hi float64) float64 {
	if k < lo {
		return lo - k
	}
	if k <= hi {
		return 0
	}
	return k - hi
}

func gap(aMin, aMax, bMin, bMax float64) float64 {
	if aMax < bMin {
		return bMin - aMax
	}
	if bMax < aMin {
		return aMin - bMax
	}
	return 0
}
