package geom

import (
	"math"

	"github.com/golang/geo/r3"
)

// Relation describes how a query volume relates to a bounding box.
type Relation uint8

const (
	// Outside means no point of the box can be inside the volume.
	Outside Relation = iota
	// Intersects means the box straddles the volume boundary (or the test was inconclusive).
	Intersects
	// Inside means every point of the box is inside the volume.
	Inside
)

func (r Relation) String() string {
	switch r {
	case Outside:
		return "outside"
	case Intersects:
		return "intersects"
	case Inside:
		return "inside"
	default:
		return "unknown"
	}
}

// Volume is a closed region that can test points and classify boxes.
//
// Classify may return Intersects for a box that is really Outside; it must
// never return Inside or Outside incorrectly.
type Volume interface {
	Contains(p r3.Vector) bool
	Classify(b Box) Relation
}

var (
	_ Volume = Box{}
	_ Volume = Sphere{}
	_ Volume = OrientedBox{}
	_ Volume = (*Frustum)(nil)
)

// Sphere is a ball with the given center and radius.
type Sphere struct {
	Center r3.Vector
	Radius float64
}

// Contains reports whether p is inside the sphere.
func (s Sphere) Contains(p r3.Vector) bool {
	return p.Sub(s.Center).Norm2() <= s.Radius*s.Radius
}

// Classify classifies b against the sphere.
func (s Sphere) Classify(b Box) Relation {
	r2 := s.Radius * s.Radius
	if b.MinDist2(s.Center) > r2 {
		return Outside
	}
	if b.MaxDist2(s.Center) <= r2 {
		return Inside
	}
	return Intersects
}

// OrientedBox is a box with arbitrary orthonormal axes.
type OrientedBox struct {
	Center r3.Vector
	// Axes must be orthonormal.
	Axes [3]r3.Vector
	// Half holds the half extents along each axis.
	Half r3.Vector
}

// NewOrientedBox builds an oriented box rotated by angle (radians) around the Z axis.
func NewOrientedBox(center, half r3.Vector, angle float64) OrientedBox {
	c, s := math.Cos(angle), math.Sin(angle)
	return OrientedBox{
		Center: center,
		Axes: [3]r3.Vector{
			{X: c, Y: s},
			{X: -s, Y: c},
			{Z: 1},
		},
		Half: half,
	}
}

func (o OrientedBox) half(i int) float64 {
	switch i {
	case 0:
		return o.Half.X
	case 1:
		return o.Half.Y
	default:
		return o.Half.Z
	}
}

// Contains reports whether p is inside the oriented box.
func (o OrientedBox) Contains(p r3.Vector) bool {
	d := p.Sub(o.Center)
	for i, a := range o.Axes {
		if math.Abs(d.Dot(a)) > o.half(i)+1e-12 {
			return false
		}
	}
	return true
}

// Classify classifies b against the oriented box using the six face axes.
// Edge cross axes are not tested, so separated boxes may report Intersects.
func (o OrientedBox) Classify(b Box) Relation {
	inside := true
	for _, c := range b.Corners() {
		if !o.Contains(c) {
			inside = false
			break
		}
	}
	if inside {
		return Inside
	}

	bc := b.Center()
	be := b.Size().Mul(0.5)
	axes := []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}, o.Axes[0], o.Axes[1], o.Axes[2]}
	for _, l := range axes {
		ra := be.X*math.Abs(l.X) + be.Y*math.Abs(l.Y) + be.Z*math.Abs(l.Z)
		rb := 0.0
		for i, a := range o.Axes {
			rb += o.half(i) * math.Abs(a.Dot(l))
		}
		if math.Abs(o.Center.Sub(bc).Dot(l)) > ra+rb {
			return Outside
		}
	}
	return Intersects
}

// Plane is the set of points p with N·p + D = 0. Points with a positive
// signed distance are on the inner side.
type Plane struct {
	N r3.Vector
	D float64
}

// PlaneFromPoint returns the plane through p with the given inward normal.
func PlaneFromPoint(normal, p r3.Vector) Plane {
	n := normal.Normalize()
	return Plane{N: n, D: -n.Dot(p)}
}

// Distance returns the signed distance of p to the plane.
func (pl Plane) Distance(p r3.Vector) float64 {
	return pl.N.Dot(p) + pl.D
}

// Frustum is a convex view volume bounded by six inward facing planes.
type Frustum struct {
	Eye    r3.Vector
	Planes [6]Plane
}

// NewFrustum builds a perspective frustum. fovY is the vertical field of view
// in radians, aspect is width over height.
func NewFrustum(eye, forward, up r3.Vector, fovY, aspect, near, far float64) *Frustum {
	f := forward.Normalize()
	r := f.Cross(up).Normalize()
	u := r.Cross(f)

	hv := math.Tan(fovY / 2)
	hh := hv * aspect

	dl := f.Sub(r.Mul(hh))
	dr := f.Add(r.Mul(hh))
	dt := f.Add(u.Mul(hv))
	db := f.Sub(u.Mul(hv))

	return &Frustum{
		Eye: eye,
		Planes: [6]Plane{
			PlaneFromPoint(f, eye.Add(f.Mul(near))),
			PlaneFromPoint(f.Mul(-1), eye.Add(f.Mul(far))),
			PlaneFromPoint(dl.Cross(u), eye),
			PlaneFromPoint(u.Cross(dr), eye),
			PlaneFromPoint(dt.Cross(r), eye),
			PlaneFromPoint(r.Cross(db), eye),
		},
	}
}

// Contains reports whether p is inside all six planes.
func (fr *Frustum) Contains(p r3.Vector) bool {
	for _, pl := range fr.Planes {
		if pl.Distance(p) < 0 {
			return false
		}
	}
	return true
}

// Classify uses the positive/negative vertex test per plane.
func (fr *Frustum) Classify(b Box) Relation {
	rel := Inside
	for _, pl := range fr.Planes {
		pv, nv := b.Min, b.Max
		if pl.N.X >= 0 {
			pv.X, nv.X = b.Max.X, b.Min.X
		}
		if pl.N.Y >= 0 {
			pv.Y, nv.Y = b.Max.Y, b.Min.Y
		}
		if pl.N.Z >= 0 {
			pv.Z, nv.Z = b.Max.Z, b.Min.Z
		}
		if pl.Distance(pv) < 0 {
			return Outside
		}
		if pl.Distance(nv) < 0 {
			rel = Intersects
		}
	}
	return rel
}
