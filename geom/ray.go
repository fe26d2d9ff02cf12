package geom

import (
	"math"

	"github.com/golang/geo/r3"
)

// Ray is a half line from Origin along the unit vector Dir.
type Ray struct {
	Origin r3.Vector
	Dir    r3.Vector
}

// NewRay normalizes dir.
func NewRay(origin, dir r3.Vector) Ray {
	return Ray{Origin: origin, Dir: dir.Normalize()}
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float64) r3.Vector {
	return r.Origin.Add(r.Dir.Mul(t))
}

// Project returns the distance along the ray of the point closest to p and
// the squared distance between the two.
func (r Ray) Project(p r3.Vector) (t, dist2 float64) {
	t = math.Max(p.Sub(r.Origin).Dot(r.Dir), 0)
	return t, p.Sub(r.At(t)).Norm2()
}

// HitsBox reports whether the ray passes through b grown by tol on every
// side, which includes every point of b within tol of the ray.
func (r Ray) HitsBox(b Box, tol float64) bool {
	if b.IsEmpty() {
		return false
	}
	lo := [3]float64{b.Min.X - tol, b.Min.Y - tol, b.Min.Z - tol}
	hi := [3]float64{b.Max.X + tol, b.Max.Y + tol, b.Max.Z + tol}
	o := [3]float64{r.Origin.X, r.Origin.Y, r.Origin.Z}
	d := [3]float64{r.Dir.X, r.Dir.Y, r.Dir.Z}

	tmin, tmax := 0.0, math.Inf(1)
	for i := range 3 {
		if d[i] == 0 {
			if o[i] < lo[i] || o[i] > hi[i] {
				return false
			}
			continue
		}
		t1, t2 := (lo[i]-o[i])/d[i], (hi[i]-o[i])/d[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin, tmax = math.Max(tmin, t1), math.Min(tmax, t2)
		if tmin > tmax {
			return false
		}
	}
	return true
}
