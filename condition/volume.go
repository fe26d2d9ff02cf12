package condition

import (
	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
)

// Volume accepts points inside a geometric volume. BoundsCheck records the
// relation of the last node box so ProcessWhole and EscapeWhole are free.
type Volume struct {
	vol geom.Volume
	rel geom.Relation
}

// InVolume returns a condition over any geom.Volume.
func InVolume(v geom.Volume) *Volume {
	return &Volume{vol: v, rel: geom.Intersects}
}

// Box accepts points inside an axis-aligned box.
func Box(b geom.Box) *Volume { return InVolume(b) }

// OrientedBox accepts points inside an oriented box.
func OrientedBox(o geom.OrientedBox) *Volume { return InVolume(o) }

// Sphere accepts points within radius of center.
func Sphere(center r3.Vector, radius float64) *Volume {
	return InVolume(geom.Sphere{Center: center, Radius: radius})
}

// Frustum accepts points inside a view frustum.
func Frustum(f *geom.Frustum) *Volume { return InVolume(f) }

// Shape returns the wrapped volume.
func (c *Volume) Shape() geom.Volume { return c.vol }

func (c *Volume) NodeCheck(index.Node) bool { return true }

func (c *Volume) BoundsCheck(b geom.Box) bool {
	c.rel = c.vol.Classify(b)
	return c.rel != geom.Outside
}

func (c *Volume) ProcessWhole(index.Node) bool { return c.rel == geom.Inside }

func (c *Volume) EscapeWhole(index.Node) bool { return c.rel == geom.Outside }

func (c *Volume) ValidPoint(p index.PointRef) bool { return c.vol.Contains(p.Pos) }

func (c *Volume) Clone() Condition {
	return &Volume{vol: c.vol, rel: geom.Intersects}
}
