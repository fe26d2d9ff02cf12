package condition

import (
	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
)

// Ray accepts points within Tolerance of a ray. It backs point picking.
type Ray struct {
	Ray       geom.Ray
	Tolerance float64
}

// NearRay returns a Ray condition.
func NearRay(r geom.Ray, tolerance float64) *Ray {
	return &Ray{Ray: r, Tolerance: tolerance}
}

func (c *Ray) NodeCheck(index.Node) bool { return true }

func (c *Ray) BoundsCheck(b geom.Box) bool { return c.Ray.HitsBox(b, c.Tolerance) }

func (c *Ray) ProcessWhole(index.Node) bool { return false }

func (c *Ray) EscapeWhole(index.Node) bool { return false }

func (c *Ray) ValidPoint(p index.PointRef) bool {
	_, d2 := c.Ray.Project(p.Pos)
	return d2 <= c.Tolerance*c.Tolerance
}

func (c *Ray) Clone() Condition {
	cp := *c
	return &cp
}
