package query

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/condition"
	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
)

// Kind distinguishes query specializations.
type Kind uint8

const (
	// KindGeneric visits the scene in octant order.
	KindGeneric Kind = iota
	// KindAll returns every point of the scope.
	KindAll
	// KindFrustum visits nodes front to back from the frustum's eye, so the
	// first calls return the nearest points.
	KindFrustum
	// KindAnalytical reads stored data only. Densities that follow the view
	// are rejected.
	KindAnalytical
)

func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindAll:
		return "all"
	case KindFrustum:
		return "frustum"
	case KindAnalytical:
		return "analytical"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// NewAll creates a query that returns every point of scene.
func NewAll(scene index.Scene, optFns ...Option) *Query {
	return newQuery(KindAll, scene, condition.Null{}, optFns)
}

// NewFrustum creates a query for the points inside f, nearest nodes first.
func NewFrustum(scene index.Scene, f *geom.Frustum, optFns ...Option) *Query {
	q := newQuery(KindFrustum, scene, condition.Frustum(f), optFns)
	q.order = frontToBack(f.Eye, q.opts.space)
	return q
}

// NewAnalytical creates a query for analysis of the stored points accepted
// by cond, independent of what the renderer shows.
func NewAnalytical(scene index.Scene, cond condition.Condition, optFns ...Option) *Query {
	return newQuery(KindAnalytical, scene, cond, optFns)
}

func (q *Query) eye() r3.Vector {
	if v, ok := q.cond.(*condition.Volume); ok {
		if f, ok := v.Shape().(*geom.Frustum); ok {
			return f.Eye
		}
	}
	return r3.Vector{}
}

// frontToBack orders children by their distance to eye.
func frontToBack(eye r3.Vector, space index.CoordSpace) func(index.Node) []int {
	return func(n index.Node) []int {
		var dist [8]float64
		order := make([]int, 8)
		for i := range order {
			order[i] = i
			dist[i] = math.Inf(1)
			if c := n.Child(i); c != nil {
				dist[i] = c.Extents(space).MinDist2(eye)
			}
		}
		slices.SortStableFunc(order, func(a, b int) int {
			return cmp.Compare(dist[a], dist[b])
		})
		return order
	}
}

func sortByDistance(nodes []index.Node, eye r3.Vector, space index.CoordSpace) {
	slices.SortStableFunc(nodes, func(a, b index.Node) int {
		return cmp.Compare(a.Extents(space).MinDist2(eye), b.Extents(space).MinDist2(eye))
	})
}
