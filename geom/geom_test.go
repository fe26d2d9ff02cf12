package geom

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitBox() Box {
	return NewBox(r3.Vector{}, r3.Vector{X: 1, Y: 1, Z: 1})
}

func TestBox_Basics(t *testing.T) {
	b := NewBox(r3.Vector{X: 1, Y: 1, Z: 1}, r3.Vector{})
	assert.Equal(t, r3.Vector{}, b.Min)
	assert.Equal(t, r3.Vector{X: 1, Y: 1, Z: 1}, b.Max)
	assert.True(t, b.Contains(r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}))
	assert.True(t, b.Contains(r3.Vector{X: 1, Y: 1, Z: 1}))
	assert.False(t, b.Contains(r3.Vector{X: 1.01}))

	assert.True(t, EmptyBox().IsEmpty())
	assert.False(t, BoxOf(r3.Vector{X: 2}).IsEmpty())
	assert.Equal(t, b, EmptyBox().Union(b))
}

func TestBox_Octants(t *testing.T) {
	b := NewBox(r3.Vector{X: -1, Y: -1, Z: -1}, r3.Vector{X: 1, Y: 1, Z: 1})
	for i := range 8 {
		o := b.Octant(i)
		c := o.Center()
		assert.Equal(t, i, b.OctantOf(c), "octant %d", i)
		assert.True(t, b.ContainsBox(o))
	}
}

func TestBox_Distances(t *testing.T) {
	b := unitBox()
	assert.Zero(t, b.MinDist2(r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}))
	assert.InDelta(t, 4.0, b.MinDist2(r3.Vector{X: 3, Y: 0.5, Z: 0.5}), 1e-12)
	assert.InDelta(t, 3.0, b.MaxDist2(r3.Vector{}), 1e-12)

	o := NewBox(r3.Vector{X: 3}, r3.Vector{X: 4, Y: 1, Z: 1})
	assert.InDelta(t, 4.0, b.MinDist2Box(o), 1e-12)
	assert.InDelta(t, 16.0+1+1, b.MaxDist2Box(o), 1e-12)
	assert.Zero(t, b.MinDist2Box(b))

	// Min/max distances must bound every point pair.
	p := r3.Vector{X: 0.2, Y: 0.9, Z: 0.1}
	q := r3.Vector{X: 3.7, Y: 0.3, Z: 0.6}
	d := p.Sub(q).Norm2()
	assert.LessOrEqual(t, b.MinDist2Box(o), d)
	assert.GreaterOrEqual(t, b.MaxDist2Box(o), d)
}

func TestBox_Classify(t *testing.T) {
	q := NewBox(r3.Vector{}, r3.Vector{X: 10, Y: 10, Z: 10})
	assert.Equal(t, Inside, q.Classify(unitBox()))
	assert.Equal(t, Outside, q.Classify(unitBox().Translate(r3.Vector{X: 20})))
	assert.Equal(t, Intersects, q.Classify(unitBox().Translate(r3.Vector{X: 9.5})))
}

func TestSphere_Classify(t *testing.T) {
	s := Sphere{Center: r3.Vector{}, Radius: 5}
	assert.Equal(t, Inside, s.Classify(unitBox()))
	assert.Equal(t, Outside, s.Classify(unitBox().Translate(r3.Vector{X: 10})))
	assert.Equal(t, Intersects, s.Classify(unitBox().Translate(r3.Vector{X: 4.5})))
	assert.True(t, s.Contains(r3.Vector{X: 3, Y: 4}))
	assert.False(t, s.Contains(r3.Vector{X: 3, Y: 4.1}))
}

func TestOrientedBox(t *testing.T) {
	o := NewOrientedBox(r3.Vector{}, r3.Vector{X: 2, Y: 1, Z: 1}, math.Pi/4)

	along := r3.Vector{X: 1, Y: 1}.Normalize().Mul(1.9)
	assert.True(t, o.Contains(along))
	assert.False(t, o.Contains(r3.Vector{X: 1.9}))

	tiny := NewBox(r3.Vector{X: -0.1, Y: -0.1, Z: -0.1}, r3.Vector{X: 0.1, Y: 0.1, Z: 0.1})
	assert.Equal(t, Inside, o.Classify(tiny))
	assert.Equal(t, Outside, o.Classify(tiny.Translate(r3.Vector{X: 10})))
	assert.Equal(t, Intersects, o.Classify(NewBox(r3.Vector{X: -3, Y: -3, Z: -3}, r3.Vector{X: 3, Y: 3, Z: 3})))
}

func TestFrustum(t *testing.T) {
	fr := NewFrustum(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{Z: 1}, math.Pi/2, 1, 1, 100)

	require.True(t, fr.Contains(r3.Vector{X: 10}))
	assert.False(t, fr.Contains(r3.Vector{X: 0.5}), "before near plane")
	assert.False(t, fr.Contains(r3.Vector{X: 200}), "beyond far plane")
	assert.False(t, fr.Contains(r3.Vector{X: 10, Y: 20}), "left of view")
	assert.False(t, fr.Contains(r3.Vector{X: 10, Y: -20}), "right of view")
	assert.False(t, fr.Contains(r3.Vector{X: 10, Z: 20}), "above view")
	assert.False(t, fr.Contains(r3.Vector{X: 10, Z: -20}), "below view")

	assert.Equal(t, Inside, fr.Classify(unitBox().Translate(r3.Vector{X: 10})))
	assert.Equal(t, Outside, fr.Classify(unitBox().Translate(r3.Vector{X: -10})))
	assert.Equal(t, Intersects, fr.Classify(NewBox(r3.Vector{X: 5, Y: -50}, r3.Vector{X: 6, Y: 50, Z: 1})))
}

func TestRay(t *testing.T) {
	r := NewRay(r3.Vector{X: -5, Y: 0.5, Z: 0.5}, r3.Vector{X: 2})
	assert.InDelta(t, 1, r.Dir.Norm(), 1e-12)

	d, dist2 := r.Project(r3.Vector{X: 1, Y: 1.5, Z: 0.5})
	assert.InDelta(t, 6, d, 1e-12)
	assert.InDelta(t, 1, dist2, 1e-12)

	d, dist2 = r.Project(r3.Vector{X: -7, Y: 0.5, Z: 0.5})
	assert.Zero(t, d, "points behind the origin project onto it")
	assert.InDelta(t, 4, dist2, 1e-12)

	assert.True(t, r.HitsBox(unitBox(), 0))
	assert.False(t, r.HitsBox(unitBox().Translate(r3.Vector{Y: 2}), 0))
	assert.True(t, r.HitsBox(unitBox().Translate(r3.Vector{Y: 2}), 1.5))
	assert.False(t, r.HitsBox(unitBox().Translate(r3.Vector{X: -10}), 0), "box behind the origin")
	assert.False(t, r.HitsBox(EmptyBox(), 10))
}
