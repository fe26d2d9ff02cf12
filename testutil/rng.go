package testutil

import (
	"math/rand/v2"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/codec"
	"github.com/hupe1980/pointq/geom"
)

// RNG is a seeded generator of synthetic clouds, safe for concurrent use.
type RNG struct {
	mu   sync.Mutex
	seed int64
	r    *rand.Rand
}

func NewRNG(seed int64) *RNG {
	g := &RNG{seed: seed}
	g.Reset()
	return g
}

// Reset rewinds the generator to its seed.
func (g *RNG) Reset() {
	g.mu.Lock()
	g.r = rand.New(rand.NewPCG(uint64(g.seed), 0x5eed))
	g.mu.Unlock()
}

func (g *RNG) Seed() int64 { return g.seed }

// Vector returns a uniform position inside b.
func (g *RNG) Vector(b geom.Box) r3.Vector {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.in(b)
}

// UniformPoints returns num records spread uniformly over b with random
// colour, intensity and classification.
func (g *RNG) UniformPoints(num int, b geom.Box) []codec.Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	pts := make([]codec.Record, num)
	for i := range pts {
		pts[i] = g.record(g.in(b))
	}
	return pts
}

// ClusteredPoints returns num records in cubes of half edge spread around
// random centres inside b.
func (g *RNG) ClusteredPoints(num, clusters int, spread float64, b geom.Box) []codec.Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	cubes := make([]geom.Box, max(clusters, 1))
	half := r3.Vector{X: spread, Y: spread, Z: spread}
	for i := range cubes {
		c := g.in(b)
		cubes[i] = geom.NewBox(c.Sub(half), c.Add(half))
	}

	pts := make([]codec.Record, num)
	for i := range pts {
		pts[i] = g.record(g.in(cubes[g.r.IntN(len(cubes))]))
	}
	return pts
}

func (g *RNG) in(b geom.Box) r3.Vector {
	s := b.Size()
	return r3.Vector{
		X: b.Min.X + g.r.Float64()*s.X,
		Y: b.Min.Y + g.r.Float64()*s.Y,
		Z: b.Min.Z + g.r.Float64()*s.Z,
	}
}

func (g *RNG) record(p r3.Vector) codec.Record {
	c := g.r.Uint32()
	return codec.Record{
		Pos:            p,
		RGB:            [3]uint8{uint8(c), uint8(c >> 8), uint8(c >> 16)},
		Intensity:      int16(g.r.IntN(4096)),
		Classification: uint8(g.r.IntN(32)),
	}
}
