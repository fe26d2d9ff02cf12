package knn

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/octree"
	"github.com/hupe1980/pointq/octree/octreetest"
	"github.com/hupe1980/pointq/stream"
	"github.com/hupe1980/pointq/testutil"
)

var box = geom.NewBox(r3.Vector{}, r3.Vector{X: 20, Y: 20, Z: 20})

func scene(t *testing.T, n int, seed int64) (*octree.Scene, []r3.Vector) {
	t.Helper()
	pts := testutil.NewRNG(seed).UniformPoints(n, box)
	s := octreetest.Build(t, []octreetest.Cloud{{Name: "scan", Points: pts}}, octree.WithMaxLeafPoints(32))
	return s, testutil.Positions(pts, r3.Vector{})
}

func requireExact(t *testing.T, pos []r3.Vector, vertices []r3.Vector, k int, got [][]Neighbour) {
	t.Helper()
	require.Len(t, got, len(vertices))
	for i, q := range vertices {
		want := testutil.BruteForceKNN(pos, q, k)
		require.Len(t, got[i], len(want), "vertex %d", i)
		for j, w := range want {
			assert.InDelta(t, w.Dist2, got[i][j].Dist2, 1e-4, "vertex %d rank %d", i, j)
			assert.InDelta(t, w.Dist2, got[i][j].Pos.Sub(q).Norm2(), 1e-4)
		}
	}
}

func TestSearch_ThreeOfTen(t *testing.T) {
	s, pos := scene(t, 10, 7)
	q := r3.Vector{X: 10, Y: 10, Z: 10}

	res, err := New(s).Search(context.Background(), []r3.Vector{q}, 3)
	require.NoError(t, err)
	got := res.Neighbours[0]
	require.Len(t, got, 3)

	returned := map[r3.Vector]bool{}
	for i, n := range got {
		if i > 0 {
			assert.GreaterOrEqual(t, n.Dist2, got[i-1].Dist2)
		}
		returned[n.Pos] = true
	}
	for _, p := range pos {
		if !returned[p] {
			assert.GreaterOrEqual(t, p.Sub(q).Norm2(), got[2].Dist2)
		}
	}
}

func TestSearch_MatchesBruteForce(t *testing.T) {
	s, pos := scene(t, 2000, 21)
	rng := testutil.NewRNG(4)
	vertices := make([]r3.Vector, 40)
	for i := range vertices {
		vertices[i] = rng.Vector(geom.NewBox(r3.Vector{X: -5, Y: -5, Z: -5}, r3.Vector{X: 25, Y: 25, Z: 25}))
	}

	for _, coherence := range []int{0, 1, DefaultCoherence} {
		res, err := New(s, WithCoherence(coherence)).Search(context.Background(), vertices, 7)
		require.NoError(t, err)
		requireExact(t, pos, vertices, 7, res.Neighbours)
	}
}

func TestSearch_CoherenceScansLess(t *testing.T) {
	s, _ := scene(t, 3000, 5)
	vertices := make([]r3.Vector, 30)
	for i := range vertices {
		vertices[i] = r3.Vector{X: 4 + 0.1*float64(i), Y: 6, Z: 9}
	}
	ctx := context.Background()

	seeded, err := New(s).Search(ctx, vertices, 5)
	require.NoError(t, err)
	plain, err := New(s, WithCoherence(0)).Search(ctx, vertices, 5)
	require.NoError(t, err)

	assert.LessOrEqual(t, seeded.Scanned, plain.Scanned)
	for i := range vertices {
		for j := range seeded.Neighbours[i] {
			assert.Equal(t, plain.Neighbours[i][j].Dist2, seeded.Neighbours[i][j].Dist2)
		}
	}
}

func TestSearch_Remote(t *testing.T) {
	local, pos := scene(t, 800, 9)
	remote, store := octreetest.Remote(t, local)
	m := stream.New()
	vertices := []r3.Vector{{X: 3, Y: 3, Z: 3}, {X: 15, Y: 2, Z: 11}}

	res, err := New(remote, WithStream(m)).Search(context.Background(), vertices, 4)
	require.NoError(t, err)
	requireExact(t, pos, vertices, 4, res.Neighbours)
	assert.Equal(t, int64(1), m.Stats().Batches)
	assert.Zero(t, res.Failed)

	for _, v := range index.Voxels(remote.Roots()[0]) {
		assert.Zero(t, v.CurrentLOD(), "voxel %d left elevated", v.ID())
	}

	for _, v := range index.Voxels(remote.Roots()[0]) {
		store.Fail(octree.PayloadKey(v.CloudID(), v.ID()))
	}
	res, err = New(remote).Search(context.Background(), vertices, 4)
	require.NoError(t, err)
	assert.Equal(t, res.Volumes, res.Failed)
	assert.Empty(t, res.Neighbours[0])
}

func TestSearch_FewerPointsThanK(t *testing.T) {
	s, _ := scene(t, 4, 1)
	res, err := New(s).Search(context.Background(), []r3.Vector{{}}, 10)
	require.NoError(t, err)
	assert.Len(t, res.Neighbours[0], 4)
}

func TestSearch_Scope(t *testing.T) {
	rng := testutil.NewRNG(2)
	s := octreetest.Build(t, []octreetest.Cloud{
		{Name: "near", Points: rng.UniformPoints(200, box)},
		{Name: "far", Offset: r3.Vector{X: 100}, Points: rng.UniformPoints(200, box)},
	}, octree.WithMaxLeafPoints(32))
	far := s.Clouds()[1]

	res, err := New(s, WithScope(far.ID())).Search(context.Background(), []r3.Vector{{X: 10, Y: 10, Z: 10}}, 5)
	require.NoError(t, err)
	require.Len(t, res.Neighbours[0], 5)
	for _, n := range res.Neighbours[0] {
		assert.GreaterOrEqual(t, n.Pos.X, 100.0)
	}
}

func TestSearch_Parameters(t *testing.T) {
	s, _ := scene(t, 10, 1)
	_, err := New(s).Search(context.Background(), []r3.Vector{{}}, 0)
	assert.ErrorIs(t, err, ErrInvalidK)

	res, err := New(s).Search(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Empty(t, res.Neighbours)
}

func TestSearch_LayersCountEligiblePoints(t *testing.T) {
	s, pos := scene(t, 2000, 5)
	q := r3.Vector{X: 10, Y: 10, Z: 10}
	const inner = 36.0

	// Points within 6 of q move to layer 2; the rest stay on the default layer.
	for _, v := range index.Voxels(s.Roots()[0]) {
		v.Lock()
		v.IteratePoints(index.SpaceProject, index.LayerBits, 1, 0, func(_ int, p r3.Vector, f *uint8) bool {
			if p.Sub(q).Norm2() <= inner {
				*f = 0x02
			}
			return true
		})
		v.Unlock()
	}
	var outer []r3.Vector
	for _, p := range pos {
		if p.Sub(q).Norm2() > inner {
			outer = append(outer, p)
		}
	}

	res, err := New(s, WithLayers(index.DefaultLayer)).Search(context.Background(), []r3.Vector{q}, 5)
	require.NoError(t, err)
	requireExact(t, outer, []r3.Vector{q}, 5, res.Neighbours)
	for _, n := range res.Neighbours[0] {
		assert.Greater(t, n.Dist2, inner)
	}
}
