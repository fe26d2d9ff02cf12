package query

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pointq/condition"
	"github.com/hupe1980/pointq/density"
	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/octree"
	"github.com/hupe1980/pointq/octree/octreetest"
	"github.com/hupe1980/pointq/pager"
	"github.com/hupe1980/pointq/resource"
	"github.com/hupe1980/pointq/stream"
	"github.com/hupe1980/pointq/testutil"
)

var (
	cloudBox = geom.NewBox(r3.Vector{}, r3.Vector{X: 10, Y: 10, Z: 10})
	inner    = geom.NewBox(r3.Vector{X: 2, Y: 2, Z: 2}, r3.Vector{X: 7, Y: 8, Z: 6})
)

func testScene(t *testing.T, n int) (*octree.Scene, []r3.Vector) {
	t.Helper()
	pts := testutil.NewRNG(3).UniformPoints(n, cloudBox)
	s := octreetest.Build(t, []octreetest.Cloud{{Name: "scan", Points: pts}}, octree.WithMaxLeafPoints(50))
	return s, testutil.Positions(pts, r3.Vector{})
}

// drain runs q until it returns zero points.
func drain(t *testing.T, q *Query, size int) []PointID {
	t.Helper()
	var all []PointID
	for range 10000 {
		buf := &Buffers{Geometry: make([]float64, 3*size)}
		n, err := q.Run(context.Background(), size, buf)
		require.NoError(t, err)
		require.LessOrEqual(t, n, size)
		if n == 0 {
			require.True(t, q.Done())
			return all
		}
		all = append(all, q.Last().Trace...)
	}
	t.Fatal("query did not terminate")
	return nil
}

func requireUnique(t *testing.T, ids []PointID) {
	t.Helper()
	seen := make(map[PointID]bool, len(ids))
	for _, id := range ids {
		require.False(t, seen[id], "point %v returned twice", id)
		seen[id] = true
	}
}

func TestQuery_Run(t *testing.T) {
	s, pos := testScene(t, 1200)
	q := New(s, condition.Box(inner))

	first := drain(t, q, 97)
	requireUnique(t, first)
	assert.Len(t, first, testutil.CountInside(pos, inner))

	buf := &Buffers{Geometry: make([]float64, 30)}
	n, err := q.Run(context.Background(), 10, buf)
	require.NoError(t, err)
	assert.Zero(t, n, "an exhausted query stays exhausted")

	q.Reset()
	assert.Equal(t, first, drain(t, q, 500), "order is stable across resets")
}

func TestQuery_RunParameters(t *testing.T) {
	s, _ := testScene(t, 100)
	q := NewAll(s)
	ctx := context.Background()

	_, err := q.Run(ctx, 0, &Buffers{Geometry: make([]float64, 3)})
	assert.ErrorIs(t, err, ErrBufferSize)
	_, err = q.Run(ctx, 1, &Buffers{})
	assert.ErrorIs(t, err, ErrNoBuffers)
	_, err = q.Run(ctx, 10, &Buffers{Geometry: make([]float64, 3)})
	assert.ErrorIs(t, err, ErrShortBuffer)
	_, err = q.Run(ctx, 1, &Buffers{Geometry: make([]float64, 3), Geometry32: make([]float32, 3)})
	assert.ErrorIs(t, err, ErrUnsupportedStride)
	assert.Equal(t, State{}, q.State())
}

func TestQuery_Scope(t *testing.T) {
	rng := testutil.NewRNG(5)
	s := octreetest.Build(t, []octreetest.Cloud{
		{Name: "a", Points: rng.UniformPoints(300, cloudBox)},
		{Name: "b", Offset: r3.Vector{X: 50}, Points: rng.UniformPoints(200, cloudBox)},
	}, octree.WithMaxLeafPoints(40))
	b := s.Clouds()[1]

	q := NewAll(s)
	assert.Len(t, drain(t, q, 64), 500)

	q.SetScope(b.ID())
	assert.False(t, q.Done(), "scope changes reset the query")
	assert.Len(t, drain(t, q, 64), 200)

	n, err := q.ComputeNumPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), n)

	q.SetScope()
	assert.Len(t, drain(t, q, 64), 500)
}

func TestQuery_ConfigurationResets(t *testing.T) {
	s, _ := testScene(t, 400)
	q := NewAll(s)
	buf := &Buffers{Geometry: make([]float64, 30), RGB: make([]uint8, 30)}

	n, err := q.Run(context.Background(), 10, buf)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	st := q.State()
	require.True(t, st.Resume)

	q.SetRGBMode(RGBIntensity)
	assert.Equal(t, st, q.State())

	q.SetLayers(index.DefaultLayer)
	assert.Equal(t, State{}, q.State())

	_, err = q.Run(context.Background(), 10, buf)
	require.NoError(t, err)
	require.NoError(t, q.SetDensity(density.Full, 0.5))
	assert.Equal(t, State{}, q.State())
}

func TestQuery_SetDensity(t *testing.T) {
	s, _ := testScene(t, 10)
	q := New(s, nil)

	assert.ErrorIs(t, q.SetDensity(density.Full, -1), ErrInvalidDensity)
	assert.ErrorIs(t, q.SetDensity(density.Full, math.NaN()), ErrInvalidDensity)
	assert.ErrorIs(t, q.SetDensity(density.Spatial, 0), ErrInvalidDensity)
	assert.ErrorIs(t, q.SetDensity(density.Type(42), 1), ErrInvalidDensity)
	require.NoError(t, q.SetDensity(density.View, 1))

	a := NewAnalytical(s, nil)
	assert.ErrorIs(t, a.SetDensity(density.View, 1), ErrInvalidDensity)
	assert.ErrorIs(t, a.SetDensity(density.ViewComplete, 1), ErrInvalidDensity)
	require.NoError(t, a.SetDensity(density.Limit, 5))
	typ, coeff := a.Density()
	assert.Equal(t, density.Limit, typ)
	assert.Equal(t, 5.0, coeff)
}

func TestQuery_Limit(t *testing.T) {
	s, _ := testScene(t, 1500)
	voxels := len(index.Voxels(s.Roots()[0]))

	q := NewAll(s)
	require.NoError(t, q.SetDensity(density.Limit, 300))
	got := drain(t, q, 128)
	requireUnique(t, got)
	assert.LessOrEqual(t, len(got), 300)
	assert.GreaterOrEqual(t, len(got), 300-voxels)
}

func TestQuery_Spatial(t *testing.T) {
	s := octreetest.Build(t, []octreetest.Cloud{{Name: "grid", Points: testutil.GridPoints(6, r3.Vector{})}}, octree.WithMaxLeafPoints(20))

	q := NewAll(s)
	require.NoError(t, q.SetDensity(density.Spatial, 2))
	assert.Len(t, drain(t, q, 4), 27)

	q.Reset()
	assert.Len(t, drain(t, q, 100), 27, "reset frees the grid")
}

func TestQuery_SpatialGridFailure(t *testing.T) {
	s, _ := testScene(t, 100)
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 32})

	q := NewAll(s, WithResourceController(rc))
	require.NoError(t, q.SetDensity(density.Spatial, 1))

	n, err := q.Run(context.Background(), 10, &Buffers{Geometry: make([]float64, 30)})
	assert.Equal(t, -1, n)
	assert.ErrorIs(t, err, ErrGridAllocation)
	assert.Equal(t, State{}, q.State())
}

func TestQuery_Select(t *testing.T) {
	s, pos := testScene(t, 800)
	sphere := geom.Sphere{Center: r3.Vector{X: 5, Y: 5, Z: 5}, Radius: 3}
	want := testutil.CountInside(pos, sphere)
	ctx := context.Background()

	q := New(s, condition.Sphere(sphere.Center, sphere.Radius))
	n, err := q.Select(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, want, n)

	selected := New(s, condition.Selected{})
	assert.Len(t, drain(t, selected, 50), want)

	_, err = q.Select(ctx, false)
	require.NoError(t, err)
	selected.Reset()
	assert.Empty(t, drain(t, selected, 50))
}

func TestQuery_SubmitChannelUpdate(t *testing.T) {
	s, pos := testScene(t, 600)
	ch := octree.NewUserChannel("class", 4)
	ctx := context.Background()

	q := New(s, condition.Box(inner))
	buf := &Buffers{Geometry: make([]float64, 3*600)}
	n, err := q.Run(ctx, 600, buf)
	require.NoError(t, err)
	require.Equal(t, testutil.CountInside(pos, inner), n)

	data := make([]byte, 0, 4*n)
	for range n {
		data = append(data, octree.EncodeFloat(4, 7)...)
	}
	written, err := q.SubmitChannelUpdate(ch, data)
	require.NoError(t, err)
	assert.Equal(t, n, written)

	_, err = q.SubmitChannelUpdate(ch, data[:4])
	assert.ErrorIs(t, err, ErrShortBuffer)
	_, err = q.SubmitChannelUpdate(nil, data)
	assert.ErrorIs(t, err, ErrNoBuffers)

	tagged := New(s, condition.InRange(ch, 6, 8))
	assert.Len(t, drain(t, tagged, 100), n)

	all := NewAll(s)
	values := make([]byte, 4*600)
	got, err := all.RunDetailed(ctx, 600, &Buffers{Layers: make([]uint8, 600)}, []ChannelBuffer{{Channel: ch, Data: values}})
	require.NoError(t, err)
	require.Equal(t, 600, got)
	tags := 0
	for i := range got {
		if string(values[4*i:4*i+4]) == string(octree.EncodeFloat(4, 7)) {
			tags++
		}
	}
	assert.Equal(t, n, tags)
}

func TestQuery_Frustum(t *testing.T) {
	s, pos := testScene(t, 1500)
	eye := r3.Vector{X: -5, Y: 5, Z: 5}
	f := geom.NewFrustum(eye, r3.Vector{X: 1}, r3.Vector{Z: 1}, math.Pi/3, 1, 1, 100)

	q := NewFrustum(s, f)
	assert.Equal(t, KindFrustum, q.Kind())
	got := drain(t, q, 64)
	requireUnique(t, got)
	assert.Len(t, got, testutil.CountInside(pos, f))

	root := s.Roots()[0]
	require.False(t, root.IsLeaf())
	prev := -1.0
	for _, i := range frontToBack(eye, index.SpaceProject)(root) {
		c := root.Child(i)
		if c == nil {
			continue
		}
		d := c.Extents(index.SpaceProject).MinDist2(eye)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestQuery_RemoteSharedStream(t *testing.T) {
	local, pos := testScene(t, 900)
	remote, _ := octreetest.Remote(t, local)
	m := stream.New()
	p := pager.New(remote)

	q := New(remote, condition.Box(inner), WithStream(m), WithPager(p))
	got := drain(t, q, 200)
	requireUnique(t, got)
	assert.Len(t, got, testutil.CountInside(pos, inner))
	assert.Positive(t, m.Stats().Batches)
	assert.False(t, p.Paused())

	for _, v := range index.Voxels(remote.Roots()[0]) {
		assert.False(t, v.Pinned())
	}
}

func TestQuery_ResetReleasesPartialVoxel(t *testing.T) {
	local := octreetest.Build(t, []octreetest.Cloud{{Name: "grid", Points: testutil.GridPoints(4, r3.Vector{})}})
	remote, _ := octreetest.Remote(t, local)

	q := NewAll(remote)
	n, err := q.Run(context.Background(), 7, &Buffers{Geometry: make([]float64, 21)})
	require.NoError(t, err)
	require.Equal(t, 7, n)

	st := q.State()
	require.Equal(t, remote.Roots()[0].ID(), st.Partial)
	v, ok := remote.Voxel(st.Partial)
	require.True(t, ok)
	assert.True(t, v.Pinned())

	require.NoError(t, q.Close())
	assert.False(t, v.Pinned())
	assert.Zero(t, v.CurrentLOD())
}
