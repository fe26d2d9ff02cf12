package octree

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pointq/blobstore"
	"github.com/hupe1980/pointq/codec"
	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/manifest"
	"github.com/hupe1980/pointq/resource"
	"github.com/hupe1980/pointq/testutil"
)

func buildScene(t *testing.T, n int, opts ...Option) (*Scene, []Point) {
	t.Helper()
	rng := testutil.NewRNG(42)
	pts := rng.UniformPoints(n, geom.NewBox(r3.Vector{}, r3.Vector{X: 10, Y: 10, Z: 10}))
	orig := append([]Point(nil), pts...)

	s := NewScene(append([]Option{WithMaxLeafPoints(64)}, opts...)...)
	_, err := s.AddCloud("cloud", r3.Vector{X: 100}, pts)
	require.NoError(t, err)
	return s, orig
}

func collect(v index.Voxel, space index.CoordSpace, amount float64) []r3.Vector {
	var out []r3.Vector
	v.IteratePoints(space, index.LayerBits, amount, 0, func(_ int, p r3.Vector, _ *uint8) bool {
		out = append(out, p)
		return true
	})
	return out
}

func TestScene_Build(t *testing.T) {
	s, pts := buildScene(t, 1000)

	roots := s.Roots()
	require.Len(t, roots, 1)
	root := roots[0]
	assert.False(t, root.IsLeaf())
	assert.Equal(t, 1000, root.FullPointCount())
	assert.Equal(t, 1000, s.NumPoints())

	seen := make(map[uint64]bool)
	total := 0
	index.Walk(root, func(n index.Node) bool {
		assert.False(t, seen[n.ID()], "duplicate node id")
		seen[n.ID()] = true
		return true
	})

	for _, v := range index.Voxels(root) {
		assert.LessOrEqual(t, v.FullPointCount(), 64)
		assert.Equal(t, 1.0, v.CurrentLOD())
		for _, p := range collect(v, index.SpaceCloud, 1) {
			assert.True(t, v.Extents(index.SpaceCloud).Contains(p))
		}
		total += v.FullPointCount()

		got, ok := s.Voxel(v.ID())
		require.True(t, ok)
		assert.Same(t, v, got)
	}
	assert.Equal(t, len(pts), total)

	_, err := s.AddCloud("cloud", r3.Vector{}, nil)
	assert.Error(t, err, "duplicate cloud name")
}

func TestScene_ProjectSpace(t *testing.T) {
	s, _ := buildScene(t, 200)
	root := s.Roots()[0]

	cloudBox := root.Extents(index.SpaceCloud)
	projBox := root.Extents(index.SpaceProject)
	assert.InDelta(t, cloudBox.Min.X+100, projBox.Min.X, 1e-9)

	v := index.Voxels(root)[0]
	c, p := collect(v, index.SpaceCloud, 1), collect(v, index.SpaceProject, 1)
	require.Equal(t, len(c), len(p))
	assert.InDelta(t, c[0].X+100, p[0].X, 1e-9)
}

func TestVoxel_LODAndLayers(t *testing.T) {
	s, _ := buildScene(t, 50, WithMaxLeafPoints(100))
	v := index.Voxels(s.Roots()[0])[0]
	require.Equal(t, 50, v.FullPointCount())

	assert.Equal(t, 25, v.NumPointsAtLOD(0.5))
	assert.Equal(t, 0, v.NumPointsAtLOD(0))
	assert.Equal(t, 50, v.NumPointsAtLOD(2))
	assert.Len(t, collect(v, index.SpaceCloud, 0.5), 25)

	// Hide every second point from the default layer.
	v.Lock()
	v.IteratePoints(index.SpaceCloud, index.LayerBits, 1, 0, func(i int, _ r3.Vector, f *uint8) bool {
		if i%2 == 0 {
			*f = 0x02
		}
		return true
	})
	v.Unlock()

	n := 0
	v.IteratePoints(index.SpaceCloud, index.DefaultLayer, 1, 0, func(i int, _ r3.Vector, _ *uint8) bool {
		assert.Equal(t, 1, i%2)
		n++
		return true
	})
	assert.Equal(t, 25, n)

	// start and early stop
	var idx []int
	v.IteratePoints(index.SpaceCloud, index.LayerBits, 1, 45, func(i int, _ r3.Vector, _ *uint8) bool {
		idx = append(idx, i)
		return len(idx) < 3
	})
	assert.Equal(t, []int{45, 46, 47}, idx)
}

func TestNode_Flags(t *testing.T) {
	s, _ := buildScene(t, 10)
	root := s.Roots()[0]

	root.SetFlag(index.FlagWholeSelected, true)
	root.SetFlag(index.FlagPartSelected, true)
	assert.True(t, root.Flag(index.FlagWholeSelected))
	root.SetFlag(index.FlagWholeSelected, false)
	assert.False(t, root.Flag(index.FlagWholeSelected))
	assert.True(t, root.Flag(index.FlagPartSelected))
}

func exportScene(t *testing.T, s *Scene, store blobstore.BlobStore) *manifest.Manifest {
	t.Helper()
	m, err := Export(context.Background(), s, store, WithChunkPoints(16), WithCompression(codec.CompressionZSTD))
	require.NoError(t, err)
	return m
}

func TestExportOpen(t *testing.T) {
	ctx := context.Background()
	s, pts := buildScene(t, 500)
	store := blobstore.NewMemoryStore()

	m := exportScene(t, s, store)
	assert.Equal(t, uint64(1), m.ID)
	assert.Equal(t, len(index.Voxels(s.Roots()[0])), m.Leaves())

	rc := resource.NewController(resource.Config{})
	opened, err := Open(ctx, store, WithResourceController(rc))
	require.NoError(t, err)
	require.Len(t, opened.Clouds(), 1)
	assert.Equal(t, "cloud", opened.Clouds()[0].Name())
	assert.Equal(t, 500, opened.NumPoints())

	var got []r3.Vector
	for _, v := range index.Voxels(opened.Roots()[0]) {
		assert.True(t, v.Flag(index.FlagOutOfCore))
		assert.False(t, v.Remote())
		assert.Zero(t, v.CurrentLOD())
		assert.Zero(t, v.LODPointCount())
		assert.Positive(t, v.PayloadBytes(1))

		v.Lock()
		require.NoError(t, v.LoadLOD(ctx, 1))
		v.Unlock()
		assert.Equal(t, v.FullPointCount(), v.LODPointCount())
		got = append(got, collect(v, index.SpaceCloud, 1)...)
	}
	assert.Positive(t, rc.MemoryUsage())

	want := testutil.Positions(pts, r3.Vector{})
	require.Len(t, got, len(want))
	for _, w := range want {
		nn := testutil.BruteForceKNN(got, w, 1)
		assert.Less(t, nn[0].Dist2, 1e-8)
	}

	for _, v := range index.Voxels(opened.Roots()[0]) {
		v.Lock()
		v.UnloadLOD(0)
		v.Unlock()
	}
	assert.Zero(t, rc.MemoryUsage())
}

func TestVoxel_IncrementalLoad(t *testing.T) {
	ctx := context.Background()
	s, _ := buildScene(t, 60, WithMaxLeafPoints(100))
	store := blobstore.NewMemoryStore()
	exportScene(t, s, store)

	inMem := index.Voxels(s.Roots()[0])[0]
	want := collect(inMem, index.SpaceProject, 1)

	opened, err := Open(ctx, store, WithRemote(true))
	require.NoError(t, err)
	v := index.Voxels(opened.Roots()[0])[0]
	assert.True(t, v.Remote())

	// The first half is a prefix of the full storage order.
	require.NoError(t, v.FetchLOD(ctx, 0.5))
	assert.Equal(t, 0.5, v.CurrentLOD())
	assert.Equal(t, 30, v.LODPointCount())
	half := collect(v, index.SpaceProject, 1)
	require.Len(t, half, 30)
	for i := range half {
		assert.InDelta(t, want[i].X, half[i].X, 1e-4)
	}

	require.NoError(t, v.FetchLOD(ctx, 1))
	full := collect(v, index.SpaceProject, 1)
	require.Len(t, full, 60)
	for i := range full {
		assert.InDelta(t, want[i].Z, full[i].Z, 1e-4)
	}

	v.Lock()
	v.UnloadLOD(0.25)
	v.Unlock()
	assert.Equal(t, 15, v.LODPointCount())
	assert.Equal(t, 0.25, v.CurrentLOD())
	assert.Zero(t, v.PayloadBytes(0.2))
}

func TestOpen_PayloadCache(t *testing.T) {
	ctx := context.Background()
	s, _ := buildScene(t, 60, WithMaxLeafPoints(100))
	store := blobstore.NewMemoryStore()
	exportScene(t, s, store)

	opened, err := Open(ctx, store, WithPayloadCache(64<<20))
	require.NoError(t, err)
	v := index.Voxels(opened.Roots()[0])[0]

	v.Lock()
	require.NoError(t, v.LoadLOD(ctx, 1))
	v.UnloadLOD(0)
	v.Unlock()
	reads := store.Reads()
	assert.Positive(t, reads)

	v.Lock()
	require.NoError(t, v.LoadLOD(ctx, 1))
	v.Unlock()
	assert.Equal(t, 60, v.LODPointCount())
	assert.Equal(t, reads, store.Reads(), "reload served from the cache")
	assert.Positive(t, opened.PayloadCacheStats().Hits)

	plain, err := Open(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, plain.PayloadCacheStats())
}

func TestVoxel_MemoryLimit(t *testing.T) {
	ctx := context.Background()
	s, _ := buildScene(t, 60, WithMaxLeafPoints(100))
	store := blobstore.NewMemoryStore()
	exportScene(t, s, store)

	rc := resource.NewController(resource.Config{MemoryLimitBytes: 10})
	opened, err := Open(ctx, store, WithResourceController(rc))
	require.NoError(t, err)

	v := index.Voxels(opened.Roots()[0])[0]
	v.Lock()
	err = v.LoadLOD(ctx, 1)
	v.Unlock()
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Zero(t, v.LODPointCount())
}

func TestVoxel_Pin(t *testing.T) {
	s, _ := buildScene(t, 10)
	v := index.Voxels(s.Roots()[0])[0]

	assert.False(t, v.Pinned())
	v.Pin()
	v.Pin()
	v.Unpin()
	assert.True(t, v.Pinned())
	v.Unpin()
	v.Unpin()
	assert.False(t, v.Pinned())
	v.Pin()
	assert.True(t, v.Pinned())
}

func TestEmptyCloud(t *testing.T) {
	s := NewScene()
	c, err := s.AddCloud("empty", r3.Vector{}, nil)
	require.NoError(t, err)
	assert.True(t, c.Root().IsLeaf())
	assert.Zero(t, c.Root().FullPointCount())

	store := blobstore.NewMemoryStore()
	m, err := Export(context.Background(), s, store)
	require.NoError(t, err)
	assert.Empty(t, m.Clouds[0].Root.Payload)

	opened, err := FromManifest(m, store)
	require.NoError(t, err)
	assert.Zero(t, opened.NumPoints())
}
