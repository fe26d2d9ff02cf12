package density

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pointq/blobstore"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/octree"
	"github.com/hupe1980/pointq/testutil"
)

func memoryVoxel(t *testing.T) index.Voxel {
	t.Helper()
	s := octree.NewScene()
	_, err := s.AddCloud("c", r3.Vector{}, testutil.GridPoints(4, r3.Vector{}))
	require.NoError(t, err)
	return s.Roots()[0].(index.Voxel)
}

func outOfCoreVoxel(t *testing.T) index.Voxel {
	t.Helper()
	ctx := context.Background()
	s := octree.NewScene()
	_, err := s.AddCloud("c", r3.Vector{}, testutil.GridPoints(4, r3.Vector{}))
	require.NoError(t, err)

	store := blobstore.NewMemoryStore()
	_, err = octree.Export(ctx, s, store)
	require.NoError(t, err)
	opened, err := octree.Open(ctx, store)
	require.NoError(t, err)
	return opened.Roots()[0].(index.Voxel)
}

func TestCompute_Table(t *testing.T) {
	v := memoryVoxel(t)
	v.SetRequestLOD(0.5)

	tests := []struct {
		typ    Type
		coeff  float64
		amount float64
	}{
		{Spatial, 0.3, 1},
		{Full, 0.8, 0.8},
		{View, 1, 0.5},
		{View, 0.5, 0.25},
		{ViewComplete, 1, 0.5},
		{Limit, 0.1, 0.1},
		{Full, 3, 1},
		{Full, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			amount, load := Compute(tt.typ, tt.coeff, v)
			assert.InDelta(t, tt.amount, amount, 1e-12)
			assert.False(t, load, "resident voxels never load")
		})
	}
}

func TestCompute_ViewSamplesHalf(t *testing.T) {
	v := memoryVoxel(t)
	v.SetRequestLOD(0.5)

	amount, load := Compute(View, 1, v)
	assert.False(t, load)
	assert.LessOrEqual(t, v.NumPointsAtLOD(amount), v.FullPointCount()/2)
}

func TestCompute_OutOfCore(t *testing.T) {
	v := outOfCoreVoxel(t)
	require.Zero(t, v.CurrentLOD())

	for _, typ := range []Type{Full, ViewComplete, Limit, Spatial} {
		v.SetRequestLOD(1)
		_, load := Compute(typ, 1, v)
		assert.True(t, load, typ.String())
	}

	// View never asks for more than is resident.
	amount, load := Compute(View, 1, v)
	assert.Zero(t, amount)
	assert.False(t, load)

	v.SetPreviousLOD(0.9)
	amount, load = Prepare(Full, 0.5, v)
	assert.True(t, load)
	assert.Equal(t, 0.5, amount)
	assert.Zero(t, v.PreviousLOD(), "previous LOD is the pre-load LOD")

	v.Lock()
	require.NoError(t, v.LoadLOD(context.Background(), 0.5))
	v.Unlock()

	v.SetPreviousLOD(0.9)
	_, load = Prepare(Full, 0.5, v)
	assert.False(t, load, "already resident")
	assert.Equal(t, 0.9, v.PreviousLOD(), "untouched without a load")
}

func TestParseType(t *testing.T) {
	for typ := Full; typ <= Spatial; typ++ {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseType("dense")
	assert.Error(t, err)
	assert.Equal(t, "density(9)", Type(9).String())
}

func TestLimitCoefficient(t *testing.T) {
	assert.Equal(t, 1.0, LimitCoefficient(10, 0))
	assert.Equal(t, 1.0, LimitCoefficient(100, 50))
	assert.Equal(t, 0.0, LimitCoefficient(0, 50))
	assert.InDelta(t, 0.25, LimitCoefficient(25, 100), 1e-12)
}
