package pager

import (
	"context"

	"github.com/hupe1980/pointq/index"
)

// VoxelLoader brackets one query's use of a voxel. It raises the voxel to the
// requested fraction when created and, on Release, returns it to the LOD it
// had before the query unless the voxel is pinned or KeepResident was called.
// The caller holds the voxel lock for the loader's whole lifetime.
type VoxelLoader struct {
	v        index.Voxel
	elevated bool
	keep     bool
	err      error
}

// NewVoxelLoader loads v to amount when load is set.
func NewVoxelLoader(ctx context.Context, v index.Voxel, amount float64, load bool) *VoxelLoader {
	l := &VoxelLoader{v: v}
	if load {
		l.err = v.LoadLOD(ctx, amount)
		l.elevated = l.err == nil
	}
	return l
}

// Adopt wraps a voxel another component already elevated for this query,
// such as a batched remote fetch.
func Adopt(v index.Voxel) *VoxelLoader {
	return &VoxelLoader{v: v, elevated: true}
}

// Err returns the load error.
func (l *VoxelLoader) Err() error { return l.err }

// Elevated reports whether the query raised the voxel's LOD.
func (l *VoxelLoader) Elevated() bool { return l.elevated }

// KeepResident suppresses the unload on Release.
func (l *VoxelLoader) KeepResident() { l.keep = true }

// Release restores the voxel's previous LOD.
func (l *VoxelLoader) Release() {
	if !l.elevated || l.keep || l.v.Pinned() {
		return
	}
	l.v.UnloadLOD(l.v.PreviousLOD())
	l.elevated = false
}
