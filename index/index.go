// Package index defines the contract between the point query engine and the
// hierarchical spatial index that stores the points.
//
// A Scene is a forest with one root Node per point cloud. Internal nodes only
// carry bounds and aggregate counts; leaves are Voxels that own point
// channels, level-of-detail state, flags and a short-lived exclusive lock.
//
// Implementations must be safe for use by one query goroutine and a
// background pager at the same time. Every voxel access made by the query
// engine is bracketed by Lock/Unlock (or TryLock on latency-sensitive paths).
package index

import (
	"context"

	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/geom"
)

// Flag is a node or voxel state bit.
type Flag uint16

const (
	// FlagOutOfCore marks a voxel whose payload lives in a data source and may
	// not be resident.
	FlagOutOfCore Flag = 1 << iota
	// FlagWholeHidden marks a subtree whose points are all hidden.
	FlagWholeHidden
	// FlagWholeClipped marks a subtree that is entirely clipped away.
	FlagWholeClipped
	// FlagPartClipped marks a subtree with some clipped points.
	FlagPartClipped
	// FlagWholeSelected marks a subtree whose points are all selected.
	FlagWholeSelected
	// FlagPartSelected marks a subtree with at least one selected point.
	FlagPartSelected
	// FlagVisible marks a subtree that the renderer considers visible.
	FlagVisible
)

// Point filter byte layout. Bits 0-6 are layer membership, bit 7 is selection.
const (
	SelectedBit  uint8 = 0x80
	LayerBits    uint8 = 0x7f
	DefaultLayer uint8 = 0x01
)

// Channel identifies a per-point channel.
type Channel uint8

const (
	ChannelGeometry Channel = iota
	ChannelRGB
	ChannelIntensity
	ChannelClassification
	ChannelFilter
)

func (c Channel) String() string {
	switch c {
	case ChannelGeometry:
		return "geometry"
	case ChannelRGB:
		return "rgb"
	case ChannelIntensity:
		return "intensity"
	case ChannelClassification:
		return "classification"
	case ChannelFilter:
		return "filter"
	default:
		return "unknown"
	}
}

// CoordSpace selects the frame in which extents and positions are reported.
type CoordSpace uint8

const (
	// SpaceProject is the shared frame of the scene (cloud transform applied).
	SpaceProject CoordSpace = iota
	// SpaceCloud is the untransformed frame of the owning cloud.
	SpaceCloud
)

// Node is an element of the spatial hierarchy.
type Node interface {
	// ID is unique within the scene.
	ID() uint64
	// CloudID identifies the point cloud the node belongs to.
	CloudID() uint32
	// Extents returns the node bounds in the given frame.
	Extents(space CoordSpace) geom.Box
	IsLeaf() bool
	// Child returns the i-th child (0..7) or nil.
	Child(i int) Node
	// FullPointCount is the number of points in the subtree at full density.
	FullPointCount() int
	// NumPointsAtLOD returns the number of points in the subtree at the given
	// fraction. It is monotonic in amount and never exceeds FullPointCount.
	NumPointsAtLOD(amount float64) int
	Flag(f Flag) bool
	SetFlag(f Flag, on bool)
}

// PointVisitor receives the storage index, the transformed position and a
// pointer to the point's filter byte. Returning false stops the iteration.
type PointVisitor func(i int, pos r3.Vector, filter *uint8) bool

// Voxel is a leaf node that holds point data.
type Voxel interface {
	Node

	Lock()
	Unlock()
	TryLock() bool

	// CurrentLOD is the resident fraction. RequestLOD is the fraction the
	// renderer asked for. PreviousLOD is the fraction remembered before a
	// query elevated the voxel.
	CurrentLOD() float64
	RequestLOD() float64
	PreviousLOD() float64
	SetRequestLOD(amount float64)
	SetPreviousLOD(amount float64)

	// LODPointCount is the number of resident points.
	LODPointCount() int

	// Remote reports whether loading needs a round trip to a remote source;
	// such voxels are fetched in batches through FetchLOD.
	Remote() bool

	// LoadLOD makes at least amount of the voxel resident. The caller holds the lock.
	LoadLOD(ctx context.Context, amount float64) error
	// UnloadLOD drops resident points above amount. The caller holds the lock.
	UnloadLOD(amount float64)
	// FetchLOD loads a remote voxel without the caller holding the lock; the
	// implementation locks only while installing the fetched points.
	FetchLOD(ctx context.Context, amount float64) error
	// PayloadBytes estimates the bytes transferred to load amount.
	PayloadBytes(amount float64) int64

	// Pin prevents background eviction until the matching Unpin.
	Pin()
	Unpin()
	Pinned() bool

	// IteratePoints visits resident points with index in [start, NumPointsAtLOD(amount))
	// whose layer bits intersect layerMask, in storage order. The caller holds the lock.
	IteratePoints(space CoordSpace, layerMask uint8, amount float64, start int, fn PointVisitor)

	// Channel accessors take a storage index of a resident point.
	HasChannel(c Channel) bool
	RGB(i int) [3]uint8
	Intensity(i int) int16
	Classification(i int) uint8
	Filter(i int) uint8
}

// Scene is the set of clouds a query runs over.
type Scene interface {
	// Roots returns one root node per cloud in a stable order.
	Roots() []Node
	// Voxel resolves a voxel by ID.
	Voxel(id uint64) (Voxel, bool)
}

// UserChannel is an application defined per-point channel with a fixed
// number of bytes per point.
type UserChannel interface {
	Name() string
	Stride() int
	// Read copies the value of point i into dst (len(dst) == Stride()).
	Read(v Voxel, i int, dst []byte)
	// Write stores src as the value of point i.
	Write(v Voxel, i int, src []byte)
	// Float returns the value as a number, ok=false if the point has no value.
	Float(v Voxel, i int) (float64, bool)
	// Range returns the value bounds over the voxel, ok=false if unknown.
	Range(v Voxel) (lo, hi float64, ok bool)
}

// PointRef identifies one point during a traversal.
type PointRef struct {
	Voxel  Voxel
	Index  int
	Pos    r3.Vector
	Filter *uint8
}

// Selected reports whether the point's selection bit is set.
func (p PointRef) Selected() bool {
	return p.Filter != nil && *p.Filter&SelectedBit != 0
}

// Walk visits n and its descendants depth first. Returning false from fn
// skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	if n.IsLeaf() {
		return
	}
	for i := range 8 {
		if c := n.Child(i); c != nil {
			Walk(c, fn)
		}
	}
}

// Voxels returns the leaves below n in depth-first order.
func Voxels(n Node) []Voxel {
	var out []Voxel
	Walk(n, func(c Node) bool {
		if v, ok := c.(Voxel); ok && c.IsLeaf() {
			out = append(out, v)
		}
		return true
	})
	return out
}
