// Package octree is the point store queried by pointq: a forest of octrees,
// one per cloud, whose leaves are voxels.
//
// A scene is either built in memory with AddCloud or opened from an exported
// manifest. Opened voxels start with no resident payload and are read by
// level of detail: every voxel stores its points in a shuffled order, so the
// first n points are a uniform sample and loading a higher LOD only appends.
package octree

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/codec"
	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/internal/cache"
)

var _ index.Scene = (*Scene)(nil)

// Point is one input point in cloud coordinates.
type Point = codec.Record

// shuffleSeed fixes the LOD order of a voxel for a given ID.
const shuffleSeed = 0x9e3779b97f4a7c15

// Cloud is one point cloud of a scene.
type Cloud struct {
	id     uint32
	name   string
	offset r3.Vector
	root   index.Node
}

func (c *Cloud) ID() uint32 { return c.id }

func (c *Cloud) Name() string { return c.name }

// Offset translates cloud coordinates into project coordinates.
func (c *Cloud) Offset() r3.Vector { return c.offset }

func (c *Cloud) Root() index.Node { return c.root }

// Scene is a set of clouds. It implements index.Scene.
type Scene struct {
	mu     sync.RWMutex
	clouds []*Cloud
	voxels map[uint64]*Voxel
	nextID uint64
	cache  cache.BlockCache
	opts   options
}

// PayloadCacheStats reports the payload block cache of an opened scene.
// It is zero when WithPayloadCache was not set.
func (s *Scene) PayloadCacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}

// NewScene creates an empty scene.
func NewScene(optFns ...Option) *Scene {
	return &Scene{
		voxels: make(map[uint64]*Voxel),
		nextID: 1,
		opts:   applyOptions(optFns),
	}
}

// AddCloud builds an octree over pts and adds it to the scene. pts is
// reordered in place.
func (s *Scene) AddCloud(name string, offset r3.Vector, pts []Point) (*Cloud, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uint32(len(s.clouds) + 1)
	for _, c := range s.clouds {
		if c.name == name {
			return nil, fmt.Errorf("octree: cloud %q already exists", name)
		}
		id = max(id, c.id+1)
	}

	c := &Cloud{id: id, name: name, offset: offset}

	bounds := geom.EmptyBox()
	for _, p := range pts {
		bounds = bounds.Extend(p.Pos)
	}
	if bounds.IsEmpty() {
		bounds = geom.Box{}
	}

	c.root = s.build(c, bounds, pts, 0)
	s.clouds = append(s.clouds, c)

	s.opts.logger.Debug("cloud added", "cloud", name, "id", id, "points", len(pts), "voxels", len(index.Voxels(c.root)))
	return c, nil
}

func (s *Scene) build(c *Cloud, bounds geom.Box, pts []Point, depth int) index.Node {
	if len(pts) <= s.opts.maxLeafPoints || depth >= s.opts.maxDepth {
		v := newVoxel(s.allocID(), c, len(pts), s.opts.channels)
		v.bounds = bounds
		shuffle(v.id, pts)
		_ = v.install(0, pts) // rc is unset, so no memory budget applies
		v.current.Store(1)
		v.request.Store(1)
		v.previous.Store(1)
		s.voxels[v.id] = v
		return v
	}

	n := &Node{base: base{id: s.allocID(), cloud: c, bounds: bounds}}

	var parts [8][]Point
	for _, p := range pts {
		i := bounds.OctantOf(p.Pos)
		parts[i] = append(parts[i], p)
	}
	for i, part := range parts {
		if len(part) > 0 {
			n.setChild(i, s.build(c, bounds.Octant(i), part, depth+1))
		}
	}
	return n
}

func (s *Scene) allocID() uint64 {
	id := s.nextID
	s.nextID++
	return id
}

// Roots returns one root per cloud in insertion order.
func (s *Scene) Roots() []index.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roots := make([]index.Node, len(s.clouds))
	for i, c := range s.clouds {
		roots[i] = c.root
	}
	return roots
}

// Voxel resolves a voxel by ID.
func (s *Scene) Voxel(id uint64) (index.Voxel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.voxels[id]
	if !ok {
		return nil, false
	}
	return v, true
}

// Clouds returns the clouds in insertion order.
func (s *Scene) Clouds() []*Cloud {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*Cloud(nil), s.clouds...)
}

// Cloud resolves a cloud by ID.
func (s *Scene) Cloud(id uint32) (*Cloud, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clouds {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

// NumPoints returns the full point count of the scene.
func (s *Scene) NumPoints() int {
	n := 0
	for _, r := range s.Roots() {
		n += r.FullPointCount()
	}
	return n
}

// SetRequestLOD sets the requested LOD of every voxel, as a renderer would.
func (s *Scene) SetRequestLOD(amount float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.voxels {
		v.SetRequestLOD(amount)
	}
}

func shuffle(seed uint64, pts []Point) {
	r := rand.New(rand.NewPCG(seed, shuffleSeed))
	r.Shuffle(len(pts), func(i, j int) { pts[i], pts[j] = pts[j], pts[i] })
}
