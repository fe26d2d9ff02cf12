package manifest

import (
	"fmt"
	"time"

	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/codec"
	"github.com/hupe1980/pointq/geom"
)

const (
	ManifestPrefix  = "manifest"
	CurrentFileName = "CURRENT"
	CurrentVersion  = 1
)

// Manifest describes an exported scene at a specific point in time.
type Manifest struct {
	Version     int               `json:"version"`
	ID          uint64            `json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	Codec       string            `json:"codec"`
	Compression codec.Compression `json:"compression"`
	ChunkPoints int               `json:"chunk_points"`
	Clouds      []Cloud           `json:"clouds"`
}

// Cloud is one point cloud of the scene.
type Cloud struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
	// Offset translates cloud coordinates into project coordinates.
	Offset [3]float64 `json:"offset"`
	Root   *Node      `json:"root"`
}

// Node is one octree node. Leaves carry the key of their payload blob.
type Node struct {
	ID       uint64     `json:"id"`
	Octant   int        `json:"octant"`
	Min      [3]float64 `json:"min"`
	Max      [3]float64 `json:"max"`
	Points   int        `json:"points"`
	Channels uint8      `json:"channels,omitempty"`
	Payload  string     `json:"payload,omitempty"`
	Children []*Node    `json:"children,omitempty"`
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Bounds returns the node box in cloud coordinates.
func (n *Node) Bounds() geom.Box {
	return geom.Box{Min: Vec(n.Min), Max: Vec(n.Max)}
}

// SetBounds stores b as the node box.
func (n *Node) SetBounds(b geom.Box) {
	n.Min = Array(b.Min)
	n.Max = Array(b.Max)
}

// Vec converts a stored triple to a vector.
func Vec(a [3]float64) r3.Vector { return r3.Vector{X: a[0], Y: a[1], Z: a[2]} }

// Array converts a vector to a stored triple.
func Array(v r3.Vector) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// Leaves returns the number of leaf nodes across all clouds.
func (m *Manifest) Leaves() int {
	n := 0
	for _, c := range m.Clouds {
		walk(c.Root, func(nd *Node) {
			if nd.IsLeaf() {
				n++
			}
		})
	}
	return n
}

// Validate checks version and structural consistency: unique IDs, leaf
// payloads, child octants and aggregated point counts.
func (m *Manifest) Validate() error {
	if m.Version != CurrentVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, m.Version, CurrentVersion)
	}

	ids := make(map[uint64]struct{})
	clouds := make(map[uint32]struct{})

	for _, c := range m.Clouds {
		if _, dup := clouds[c.ID]; dup {
			return fmt.Errorf("%w: duplicate cloud %d", ErrInvalid, c.ID)
		}
		clouds[c.ID] = struct{}{}

		if c.Root == nil {
			return fmt.Errorf("%w: cloud %d has no root", ErrInvalid, c.ID)
		}

		var err error
		walk(c.Root, func(n *Node) {
			if err != nil {
				return
			}
			if _, dup := ids[n.ID]; dup {
				err = fmt.Errorf("%w: duplicate node %d", ErrInvalid, n.ID)
				return
			}
			ids[n.ID] = struct{}{}

			if n.IsLeaf() {
				if n.Points > 0 && n.Payload == "" {
					err = fmt.Errorf("%w: leaf %d has no payload", ErrInvalid, n.ID)
				}
				return
			}

			sum := 0
			for _, ch := range n.Children {
				if ch.Octant < 0 || ch.Octant > 7 {
					err = fmt.Errorf("%w: node %d has octant %d", ErrInvalid, ch.ID, ch.Octant)
					return
				}
				sum += ch.Points
			}
			if sum != n.Points {
				err = fmt.Errorf("%w: node %d counts %d points, children hold %d", ErrInvalid, n.ID, n.Points, sum)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func walk(n *Node, fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		walk(c, fn)
	}
}
