// Package condition provides the predicates that drive a point query.
//
// A traversal asks a Condition about every node in a fixed order:
//
//  1. NodeCheck with the node's flags
//  2. BoundsCheck with the node box in the query frame
//  3. EscapeWhole and ProcessWhole, which read what BoundsCheck recorded
//  4. ValidPoint for each point, unless ProcessWhole accepted the node
//
// Conditions may cache per-node state between these calls, so one instance
// must not be shared by concurrent traversals. Clone returns an independent
// copy for each traversal.
package condition

import (
	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
)

// Condition decides which nodes a query visits and which points it accepts.
type Condition interface {
	// NodeCheck reports whether the node's flags allow a visit.
	NodeCheck(n index.Node) bool
	// BoundsCheck receives the node box in the query frame and reports whether
	// traversal should continue into it.
	BoundsCheck(b geom.Box) bool
	// ProcessWhole reports that every point of the node qualifies.
	ProcessWhole(n index.Node) bool
	// EscapeWhole reports that no point of the node qualifies.
	EscapeWhole(n index.Node) bool
	// ValidPoint tests one point. It may read and write the filter byte.
	ValidPoint(p index.PointRef) bool
	// Clone returns a copy with fresh per-traversal state.
	Clone() Condition
}

var (
	_ Condition = Null{}
	_ Condition = Visible{}
	_ Condition = Selected{}
	_ Condition = Layer{}
	_ Condition = (*Volume)(nil)
	_ Condition = (*ChannelRange)(nil)
	_ Condition = (*And)(nil)
)

// Null accepts every node and point.
type Null struct{}

func (Null) NodeCheck(index.Node) bool      { return true }
func (Null) BoundsCheck(geom.Box) bool      { return true }
func (Null) ProcessWhole(index.Node) bool   { return true }
func (Null) EscapeWhole(index.Node) bool    { return false }
func (Null) ValidPoint(index.PointRef) bool { return true }
func (c Null) Clone() Condition             { return c }

// Visible accepts points that are neither hidden nor clipped.
type Visible struct{}

func (Visible) NodeCheck(n index.Node) bool {
	return !n.Flag(index.FlagWholeHidden) && !n.Flag(index.FlagWholeClipped)
}

func (Visible) BoundsCheck(geom.Box) bool { return true }

func (Visible) ProcessWhole(n index.Node) bool {
	return !n.Flag(index.FlagPartClipped)
}

func (Visible) EscapeWhole(n index.Node) bool {
	return n.Flag(index.FlagWholeHidden) || n.Flag(index.FlagWholeClipped)
}

func (Visible) ValidPoint(p index.PointRef) bool {
	return p.Filter == nil || *p.Filter&index.LayerBits != 0
}

func (c Visible) Clone() Condition { return c }

// Selected accepts points whose selection bit is set. It relies on the
// selection flags maintained by the selection pass to prune nodes.
type Selected struct{}

func (Selected) NodeCheck(n index.Node) bool {
	return n.Flag(index.FlagPartSelected) || n.Flag(index.FlagWholeSelected)
}

func (Selected) BoundsCheck(geom.Box) bool { return true }

func (Selected) ProcessWhole(n index.Node) bool {
	return n.Flag(index.FlagWholeSelected)
}

func (Selected) EscapeWhole(n index.Node) bool {
	return !n.Flag(index.FlagPartSelected) && !n.Flag(index.FlagWholeSelected)
}

func (Selected) ValidPoint(p index.PointRef) bool { return p.Selected() }

func (c Selected) Clone() Condition { return c }

// Layer accepts points in any of the layers of Mask.
type Layer struct {
	Mask uint8
}

func (Layer) NodeCheck(index.Node) bool    { return true }
func (Layer) BoundsCheck(geom.Box) bool    { return true }
func (Layer) ProcessWhole(index.Node) bool { return false }
func (Layer) EscapeWhole(index.Node) bool  { return false }

func (c Layer) ValidPoint(p index.PointRef) bool {
	return p.Filter != nil && *p.Filter&c.Mask&index.LayerBits != 0
}

func (c Layer) Clone() Condition { return c }
