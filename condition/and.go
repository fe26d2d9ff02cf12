package condition

import (
	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
)

// And accepts what all of its parts accept. Parts that accepted the current
// node whole are skipped in ValidPoint.
type And struct {
	parts []Condition
	whole []bool
}

// All combines conditions. Nil parts are ignored.
func All(parts ...Condition) *And {
	a := &And{}
	for _, p := range parts {
		if p != nil {
			a.parts = append(a.parts, p)
		}
	}
	a.whole = make([]bool, len(a.parts))
	return a
}

// Parts returns the combined conditions.
func (a *And) Parts() []Condition { return a.parts }

func (a *And) NodeCheck(n index.Node) bool {
	for _, p := range a.parts {
		if !p.NodeCheck(n) {
			return false
		}
	}
	return true
}

// BoundsCheck calls every part so each records the box.
func (a *And) BoundsCheck(b geom.Box) bool {
	ok := true
	for _, p := range a.parts {
		if !p.BoundsCheck(b) {
			ok = false
		}
	}
	return ok
}

func (a *And) ProcessWhole(n index.Node) bool {
	all := true
	for i, p := range a.parts {
		a.whole[i] = p.ProcessWhole(n)
		all = all && a.whole[i]
	}
	return all
}

func (a *And) EscapeWhole(n index.Node) bool {
	for _, p := range a.parts {
		if p.EscapeWhole(n) {
			return true
		}
	}
	return false
}

func (a *And) ValidPoint(pt index.PointRef) bool {
	for i, p := range a.parts {
		if a.whole[i] {
			continue
		}
		if !p.ValidPoint(pt) {
			return false
		}
	}
	return true
}

func (a *And) Clone() Condition {
	parts := make([]Condition, len(a.parts))
	for i, p := range a.parts {
		parts[i] = p.Clone()
	}
	return All(parts...)
}
