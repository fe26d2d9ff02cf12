// Package density maps a query's density setting and a voxel's LOD state to
// the fraction of the voxel a query reads and whether it must be loaded.
package density

import (
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/pointq/index"
)

// Type selects how a query samples each voxel.
type Type uint8

const (
	// Full reads coeff of every voxel, loading as needed.
	Full Type = iota
	// View reads what the renderer shows: coeff of the smaller of the
	// resident and requested LOD. It never loads.
	View
	// ViewComplete reads coeff of the requested LOD, loading as needed.
	ViewComplete
	// Limit reads a fraction chosen so the whole query yields about a
	// requested number of points.
	Limit
	// Spatial reads every point and keeps one per grid cell of edge coeff.
	Spatial
)

func (t Type) String() string {
	switch t {
	case Full:
		return "full"
	case View:
		return "view"
	case ViewComplete:
		return "view-complete"
	case Limit:
		return "limit"
	case Spatial:
		return "spatial"
	default:
		return fmt.Sprintf("density(%d)", uint8(t))
	}
}

// ParseType parses the String form of a Type.
func ParseType(s string) (Type, error) {
	for t := Full; t <= Spatial; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("density: unknown type %q", s)
}

// Compute returns the fraction of v to read, clamped to [0, 1], and whether
// the voxel must be loaded first. Out-of-core voxels always load unless the
// resident LOD already covers the fraction.
func Compute(t Type, coeff float64, v index.Voxel) (amount float64, load bool) {
	switch t {
	case Spatial:
		amount, load = 1, true
	case Full, Limit:
		amount, load = coeff, true
	case View:
		amount, load = coeff*math.Min(v.CurrentLOD(), v.RequestLOD()), false
	case ViewComplete:
		amount, load = coeff*v.RequestLOD(), true
	default:
		amount, load = coeff, true
	}

	amount = math.Max(0, math.Min(1, amount))
	if v.Flag(index.FlagOutOfCore) {
		load = true
	}
	if v.CurrentLOD() >= amount {
		load = false
	}
	return amount, load
}

// Prepare is Compute for a traversal about to read v: when v will be loaded
// its current LOD is remembered as the previous LOD so it can be restored.
func Prepare(t Type, coeff float64, v index.Voxel) (amount float64, load bool) {
	amount, load = Compute(t, coeff, v)
	if load {
		v.SetPreviousLOD(v.CurrentLOD())
	}
	return amount, load
}

// LimitCoefficient returns the fraction that scales total points down to
// about limit.
func LimitCoefficient(limit, total int64) float64 {
	if total <= 0 || limit >= total {
		return 1
	}
	if limit <= 0 {
		return 0
	}
	return float64(limit) / float64(total)
}
