package condition

import (
	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
)

// ChannelRange accepts points whose user channel value lies in [Lo, Hi].
// Voxels whose channel range is known are pruned or accepted whole.
type ChannelRange struct {
	Channel index.UserChannel
	Lo, Hi  float64
}

// InRange returns a ChannelRange condition.
func InRange(ch index.UserChannel, lo, hi float64) *ChannelRange {
	return &ChannelRange{Channel: ch, Lo: lo, Hi: hi}
}

func (c *ChannelRange) NodeCheck(n index.Node) bool { return !c.EscapeWhole(n) }

func (c *ChannelRange) BoundsCheck(geom.Box) bool { return true }

func (c *ChannelRange) ProcessWhole(n index.Node) bool {
	lo, hi, ok := c.voxelRange(n)
	return ok && lo >= c.Lo && hi <= c.Hi
}

func (c *ChannelRange) EscapeWhole(n index.Node) bool {
	lo, hi, ok := c.voxelRange(n)
	return ok && (hi < c.Lo || lo > c.Hi)
}

func (c *ChannelRange) ValidPoint(p index.PointRef) bool {
	v, ok := c.Channel.Float(p.Voxel, p.Index)
	return ok && v >= c.Lo && v <= c.Hi
}

func (c *ChannelRange) Clone() Condition {
	cp := *c
	return &cp
}

func (c *ChannelRange) voxelRange(n index.Node) (float64, float64, bool) {
	v, ok := n.(index.Voxel)
	if !ok || !n.IsLeaf() {
		return 0, 0, false
	}
	return c.Channel.Range(v)
}
