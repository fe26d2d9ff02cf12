package octree

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/hupe1980/pointq/index"
)

var _ index.UserChannel = (*UserChannel)(nil)

// UserChannel stores an application defined value per point, keyed by voxel
// and storage index. Values of stride 1, 2, 4 and 8 bytes are read as uint8,
// int16, float32 and float64 by Float.
type UserChannel struct {
	name   string
	stride int

	mu     sync.RWMutex
	data   map[uint64][]byte
	set    map[uint64][]bool
	ranges map[uint64][2]float64
}

// NewUserChannel creates an empty channel.
func NewUserChannel(name string, stride int) *UserChannel {
	return &UserChannel{
		name:   name,
		stride: max(stride, 1),
		data:   make(map[uint64][]byte),
		set:    make(map[uint64][]bool),
		ranges: make(map[uint64][2]float64),
	}
}

func (c *UserChannel) Name() string { return c.name }

func (c *UserChannel) Stride() int { return c.stride }

// Read copies the value of point i into dst. Unset values read as zero.
func (c *UserChannel) Read(v index.Voxel, i int, dst []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	buf := c.data[v.ID()]
	off := i * c.stride
	if off+c.stride > len(buf) {
		clear(dst)
		return
	}
	copy(dst, buf[off:off+c.stride])
}

// Write stores src as the value of point i.
func (c *UserChannel) Write(v index.Voxel, i int, src []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := v.ID()
	buf := c.data[id]
	if buf == nil {
		buf = make([]byte, v.FullPointCount()*c.stride)
		c.data[id] = buf
		c.set[id] = make([]bool, v.FullPointCount())
	}
	off := i * c.stride
	if i < 0 || off+c.stride > len(buf) {
		return
	}
	copy(buf[off:off+c.stride], src)
	c.set[id][i] = true

	f := c.decode(buf[off : off+c.stride])
	r, ok := c.ranges[id]
	if !ok {
		r = [2]float64{f, f}
	}
	c.ranges[id] = [2]float64{math.Min(r[0], f), math.Max(r[1], f)}
}

// Float decodes the value of point i.
func (c *UserChannel) Float(v index.Voxel, i int) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := c.set[v.ID()]
	if i < 0 || i >= len(set) || !set[i] {
		return 0, false
	}
	off := i * c.stride
	return c.decode(c.data[v.ID()][off : off+c.stride]), true
}

// Range returns the bounds of the values written to v. It is only known once
// every point of the voxel has a value.
func (c *UserChannel) Range(v index.Voxel) (float64, float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ok := range c.set[v.ID()] {
		if !ok {
			return 0, 0, false
		}
	}
	r, ok := c.ranges[v.ID()]
	return r[0], r[1], ok
}

func (c *UserChannel) decode(b []byte) float64 {
	switch c.stride {
	case 1:
		return float64(b[0])
	case 2:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return float64(b[0])
	}
}

// EncodeFloat encodes f for a channel of the given stride.
func EncodeFloat(stride int, f float64) []byte {
	b := make([]byte, max(stride, 1))
	switch stride {
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(int16(f)))
	case 4:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(f)))
	case 8:
		binary.LittleEndian.PutUint64(b, math.Float64bits(f))
	default:
		b[0] = uint8(f)
	}
	return b
}
