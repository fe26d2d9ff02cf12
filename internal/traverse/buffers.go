package traverse

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/index"
)

// RGBMode selects the colour written to the RGB buffer.
type RGBMode uint8

const (
	// RGBActual writes the stored colour, white when the cloud has none.
	RGBActual RGBMode = iota
	// RGBSelection writes the highlight colour for selected points.
	RGBSelection
	// RGBIntensity writes a grey ramp of the intensity channel.
	RGBIntensity
)

func (m RGBMode) String() string {
	switch m {
	case RGBActual:
		return "actual"
	case RGBSelection:
		return "selection"
	case RGBIntensity:
		return "intensity"
	default:
		return fmt.Sprintf("rgb-mode(%d)", uint8(m))
	}
}

// ChannelBuffer receives Stride() bytes per point of a user channel.
type ChannelBuffer struct {
	Channel index.UserChannel
	Data    []byte
}

// Buffers are the caller-owned outputs of ReadPoints. Nil buffers are not
// written. Geometry holds three coordinates per point, RGB three bytes.
type Buffers struct {
	Geometry       []float64
	Geometry32     []float32
	RGB            []uint8
	Intensity      []int16
	Classification []uint8
	Layers         []uint8
	Channels       []ChannelBuffer
}

// Validate checks that every buffer holds size points.
func (b *Buffers) Validate(size int) error {
	if size <= 0 {
		return ErrBufferSize
	}
	if b == nil {
		return ErrNoBuffers
	}
	if b.Geometry != nil && b.Geometry32 != nil {
		return ErrUnsupportedStride
	}

	found := false
	for _, c := range []struct {
		name   string
		n      int
		stride int
		set    bool
	}{
		{"geometry", len(b.Geometry), 3, b.Geometry != nil},
		{"geometry", len(b.Geometry32), 3, b.Geometry32 != nil},
		{"rgb", len(b.RGB), 3, b.RGB != nil},
		{"intensity", len(b.Intensity), 1, b.Intensity != nil},
		{"classification", len(b.Classification), 1, b.Classification != nil},
		{"layers", len(b.Layers), 1, b.Layers != nil},
	} {
		if !c.set {
			continue
		}
		found = true
		if c.n < size*c.stride {
			return fmt.Errorf("%w: %s holds %d values, need %d", ErrShortBuffer, c.name, c.n, size*c.stride)
		}
	}
	for _, ch := range b.Channels {
		if ch.Channel == nil {
			return fmt.Errorf("%w: user channel without handle", ErrNoBuffers)
		}
		found = true
		if len(ch.Data) < size*ch.Channel.Stride() {
			return fmt.Errorf("%w: channel %q holds %d bytes, need %d", ErrShortBuffer, ch.Channel.Name(), len(ch.Data), size*ch.Channel.Stride())
		}
	}
	if !found {
		return ErrNoBuffers
	}
	return nil
}

// Point is one output point with its standard channels.
type Point struct {
	Pos            r3.Vector
	RGB            [3]uint8
	Intensity      int16
	Classification uint8
	Filter         uint8
}

// Put writes p as point i of every non-nil buffer. User channels are read
// from storage index idx of v; they are left untouched when v is nil.
func (b *Buffers) Put(i int, p Point, v index.Voxel, idx int) {
	if b.Geometry != nil {
		b.Geometry[3*i] = p.Pos.X
		b.Geometry[3*i+1] = p.Pos.Y
		b.Geometry[3*i+2] = p.Pos.Z
	}
	if b.Geometry32 != nil {
		b.Geometry32[3*i] = float32(p.Pos.X)
		b.Geometry32[3*i+1] = float32(p.Pos.Y)
		b.Geometry32[3*i+2] = float32(p.Pos.Z)
	}
	if b.RGB != nil {
		copy(b.RGB[3*i:3*i+3], p.RGB[:])
	}
	if b.Intensity != nil {
		b.Intensity[i] = p.Intensity
	}
	if b.Classification != nil {
		b.Classification[i] = p.Classification
	}
	if b.Layers != nil {
		b.Layers[i] = p.Filter
	}
	if v == nil {
		return
	}
	for _, ch := range b.Channels {
		s := ch.Channel.Stride()
		ch.Channel.Read(v, idx, ch.Data[i*s:(i+1)*s])
	}
}

func (r *reader) write(pt index.PointRef) {
	v := pt.Voxel
	p := Point{Pos: pt.Pos, Filter: *pt.Filter}
	if r.buf.RGB != nil {
		p.RGB = r.color(pt)
	}
	if r.buf.Intensity != nil {
		p.Intensity = v.Intensity(pt.Index)
	}
	if r.buf.Classification != nil {
		p.Classification = v.Classification(pt.Index)
	}
	r.buf.Put(r.counter, p, v, pt.Index)

	r.trace = append(r.trace, PointID{Voxel: v.ID(), Index: pt.Index})
}

func (r *reader) color(pt index.PointRef) [3]uint8 {
	switch r.p.RGBMode {
	case RGBSelection:
		if pt.Selected() {
			return r.p.Highlight
		}
	case RGBIntensity:
		g := intensityGrey(pt.Voxel.Intensity(pt.Index))
		return [3]uint8{g, g, g}
	}
	return ActualColor(pt.Voxel, pt.Index)
}

// ActualColor returns the stored colour of point i of v, white when the
// cloud has none. The caller holds the lock.
func ActualColor(v index.Voxel, i int) [3]uint8 {
	if v.HasChannel(index.ChannelRGB) {
		return v.RGB(i)
	}
	return [3]uint8{255, 255, 255}
}

// intensityGrey maps the int16 range linearly onto 0..255.
func intensityGrey(v int16) uint8 {
	return uint8((int32(v) + 32768) >> 8)
}
