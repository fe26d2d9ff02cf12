package octree

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/blobstore"
	"github.com/hupe1980/pointq/codec"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/resource"
)

const maxFetchAttempts = 3

// source locates the payload of an out-of-core voxel.
type source struct {
	store  blobstore.BlobStore
	key    string
	remote bool
}

// Voxel is an octree leaf. Its filter bytes are always resident; the other
// channels hold a prefix of the payload in LOD order.
type Voxel struct {
	base

	mu   sync.Mutex
	pins atomic.Int32

	full     int
	channels codec.ChannelMask
	filter   []uint8

	pos       []r3.Vector
	rgb       [][3]uint8
	intensity []int16
	class     []uint8
	resident  atomic.Int64

	current  atomicFloat
	request  atomicFloat
	previous atomicFloat

	src    *source
	header atomic.Pointer[codec.PayloadHeader]
	rc     *resource.Controller
}

func newVoxel(id uint64, c *Cloud, full int, channels codec.ChannelMask) *Voxel {
	v := &Voxel{
		base:     base{id: id, cloud: c},
		full:     full,
		channels: channels,
		filter:   make([]uint8, full),
	}
	for i := range v.filter {
		v.filter[i] = index.DefaultLayer
	}
	return v
}

func (v *Voxel) IsLeaf() bool { return true }

func (v *Voxel) Child(int) index.Node { return nil }

func (v *Voxel) FullPointCount() int { return v.full }

func (v *Voxel) NumPointsAtLOD(amount float64) int { return lodCount(v.full, amount) }

func (v *Voxel) Lock() { v.mu.Lock() }

func (v *Voxel) Unlock() { v.mu.Unlock() }

func (v *Voxel) TryLock() bool { return v.mu.TryLock() }

func (v *Voxel) CurrentLOD() float64 { return v.current.Load() }

func (v *Voxel) RequestLOD() float64 { return v.request.Load() }

func (v *Voxel) PreviousLOD() float64 { return v.previous.Load() }

func (v *Voxel) SetRequestLOD(amount float64) { v.request.Store(clamp01(amount)) }

func (v *Voxel) SetPreviousLOD(amount float64) { v.previous.Store(clamp01(amount)) }

func (v *Voxel) LODPointCount() int { return int(v.resident.Load()) }

// Remote reports whether the payload comes from a remote store.
func (v *Voxel) Remote() bool { return v.src != nil && v.src.remote }

// OutOfCore reports whether the voxel is backed by a payload blob.
func (v *Voxel) OutOfCore() bool { return v.src != nil }

func (v *Voxel) Pin() { v.pins.Add(1) }

func (v *Voxel) Unpin() {
	if v.pins.Add(-1) < 0 {
		v.pins.Store(0)
	}
}

func (v *Voxel) Pinned() bool { return v.pins.Load() > 0 }

// LoadLOD reads the missing part of the first NumPointsAtLOD(amount) records.
// The caller holds the lock.
func (v *Voxel) LoadLOD(ctx context.Context, amount float64) error {
	amount = clamp01(amount)
	if v.src != nil {
		from, to := len(v.pos), lodCount(v.full, amount)
		if to > from {
			recs, err := v.read(ctx, from, to)
			if err != nil {
				return err
			}
			if err := v.install(from, recs); err != nil {
				return err
			}
		}
	}
	v.raiseLOD(amount)
	return nil
}

// FetchLOD is LoadLOD for callers that do not hold the lock. The payload is
// read unlocked and installed under the lock.
func (v *Voxel) FetchLOD(ctx context.Context, amount float64) error {
	amount = clamp01(amount)
	to := lodCount(v.full, amount)

	for range maxFetchAttempts {
		v.mu.Lock()
		from := len(v.pos)
		v.mu.Unlock()

		var recs []codec.Record
		if v.src != nil && to > from {
			var err error
			if recs, err = v.read(ctx, from, to); err != nil {
				return err
			}
		}

		v.mu.Lock()
		if len(v.pos) < from {
			// Evicted while reading.
			v.mu.Unlock()
			continue
		}
		err := v.install(from, recs)
		if err == nil {
			v.raiseLOD(amount)
		}
		v.mu.Unlock()
		return err
	}
	return fmt.Errorf("octree: voxel %d evicted during %d fetches", v.id, maxFetchAttempts)
}

// UnloadLOD drops resident records above amount. In-memory voxels keep their
// data. The caller holds the lock.
func (v *Voxel) UnloadLOD(amount float64) {
	if v.src == nil {
		return
	}
	amount = clamp01(amount)
	n := lodCount(v.full, amount)
	if n < len(v.pos) {
		dropped := codec.EstimatePayloadBytes(len(v.pos) - n)
		v.pos = shrink(v.pos, n)
		if v.channels.Has(codec.HasRGB) {
			v.rgb = shrink(v.rgb, n)
		}
		if v.channels.Has(codec.HasIntensity) {
			v.intensity = shrink(v.intensity, n)
		}
		if v.channels.Has(codec.HasClassification) {
			v.class = shrink(v.class, n)
		}
		v.resident.Store(int64(n))
		v.rc.ReleaseMemory(dropped)
	}
	if amount < v.current.Load() {
		v.current.Store(amount)
	}
}

// PayloadBytes estimates the bytes a load of amount transfers.
func (v *Voxel) PayloadBytes(amount float64) int64 {
	if v.src == nil {
		return 0
	}
	from, to := int(v.resident.Load()), lodCount(v.full, amount)
	if to <= from {
		return 0
	}
	if h := v.header.Load(); h != nil {
		return h.RangeBytes(from, to)
	}
	return codec.EstimatePayloadBytes(to - from)
}

// IteratePoints visits resident points in storage order. The caller holds the lock.
func (v *Voxel) IteratePoints(space index.CoordSpace, layerMask uint8, amount float64, start int, fn index.PointVisitor) {
	limit := min(lodCount(v.full, amount), len(v.pos))

	var off r3.Vector
	if space == index.SpaceProject {
		off = v.cloud.offset
	}

	for i := max(start, 0); i < limit; i++ {
		f := &v.filter[i]
		if *f&layerMask == 0 {
			continue
		}
		if !fn(i, v.pos[i].Add(off), f) {
			return
		}
	}
}

func (v *Voxel) HasChannel(c index.Channel) bool {
	switch c {
	case index.ChannelGeometry, index.ChannelFilter:
		return true
	case index.ChannelRGB:
		return v.channels.Has(codec.HasRGB)
	case index.ChannelIntensity:
		return v.channels.Has(codec.HasIntensity)
	case index.ChannelClassification:
		return v.channels.Has(codec.HasClassification)
	default:
		return false
	}
}

func (v *Voxel) RGB(i int) [3]uint8 {
	if i < 0 || i >= len(v.rgb) {
		return [3]uint8{}
	}
	return v.rgb[i]
}

func (v *Voxel) Intensity(i int) int16 {
	if i < 0 || i >= len(v.intensity) {
		return 0
	}
	return v.intensity[i]
}

func (v *Voxel) Classification(i int) uint8 {
	if i < 0 || i >= len(v.class) {
		return 0
	}
	return v.class[i]
}

func (v *Voxel) Filter(i int) uint8 {
	if i < 0 || i >= len(v.filter) {
		return 0
	}
	return v.filter[i]
}

// Records returns the resident records in cloud space. The caller holds the lock.
func (v *Voxel) Records() []codec.Record {
	out := make([]codec.Record, len(v.pos))
	for i, p := range v.pos {
		out[i] = codec.Record{
			Pos:            p,
			RGB:            v.RGB(i),
			Intensity:      v.Intensity(i),
			Classification: v.Classification(i),
		}
	}
	return out
}

func (v *Voxel) read(ctx context.Context, from, to int) ([]codec.Record, error) {
	b, err := v.src.store.Open(ctx, v.src.key)
	if err != nil {
		return nil, fmt.Errorf("octree: open voxel %d: %w", v.id, err)
	}
	defer b.Close()

	h := v.header.Load()
	if h == nil {
		if h, err = codec.ReadPayloadHeader(ctx, b); err != nil {
			return nil, fmt.Errorf("octree: voxel %d header: %w", v.id, err)
		}
		if h.Count != v.full {
			return nil, fmt.Errorf("%w: voxel %d holds %d points, expected %d", codec.ErrCorruptPayload, v.id, h.Count, v.full)
		}
		v.header.Store(h)
	}

	recs, err := codec.DecodeRange(ctx, b, h, from, to)
	if err != nil {
		return nil, fmt.Errorf("octree: voxel %d records [%d,%d): %w", v.id, from, to, err)
	}
	return recs, nil
}

// install appends recs, which start at record from <= len(v.pos), skipping
// what a concurrent load already made resident. The caller holds the lock.
func (v *Voxel) install(from int, recs []codec.Record) error {
	if skip := len(v.pos) - from; skip > 0 {
		if skip >= len(recs) {
			return nil
		}
		recs = recs[skip:]
	}
	if len(recs) == 0 {
		return nil
	}

	if err := v.rc.AcquireMemory(codec.EstimatePayloadBytes(len(recs))); err != nil {
		return fmt.Errorf("octree: voxel %d: %w", v.id, err)
	}

	v.pos = slices.Grow(v.pos, len(recs))
	for _, r := range recs {
		v.pos = append(v.pos, r.Pos)
		if v.channels.Has(codec.HasRGB) {
			v.rgb = append(v.rgb, r.RGB)
		}
		if v.channels.Has(codec.HasIntensity) {
			v.intensity = append(v.intensity, r.Intensity)
		}
		if v.channels.Has(codec.HasClassification) {
			v.class = append(v.class, r.Classification)
		}
	}
	v.resident.Store(int64(len(v.pos)))
	return nil
}

func (v *Voxel) raiseLOD(amount float64) {
	if amount > v.current.Load() {
		v.current.Store(amount)
	}
}

func shrink[T any](s []T, n int) []T {
	if n == 0 {
		return nil
	}
	return slices.Clone(s[:n])
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

// atomicFloat is a float64 with atomic load and store.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Load() float64 { return math.Float64frombits(f.bits.Load()) }

func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }
