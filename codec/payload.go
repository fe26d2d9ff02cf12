package codec

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/golang/geo/r3"
)

// Voxel payload layout (little endian):
//
//	magic "PQVX" | version u8 | compression u8 | channels u8 | reserved u8
//	count u32 | chunkPoints u32 | numChunks u32 | origin 3*f64
//	numChunks * (offset u64, size u32)
//	chunk blocks
//
// Records are stored in LOD order, so the first n records are a uniform
// sample of the voxel. Each chunk holds chunkPoints records (the last may be
// shorter) and is compressed independently, which lets a reader fetch any
// prefix with one ranged read.
const (
	payloadMagic     = "PQVX"
	payloadVersion   = 1
	payloadFixedSize = 44
	chunkRefSize     = 12
	recordSize       = 18
)

// DefaultChunkPoints is the chunk size used when PayloadOptions.ChunkPoints is unset.
const DefaultChunkPoints = 1024

// ErrCorruptPayload is returned when a payload fails structural validation.
var ErrCorruptPayload = errors.New("codec: corrupt voxel payload")

// ChannelMask records which optional channels carry data.
type ChannelMask uint8

const (
	HasRGB ChannelMask = 1 << iota
	HasIntensity
	HasClassification
)

// Has reports whether all bits of o are set.
func (m ChannelMask) Has(o ChannelMask) bool { return m&o == o }

// Record is one point in cloud space.
type Record struct {
	Pos            r3.Vector
	RGB            [3]uint8
	Intensity      int16
	Classification uint8
}

// PayloadOptions controls EncodePayload.
type PayloadOptions struct {
	Compression Compression
	Channels    ChannelMask
	// ChunkPoints is the number of records per chunk (DefaultChunkPoints if <= 0).
	ChunkPoints int
}

// ChunkRef locates a compressed chunk within the payload.
type ChunkRef struct {
	Offset uint64
	Size   uint32
}

// PayloadHeader is the decoded fixed header plus chunk table.
type PayloadHeader struct {
	Compression Compression
	Channels    ChannelMask
	Count       int
	ChunkPoints int
	// Origin is added to every stored position offset.
	Origin r3.Vector
	Chunks []ChunkRef
}

// chunkRange returns the chunk indexes [lo, hi) covering records [from, to).
func (h *PayloadHeader) chunkRange(from, to int) (int, int) {
	if to <= from {
		return 0, 0
	}
	return from / h.ChunkPoints, (to + h.ChunkPoints - 1) / h.ChunkPoints
}

// RangeBytes returns the number of payload bytes read to decode records [from, to).
func (h *PayloadHeader) RangeBytes(from, to int) int64 {
	lo, hi := h.chunkRange(clamp(from, h.Count), clamp(to, h.Count))
	if hi <= lo {
		return 0
	}
	first, last := h.Chunks[lo], h.Chunks[hi-1]
	return int64(last.Offset + uint64(last.Size) - first.Offset)
}

// HeaderSize returns the encoded size of the header and chunk table.
func (h *PayloadHeader) HeaderSize() int64 {
	return int64(payloadFixedSize + len(h.Chunks)*chunkRefSize)
}

// EncodePayload encodes records relative to origin.
func EncodePayload(recs []Record, origin r3.Vector, opts PayloadOptions) ([]byte, error) {
	cp := opts.ChunkPoints
	if cp <= 0 {
		cp = DefaultChunkPoints
	}
	if len(recs) > math.MaxUint32 {
		return nil, fmt.Errorf("codec: too many records: %d", len(recs))
	}

	numChunks := (len(recs) + cp - 1) / cp
	blocks := make([][]byte, 0, numChunks)
	raw := make([]byte, 0, cp*recordSize)
	for start := 0; start < len(recs); start += cp {
		end := min(start+cp, len(recs))
		raw = raw[:0]
		for _, r := range recs[start:end] {
			raw = appendRecord(raw, r, origin)
		}
		blk, err := compressBlock(raw, opts.Compression)
		if err != nil {
			return nil, fmt.Errorf("codec: compress chunk %d: %w", len(blocks), err)
		}
		blocks = append(blocks, blk)
	}

	size := payloadFixedSize + numChunks*chunkRefSize
	for _, b := range blocks {
		size += len(b)
	}

	out := make([]byte, payloadFixedSize+numChunks*chunkRefSize, size)
	copy(out, payloadMagic)
	out[4] = payloadVersion
	out[5] = byte(opts.Compression)
	out[6] = byte(opts.Channels)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(recs)))
	binary.LittleEndian.PutUint32(out[12:], uint32(cp))
	binary.LittleEndian.PutUint32(out[16:], uint32(numChunks))
	binary.LittleEndian.PutUint64(out[20:], math.Float64bits(origin.X))
	binary.LittleEndian.PutUint64(out[28:], math.Float64bits(origin.Y))
	binary.LittleEndian.PutUint64(out[36:], math.Float64bits(origin.Z))

	off := uint64(len(out))
	for i, b := range blocks {
		ref := out[payloadFixedSize+i*chunkRefSize:]
		binary.LittleEndian.PutUint64(ref, off)
		binary.LittleEndian.PutUint32(ref[8:], uint32(len(b)))
		off += uint64(len(b))
	}
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out, nil
}

func appendRecord(dst []byte, r Record, origin r3.Vector) []byte {
	d := r.Pos.Sub(origin)
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(d.X)))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(d.Y)))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(d.Z)))
	dst = append(dst, r.RGB[0], r.RGB[1], r.RGB[2])
	dst = binary.LittleEndian.AppendUint16(dst, uint16(r.Intensity))
	return append(dst, r.Classification)
}

func readRecord(src []byte, origin r3.Vector) Record {
	return Record{
		Pos: r3.Vector{
			X: origin.X + float64(math.Float32frombits(binary.LittleEndian.Uint32(src[0:]))),
			Y: origin.Y + float64(math.Float32frombits(binary.LittleEndian.Uint32(src[4:]))),
			Z: origin.Z + float64(math.Float32frombits(binary.LittleEndian.Uint32(src[8:]))),
		},
		RGB:            [3]uint8{src[12], src[13], src[14]},
		Intensity:      int16(binary.LittleEndian.Uint16(src[15:])),
		Classification: src[17],
	}
}

// ReaderAt is a context aware random access reader, satisfied by
// blobstore.Blob.
type ReaderAt interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
}

func readFull(ctx context.Context, r ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(ctx, p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: short read at %d", ErrCorruptPayload, off)
	}
	return err
}

// ReadPayloadHeader reads and validates the header and chunk table.
func ReadPayloadHeader(ctx context.Context, r ReaderAt) (*PayloadHeader, error) {
	var fixed [payloadFixedSize]byte
	if err := readFull(ctx, r, fixed[:], 0); err != nil {
		return nil, err
	}
	if string(fixed[:4]) != payloadMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptPayload)
	}
	if fixed[4] != payloadVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptPayload, fixed[4])
	}

	h := &PayloadHeader{
		Compression: Compression(fixed[5]),
		Channels:    ChannelMask(fixed[6]),
		Count:       int(binary.LittleEndian.Uint32(fixed[8:])),
		ChunkPoints: int(binary.LittleEndian.Uint32(fixed[12:])),
		Origin: r3.Vector{
			X: math.Float64frombits(binary.LittleEndian.Uint64(fixed[20:])),
			Y: math.Float64frombits(binary.LittleEndian.Uint64(fixed[28:])),
			Z: math.Float64frombits(binary.LittleEndian.Uint64(fixed[36:])),
		},
	}
	numChunks := int(binary.LittleEndian.Uint32(fixed[16:]))
	if h.ChunkPoints <= 0 || numChunks != (h.Count+h.ChunkPoints-1)/h.ChunkPoints {
		return nil, fmt.Errorf("%w: chunk table mismatch", ErrCorruptPayload)
	}

	table := make([]byte, numChunks*chunkRefSize)
	if err := readFull(ctx, r, table, payloadFixedSize); err != nil {
		return nil, err
	}
	h.Chunks = make([]ChunkRef, numChunks)
	for i := range h.Chunks {
		ref := table[i*chunkRefSize:]
		h.Chunks[i] = ChunkRef{
			Offset: binary.LittleEndian.Uint64(ref),
			Size:   binary.LittleEndian.Uint32(ref[8:]),
		}
	}
	return h, nil
}

// DecodeRange decodes records [from, to) with a single ranged read over the
// chunks that cover them. Indexes are clamped to the record count.
func DecodeRange(ctx context.Context, r ReaderAt, h *PayloadHeader, from, to int) ([]Record, error) {
	from, to = clamp(from, h.Count), clamp(to, h.Count)
	lo, hi := h.chunkRange(from, to)
	if hi <= lo {
		return nil, nil
	}

	base := h.Chunks[lo].Offset
	buf := make([]byte, h.RangeBytes(from, to))
	if err := readFull(ctx, r, buf, int64(base)); err != nil {
		return nil, err
	}

	out := make([]Record, 0, to-from)
	for c := lo; c < hi; c++ {
		ref := h.Chunks[c]
		start := ref.Offset - base
		if start+uint64(ref.Size) > uint64(len(buf)) {
			return nil, fmt.Errorf("%w: chunk %d out of range", ErrCorruptPayload, c)
		}
		raw, err := decompressBlock(buf[start:start+uint64(ref.Size)], h.Compression)
		if err != nil {
			return nil, fmt.Errorf("decode chunk %d: %w", c, err)
		}
		first := c * h.ChunkPoints
		n := min(h.ChunkPoints, h.Count-first)
		if len(raw) != n*recordSize {
			return nil, fmt.Errorf("%w: chunk %d has %d bytes", ErrCorruptPayload, c, len(raw))
		}
		for i := max(from-first, 0); i < n && first+i < to; i++ {
			out = append(out, readRecord(raw[i*recordSize:], h.Origin))
		}
	}
	return out, nil
}

// BytesReader adapts an in-memory payload to ReaderAt.
type BytesReader []byte

// ReadAt implements ReaderAt.
func (b BytesReader) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// DecodePayload decodes a complete in-memory payload.
func DecodePayload(data []byte) (*PayloadHeader, []Record, error) {
	ctx := context.Background()
	h, err := ReadPayloadHeader(ctx, BytesReader(data))
	if err != nil {
		return nil, nil, err
	}
	recs, err := DecodeRange(ctx, BytesReader(data), h, 0, h.Count)
	if err != nil {
		return nil, nil, err
	}
	return h, recs, nil
}

func clamp(v, hi int) int {
	return max(0, min(v, hi))
}

// EstimatePayloadBytes approximates the decoded size of n records.
func EstimatePayloadBytes(n int) int64 {
	return int64(max(n, 0)) * recordSize
}
