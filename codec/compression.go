package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block compression of payload chunks.
type Compression uint8

const (
	CompressionNone Compression = iota
	// CompressionLZ4 decodes fastest and is the export default.
	CompressionLZ4
	// CompressionZSTD compresses better for archived scenes.
	CompressionZSTD
)

func (c Compression) String() string {
	if int(c) < len(compressors) && compressors[c].name != "" {
		return compressors[c].name
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// compressor packs and unpacks one block. pack returns nil when the data does
// not compress.
type compressor struct {
	name   string
	pack   func(raw []byte) ([]byte, error)
	unpack func(dst, src []byte) ([]byte, error)
}

var compressors = [...]compressor{
	CompressionNone: {name: "none"},
	CompressionLZ4:  {name: "lz4", pack: packLZ4, unpack: unpackLZ4},
	CompressionZSTD: {name: "zstd", pack: packZSTD, unpack: unpackZSTD},
}

// EncodeAll and DecodeAll are safe for concurrent use, so one encoder and one
// decoder serve all chunks.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
)

func packLZ4(raw []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, buf, nil)
	if err != nil || n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

func unpackLZ4(dst, src []byte) ([]byte, error) {
	n, err := lz4.UncompressBlock(src, dst)
	return dst[:n], err
}

func packZSTD(raw []byte) ([]byte, error) {
	enc, err := zstdEncoder()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(raw, nil), nil
}

func unpackZSTD(dst, src []byte) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(src, dst[:0])
}

// A block is [raw size uint32][packed size uint32][bytes]. A packed size of
// zero marks raw bytes.
const blockHeaderSize = 8

var errShortBlock = errors.New("codec: block truncated")

// compressBlock frames raw with c, keeping it raw unless packing saves at
// least a tenth.
func compressBlock(raw []byte, c Compression) ([]byte, error) {
	if int(c) >= len(compressors) {
		return nil, fmt.Errorf("codec: unknown compression %d", c)
	}
	var packed []byte
	if pack := compressors[c].pack; pack != nil && len(raw) > 0 {
		var err error
		if packed, err = pack(raw); err != nil {
			return nil, fmt.Errorf("codec: %s: %w", c, err)
		}
	}

	body := packed
	if len(packed) == 0 || len(packed)*10 > len(raw)*9 {
		body, packed = raw, nil
	}
	out := make([]byte, blockHeaderSize, blockHeaderSize+len(body))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(packed)))
	return append(out, body...), nil
}

// decompressBlock returns the raw bytes of a block framed by compressBlock.
func decompressBlock(blk []byte, c Compression) ([]byte, error) {
	if len(blk) < blockHeaderSize {
		return nil, errShortBlock
	}
	rawSize := int(binary.LittleEndian.Uint32(blk[0:]))
	packedSize := int(binary.LittleEndian.Uint32(blk[4:]))
	body := blk[blockHeaderSize:]

	if packedSize == 0 {
		if len(body) < rawSize {
			return nil, errShortBlock
		}
		return body[:rawSize], nil
	}
	if len(body) < packedSize {
		return nil, errShortBlock
	}
	if int(c) >= len(compressors) || compressors[c].unpack == nil {
		return nil, fmt.Errorf("codec: unknown compression %d", c)
	}

	raw, err := compressors[c].unpack(make([]byte, rawSize), body[:packedSize])
	if err != nil {
		return nil, fmt.Errorf("codec: %s: %w", c, err)
	}
	if len(raw) != rawSize {
		return nil, fmt.Errorf("codec: %s: unpacked %d bytes, expected %d", c, len(raw), rawSize)
	}
	return raw, nil
}
