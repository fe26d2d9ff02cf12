package octree

import (
	"log/slog"

	"github.com/hupe1980/pointq/codec"
	"github.com/hupe1980/pointq/resource"
)

const (
	DefaultMaxLeafPoints = 4096
	DefaultMaxDepth      = 12
)

type options struct {
	maxLeafPoints int
	maxDepth      int
	compression   codec.Compression
	chunkPoints   int
	channels      codec.ChannelMask
	remote        bool
	cacheBytes    int64
	rc            *resource.Controller
	logger        *slog.Logger
}

// Option configures scene construction, export and open.
type Option func(*options)

// WithMaxLeafPoints sets the point count above which a node is split.
func WithMaxLeafPoints(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLeafPoints = n
		}
	}
}

// WithMaxDepth bounds the octree depth. Leaves at this depth are never split,
// whatever their point count.
func WithMaxDepth(d int) Option {
	return func(o *options) {
		if d >= 0 {
			o.maxDepth = d
		}
	}
}

// WithCompression selects the payload chunk compression used by Export.
func WithCompression(c codec.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithChunkPoints sets the number of records per payload chunk used by Export.
func WithChunkPoints(n int) Option {
	return func(o *options) {
		o.chunkPoints = n
	}
}

// WithChannels selects the optional channels kept by AddCloud. All channels
// are kept by default.
func WithChannels(m codec.ChannelMask) Option {
	return func(o *options) {
		o.channels = m
	}
}

// WithRemote marks opened voxels as remote. Remote voxels are loaded in
// batches by the stream manager instead of inline by the traversal.
func WithRemote(remote bool) Option {
	return func(o *options) {
		o.remote = remote
	}
}

// WithPayloadCache puts a block cache of the given size in front of the
// payload store of opened scenes. Zero disables it.
func WithPayloadCache(bytes int64) Option {
	return func(o *options) {
		o.cacheBytes = max(bytes, 0)
	}
}

// WithResourceController accounts resident payload memory and throttles
// export writes.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		maxLeafPoints: DefaultMaxLeafPoints,
		maxDepth:      DefaultMaxDepth,
		compression:   codec.CompressionLZ4,
		chunkPoints:   codec.DefaultChunkPoints,
		channels:      codec.HasRGB | codec.HasIntensity | codec.HasClassification,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
