package knn

import (
	"log/slog"

	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/pager"
	"github.com/hupe1980/pointq/stream"
)

// DefaultCoherence is the number of solved vertices that seed the search
// radius of the next vertex.
const DefaultCoherence = 50

type options struct {
	lod       float64
	coherence int
	space     index.CoordSpace
	layers    uint8
	scope     []uint32
	stream    *stream.Manager
	pager     *pager.Pager
	logger    *slog.Logger
}

// Option configures a Searcher.
type Option func(*options)

// WithLOD sets the fraction of every voxel searched. Defaults to 1.
func WithLOD(amount float64) Option {
	return func(o *options) {
		if amount > 0 && amount <= 1 {
			o.lod = amount
		}
	}
}

// WithCoherence sets how many previously solved vertices seed the search of
// the next one. Zero disables seeding.
func WithCoherence(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.coherence = n
		}
	}
}

// WithCoordSpace sets the frame of query vertices and results.
func WithCoordSpace(space index.CoordSpace) Option {
	return func(o *options) {
		o.space = space
	}
}

// WithLayers restricts the search to points on the layers of mask.
func WithLayers(mask uint8) Option {
	return func(o *options) {
		o.layers = mask
	}
}

// WithScope restricts the search to the given clouds.
func WithScope(clouds ...uint32) Option {
	return func(o *options) {
		o.scope = clouds
	}
}

// WithStream fetches remote voxels through m. Defaults to a private manager.
func WithStream(m *stream.Manager) Option {
	return func(o *options) {
		o.stream = m
	}
}

// WithPager pauses p while a search loads voxels.
func WithPager(p *pager.Pager) Option {
	return func(o *options) {
		o.pager = p
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
