package query

import (
	"log/slog"

	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/pager"
	"github.com/hupe1980/pointq/resource"
	"github.com/hupe1980/pointq/stream"
)

// DefaultHighlight is the colour of selected points in RGBSelection mode.
var DefaultHighlight = [3]uint8{255, 0, 0}

type options struct {
	logger    *slog.Logger
	stream    *stream.Manager
	pager     *pager.Pager
	rc        *resource.Controller
	highlight [3]uint8
	space     index.CoordSpace
	tryLock   bool
}

// Option configures a Query.
type Option func(*options)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStream shares a stream manager between queries. By default every query
// creates its own.
func WithStream(m *stream.Manager) Option {
	return func(o *options) {
		o.stream = m
	}
}

// WithPager sets the background pager to pause while a query loads voxels.
func WithPager(p *pager.Pager) Option {
	return func(o *options) {
		o.pager = p
	}
}

// WithResourceController charges the spatial sampling grid and the query's
// own stream manager against rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithHighlight sets the colour of selected points in RGBSelection mode.
func WithHighlight(rgb [3]uint8) Option {
	return func(o *options) {
		o.highlight = rgb
	}
}

// WithCoordSpace sets the frame of conditions and returned positions.
// Defaults to index.SpaceProject.
func WithCoordSpace(space index.CoordSpace) Option {
	return func(o *options) {
		o.space = space
	}
}

// WithTryLock makes the query skip voxels locked by someone else instead of
// waiting for them. Points of skipped voxels are not returned.
func WithTryLock(on bool) Option {
	return func(o *options) {
		o.tryLock = on
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:    slog.New(slog.DiscardHandler),
		highlight: DefaultHighlight,
		space:     index.SpaceProject,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.stream == nil {
		o.stream = stream.New(stream.WithResourceController(o.rc), stream.WithLogger(o.logger))
	}
	return o
}
