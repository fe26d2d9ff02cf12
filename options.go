package pointq

import (
	"log/slog"

	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/pager"
	"github.com/hupe1980/pointq/query"
	"github.com/hupe1980/pointq/resource"
	"github.com/hupe1980/pointq/stream"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	rc               *resource.Controller
	pager            *pager.Pager
	stream           *stream.Manager
	highlight        [3]uint8
	space            index.CoordSpace
	coherence        int
}

// Option configures an Engine.
type Option func(*options)

// WithMetricsCollector reports runs, selections, searches and fetches to mc.
// nil disables metrics.
//
//	metrics := &pointq.BasicMetricsCollector{}
//	e := pointq.New(scene, pointq.WithMetricsCollector(metrics))
//	...
//	fmt.Println(metrics.GetStats().QueryPoints)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger sets the engine logger. It is also handed to queries, searches
// and the default stream manager. nil discards logs.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel logs text to stderr at level and above.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceController charges spatial sampling grids and remote fetches
// against rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithPager sets the background pager that queries pause while they load
// voxels. The engine does not start or stop it.
func WithPager(p *pager.Pager) Option {
	return func(o *options) {
		o.pager = p
	}
}

// WithStreamManager shares one stream manager between all queries of the
// engine. By default one is created from the resource controller.
func WithStreamManager(m *stream.Manager) Option {
	return func(o *options) {
		o.stream = m
	}
}

// WithHighlightColor sets the colour of selected points in
// query.RGBSelection mode.
func WithHighlightColor(rgb [3]uint8) Option {
	return func(o *options) {
		o.highlight = rgb
	}
}

// WithCoordSpace sets the frame of query volumes and returned positions.
func WithCoordSpace(space index.CoordSpace) Option {
	return func(o *options) {
		o.space = space
	}
}

// WithCoherence sets the coherence window of nearest neighbour queries.
func WithCoherence(n int) Option {
	return func(o *options) {
		o.coherence = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		highlight:        query.DefaultHighlight,
		space:            index.SpaceProject,
		coherence:        -1,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.stream == nil {
		o.stream = stream.New(stream.WithResourceController(o.rc), stream.WithLogger(o.logger.Logger))
	}
	return o
}
