// Package prom exports engine metrics to Prometheus.
package prom

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/pointq"
)

const (
	kindLabel    = "kind"
	errTypeLabel = "error_type"
)

var _ pointq.MetricsCollector = (*Collector)(nil)

// Collector implements pointq.MetricsCollector with Prometheus counters and
// histograms.
type Collector struct {
	queryRuns     *prometheus.CounterVec
	queryErrors   *prometheus.CounterVec
	queryPoints   *prometheus.CounterVec
	queryLatency  *prometheus.HistogramVec
	selectRuns    prometheus.Counter
	selectErrors  *prometheus.CounterVec
	selectPoints  prometheus.Counter
	knnSearches   prometheus.Counter
	knnErrors     *prometheus.CounterVec
	knnVertices   prometheus.Counter
	knnLatency    prometheus.Histogram
	fetchedVoxels prometheus.Counter
	failedVoxels  prometheus.Counter
}

// New registers the collector's metrics with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		queryRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pointq_query_runs",
			Help: "The number of query runs.",
		}, []string{
			kindLabel,
		}),
		queryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pointq_query_errors",
			Help: "The errors that occurred while running a query.",
		}, []string{
			kindLabel,
			errTypeLabel,
		}),
		queryPoints: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pointq_query_points",
			Help: "The number of points returned by query runs.",
		}, []string{
			kindLabel,
		}),
		queryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "pointq_query_latency",
			Help: "The time to run a query batch.",
		}, []string{
			kindLabel,
		}),
		selectRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "pointq_select_runs",
			Help: "The number of selection changes.",
		}),
		selectErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pointq_select_errors",
			Help: "The errors that occurred while changing the selection.",
		}, []string{
			errTypeLabel,
		}),
		selectPoints: f.NewCounter(prometheus.CounterOpts{
			Name: "pointq_select_points",
			Help: "The number of points whose selection changed.",
		}),
		knnSearches: f.NewCounter(prometheus.CounterOpts{
			Name: "pointq_knn_searches",
			Help: "The number of nearest neighbour searches.",
		}),
		knnErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pointq_knn_errors",
			Help: "The errors that occurred during nearest neighbour searches.",
		}, []string{
			errTypeLabel,
		}),
		knnVertices: f.NewCounter(prometheus.CounterOpts{
			Name: "pointq_knn_vertices",
			Help: "The number of vertices searched.",
		}),
		knnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name: "pointq_knn_latency",
			Help: "The time to run a nearest neighbour search.",
		}),
		fetchedVoxels: f.NewCounter(prometheus.CounterOpts{
			Name: "pointq_fetched_voxels",
			Help: "The number of remote voxels fetched in batches.",
		}),
		failedVoxels: f.NewCounter(prometheus.CounterOpts{
			Name: "pointq_failed_voxels",
			Help: "The number of remote voxels whose fetch failed.",
		}),
	}
}

// RecordQuery implements pointq.MetricsCollector.
func (c *Collector) RecordQuery(kind string, points int, duration time.Duration, err error) {
	c.queryRuns.With(prometheus.Labels{kindLabel: kind}).Inc()
	c.queryLatency.With(prometheus.Labels{kindLabel: kind}).Observe(duration.Seconds())
	if err != nil {
		c.queryErrors.With(prometheus.Labels{
			kindLabel:    kind,
			errTypeLabel: ErrorType(err),
		}).Inc()
		return
	}
	c.queryPoints.With(prometheus.Labels{kindLabel: kind}).Add(float64(points))
}

// RecordSelect implements pointq.MetricsCollector.
func (c *Collector) RecordSelect(points int, _ time.Duration, err error) {
	c.selectRuns.Inc()
	if err != nil {
		c.selectErrors.With(prometheus.Labels{errTypeLabel: ErrorType(err)}).Inc()
		return
	}
	c.selectPoints.Add(float64(points))
}

// RecordKNN implements pointq.MetricsCollector.
func (c *Collector) RecordKNN(vertices, _ int, duration time.Duration, err error) {
	c.knnSearches.Inc()
	c.knnLatency.Observe(duration.Seconds())
	if err != nil {
		c.knnErrors.With(prometheus.Labels{errTypeLabel: ErrorType(err)}).Inc()
		return
	}
	c.knnVertices.Add(float64(vertices))
}

// RecordFetch implements pointq.MetricsCollector.
func (c *Collector) RecordFetch(voxels, failed int) {
	c.fetchedVoxels.Add(float64(voxels))
	c.failedVoxels.Add(float64(failed))
}

// ErrorType returns a short label for err.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, pointq.ErrInvalidHandle):
		return "invalid_handle"
	case errors.Is(err, pointq.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, pointq.ErrResourceExhausted):
		return "resource_exhausted"
	case errors.Is(err, pointq.ErrUnimplemented):
		return "unimplemented"
	case errors.Is(err, pointq.ErrClosed):
		return "closed"
	default:
		return "internal"
	}
}
