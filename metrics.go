package pointq

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; package
// prom provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordQuery is called after each query run. points is the number of
	// points written, -1 when the run aborted.
	RecordQuery(kind string, points int, duration time.Duration, err error)

	// RecordSelect is called after each selection change.
	RecordSelect(points int, duration time.Duration, err error)

	// RecordKNN is called after each nearest neighbour search.
	RecordKNN(vertices, k int, duration time.Duration, err error)

	// RecordFetch is called after each run that loaded remote voxels in
	// batches. failed counts the voxels whose load failed.
	RecordFetch(voxels, failed int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordQuery(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSelect(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordKNN(int, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordFetch(int, int)                          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryPoints     atomic.Int64
	QueryTotalNanos atomic.Int64
	SelectCount     atomic.Int64
	SelectErrors    atomic.Int64
	SelectPoints    atomic.Int64
	KNNCount        atomic.Int64
	KNNErrors       atomic.Int64
	KNNVertices     atomic.Int64
	KNNTotalNanos   atomic.Int64
	FetchedVoxels   atomic.Int64
	FailedVoxels    atomic.Int64
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(kind string, points int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
		return
	}
	b.QueryPoints.Add(int64(points))
}

// RecordSelect implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSelect(points int, duration time.Duration, err error) {
	b.SelectCount.Add(1)
	if err != nil {
		b.SelectErrors.Add(1)
		return
	}
	b.SelectPoints.Add(int64(points))
}

// RecordKNN implements MetricsCollector.
func (b *BasicMetricsCollector) RecordKNN(vertices, k int, duration time.Duration, err error) {
	b.KNNCount.Add(1)
	b.KNNTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.KNNErrors.Add(1)
		return
	}
	b.KNNVertices.Add(int64(vertices))
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(voxels, failed int) {
	b.FetchedVoxels.Add(int64(voxels))
	b.FailedVoxels.Add(int64(failed))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		QueryCount:    b.QueryCount.Load(),
		QueryErrors:   b.QueryErrors.Load(),
		QueryPoints:   b.QueryPoints.Load(),
		QueryAvgNanos: avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		SelectCount:   b.SelectCount.Load(),
		SelectErrors:  b.SelectErrors.Load(),
		SelectPoints:  b.SelectPoints.Load(),
		KNNCount:      b.KNNCount.Load(),
		KNNErrors:     b.KNNErrors.Load(),
		KNNVertices:   b.KNNVertices.Load(),
		KNNAvgNanos:   avg(b.KNNTotalNanos.Load(), b.KNNCount.Load()),
		FetchedVoxels: b.FetchedVoxels.Load(),
		FailedVoxels:  b.FailedVoxels.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	QueryCount    int64
	QueryErrors   int64
	QueryPoints   int64
	QueryAvgNanos int64
	SelectCount   int64
	SelectErrors  int64
	SelectPoints  int64
	KNNCount      int64
	KNNErrors     int64
	KNNVertices   int64
	KNNAvgNanos   int64
	FetchedVoxels int64
	FailedVoxels  int64
}
