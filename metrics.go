package searchexec

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// metrics package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordQuery is called after each Top-N retrieval. queries is the
	// number of index queries it took.
	RecordQuery(limit, found, queries int, duration time.Duration, err error)

	// RecordRetry is called for every index query after the first of a
	// retrieval, with the chunk size it used.
	RecordRetry(chunkSize int)

	// RecordBatch is called after each scanned batch.
	RecordBatch(rows, pruned, invisible int, duration time.Duration)

	// RecordAggregate is called after each aggregation.
	RecordAggregate(shape string, rows int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordQuery(int, int, int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordRetry(int)                                   {}
func (NoopMetricsCollector) RecordBatch(int, int, int, time.Duration)          {}
func (NoopMetricsCollector) RecordAggregate(string, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryTotalNanos atomic.Int64
	IndexQueries    atomic.Int64
	RowsFound       atomic.Int64
	RetryCount      atomic.Int64
	BatchCount      atomic.Int64
	BatchRows       atomic.Int64
	BatchPruned     atomic.Int64
	BatchInvisible  atomic.Int64
	AggregateCount  atomic.Int64
	AggregateErrors atomic.Int64
	AggregateRows   atomic.Int64
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(limit, found, queries int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	b.IndexQueries.Add(int64(queries))
	b.RowsFound.Add(int64(found))
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordRetry implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRetry(chunkSize int) {
	b.RetryCount.Add(1)
}

// RecordBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatch(rows, pruned, invisible int, duration time.Duration) {
	b.BatchCount.Add(1)
	b.BatchRows.Add(int64(rows))
	b.BatchPruned.Add(int64(pruned))
	b.BatchInvisible.Add(int64(invisible))
}

// RecordAggregate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAggregate(shape string, rows int, duration time.Duration, err error) {
	b.AggregateCount.Add(1)
	b.AggregateRows.Add(int64(rows))
	if err != nil {
		b.AggregateErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		QueryCount:      b.QueryCount.Load(),
		QueryErrors:     b.QueryErrors.Load(),
		QueryAvgNanos:   b.getAvgQueryNanos(),
		IndexQueries:    b.IndexQueries.Load(),
		RowsFound:       b.RowsFound.Load(),
		RetryCount:      b.RetryCount.Load(),
		BatchCount:      b.BatchCount.Load(),
		BatchRows:       b.BatchRows.Load(),
		BatchPruned:     b.BatchPruned.Load(),
		BatchInvisible:  b.BatchInvisible.Load(),
		AggregateCount:  b.AggregateCount.Load(),
		AggregateErrors: b.AggregateErrors.Load(),
		AggregateRows:   b.AggregateRows.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgQueryNanos() int64 {
	count := b.QueryCount.Load()
	if count == 0 {
		return 0
	}
	return b.QueryTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	QueryCount      int64
	QueryErrors     int64
	QueryAvgNanos   int64
	IndexQueries    int64
	RowsFound       int64
	RetryCount      int64
	BatchCount      int64
	BatchRows       int64
	BatchPruned     int64
	BatchInvisible  int64
	AggregateCount  int64
	AggregateErrors int64
	AggregateRows   int64
}
