// Package metrics exports engine metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records engine operations as Prometheus metrics. It implements
// searchexec.MetricsCollector.
type Collector struct {
	opDuration *prometheus.HistogramVec
	ops        *prometheus.CounterVec
	queries    prometheus.Counter
	retries    prometheus.Counter
	chunkSize  prometheus.Histogram
	rows       *prometheus.CounterVec
	pruned     prometheus.Counter
	invisible  prometheus.Counter
}

// NewCollector creates a collector and registers it with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "searchexec",
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchexec",
			Name:      "operations_total",
			Help:      "Engine operations by outcome",
		}, []string{"op", "status"}),
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searchexec",
			Name:      "topn_index_queries_total",
			Help:      "Index queries issued by Top-N retrievals",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searchexec",
			Name:      "topn_retries_total",
			Help:      "Top-N index queries after the first of a retrieval",
		}),
		chunkSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "searchexec",
			Name:      "topn_retry_chunk_size",
			Help:      "Chunk size of Top-N retries",
			Buckets:   prometheus.ExponentialBuckets(8, 4, 8),
		}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchexec",
			Name:      "rows_total",
			Help:      "Rows returned by engine operations",
		}, []string{"op"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searchexec",
			Name:      "scan_pruned_rows_total",
			Help:      "Rows dropped by pre-filters and thresholds",
		}),
		invisible: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searchexec",
			Name:      "scan_invisible_rows_total",
			Help:      "Rows dropped by the visibility check",
		}),
	}
	for _, m := range []prometheus.Collector{
		c.opDuration, c.ops, c.queries, c.retries, c.chunkSize, c.rows, c.pruned, c.invisible,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordQuery records a Top-N retrieval.
func (c *Collector) RecordQuery(limit, found, queries int, d time.Duration, err error) {
	c.opDuration.WithLabelValues("topn").Observe(d.Seconds())
	c.ops.WithLabelValues("topn", status(err)).Inc()
	c.queries.Add(float64(queries))
	c.rows.WithLabelValues("topn").Add(float64(found))
}

// RecordRetry records a Top-N retry.
func (c *Collector) RecordRetry(chunkSize int) {
	c.retries.Inc()
	c.chunkSize.Observe(float64(chunkSize))
}

// RecordBatch records a scanned batch.
func (c *Collector) RecordBatch(rows, pruned, invisible int, d time.Duration) {
	c.opDuration.WithLabelValues("scan_batch").Observe(d.Seconds())
	c.ops.WithLabelValues("scan_batch", "success").Inc()
	c.rows.WithLabelValues("scan").Add(float64(rows))
	c.pruned.Add(float64(pruned))
	c.invisible.Add(float64(invisible))
}

// RecordAggregate records an aggregation. shape is not used as a label.
func (c *Collector) RecordAggregate(shape string, rows int, d time.Duration, err error) {
	c.opDuration.WithLabelValues("aggregate").Observe(d.Seconds())
	c.ops.WithLabelValues("aggregate", status(err)).Inc()
	c.rows.WithLabelValues("aggregate").Add(float64(rows))
}
