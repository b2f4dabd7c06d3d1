package searchexec

import (
	"log/slog"

	"github.com/hupe1980/searchexec/codec"
	"github.com/hupe1980/searchexec/config"
	"github.com/hupe1980/searchexec/resource"
	"github.com/hupe1980/searchexec/topn"
	"github.com/hupe1980/searchexec/visibility"
)

type options struct {
	codec            codec.Codec
	settings         topn.Settings
	batchSize        int
	workers          int
	oracle           visibility.Oracle
	stats            visibility.HeapStats
	controller       *resource.Controller
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures an Engine.
type Option func(*options)

// WithCodec configures the codec used for custom aggregates and EXPLAIN.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = codec.Or(c)
	}
}

// WithSettings replaces the Top-N and aggregation settings.
func WithSettings(s topn.Settings) Option {
	return func(o *options) {
		o.settings = s
	}
}

// WithBatchSize bounds the rows per scanned batch. Values <= 0 or above
// scan.MaxBatchSize select scan.MaxBatchSize.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithWorkers runs Top-N, scans and aggregations on n parallel workers that
// claim segments from a shared state. n <= 1 runs serially.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithOracle configures the visibility oracle. Without one every row is
// visible.
//
// If the oracle also implements visibility.HeapStats and no stats were
// configured, it feeds the Top-N over-fetch factor.
func WithOracle(oracle visibility.Oracle) Option {
	return func(o *options) {
		o.oracle = oracle
	}
}

// WithHeapStats configures the live and dead tuple counts used to size
// Top-N queries.
func WithHeapStats(stats visibility.HeapStats) Option {
	return func(o *options) {
		o.stats = stats
	}
}

// WithController bounds aggregation memory through a shared controller.
func WithController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &searchexec.BasicMetricsCollector{}
//	eng, _ := searchexec.New(idx, searchexec.WithMetricsCollector(metrics))
//	// ... use eng ...
//	stats := metrics.GetStats()
//	fmt.Printf("Top-N: %d, index queries: %d\n", stats.QueryCount, stats.IndexQueries)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithConfig applies a loaded configuration: settings, codec, batch size,
// workers, resource limits and a logger at the configured level and format.
// Options after it override single values.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.settings = cfg.Settings()
		if c, ok := codec.ByName(cfg.Codec); ok {
			o.codec = c
		}
		o.batchSize = cfg.Scan.BatchSize
		o.workers = cfg.Workers
		if ctrl := cfg.Controller(); ctrl != nil {
			o.controller = ctrl
		}
		level := ParseLevel(cfg.Logging.Level)
		if cfg.Logging.Format == "json" {
			o.logger = NewJSONLogger(level)
		} else {
			o.logger = NewTextLogger(level)
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		settings:         topn.DefaultSettings(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.oracle == nil {
		o.oracle = visibility.AllVisible{}
	}
	if o.stats == nil {
		if hs, ok := o.oracle.(visibility.HeapStats); ok {
			o.stats = hs
		}
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.settings.Codec == nil {
		o.settings.Codec = o.codec
	}
	return o
}
