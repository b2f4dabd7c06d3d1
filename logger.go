package searchexec

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hupe1980/searchexec/scan"
)

// Logger wraps slog.Logger with searchexec-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(1000), // Unreachable level
		})),
	}
}

// ParseLevel maps debug, info, warn and error to a level. Anything else is
// info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithQuery adds the query text to the logger.
func (l *Logger) WithQuery(q string) *Logger {
	return &Logger{
		Logger: l.Logger.With("query", q),
	}
}

// WithWorker adds a parallel worker number to the logger.
func (l *Logger) WithWorker(w int) *Logger {
	return &Logger{
		Logger: l.Logger.With("worker", w),
	}
}

// LogQuery logs a finished Top-N retrieval.
func (l *Logger) LogQuery(ctx context.Context, limit, found, queries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "top-n failed",
			"limit", limit,
			"found", found,
			"queries", queries,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "top-n completed",
			"limit", limit,
			"found", found,
			"queries", queries,
		)
	}
}

// LogRetry logs a follow-up query issued because too few candidates were
// visible.
func (l *Logger) LogRetry(ctx context.Context, offset, limit, returned int) {
	l.DebugContext(ctx, "top-n retry",
		"offset", offset,
		"limit", limit,
		"returned", returned,
	)
}

// LogBatch logs one scanned batch.
func (l *Logger) LogBatch(ctx context.Context, segment uint32, rows int, stats scan.Stats) {
	l.DebugContext(ctx, "batch scanned",
		"segment", segment,
		"rows", rows,
		"prefilter_pruned", stats.PreFilterPruned,
		"threshold_pruned", stats.ThresholdPruned,
		"invisible", stats.Invisible,
	)
}

// LogPlan logs an aggregation plan.
func (l *Logger) LogPlan(ctx context.Context, shape string, aggregates int, err error) {
	if err != nil {
		l.WarnContext(ctx, "aggregation rejected",
			"aggregates", aggregates,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "aggregation planned",
			"shape", shape,
			"aggregates", aggregates,
		)
	}
}

// LogAggregate logs a finished aggregation.
func (l *Logger) LogAggregate(ctx context.Context, shape string, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "aggregation failed",
			"shape", shape,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "aggregation completed",
			"shape", shape,
			"rows", rows,
		)
	}
}
