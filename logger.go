package largedata

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with large-data specific helpers.
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
		Logger: slog.New(handler).With("logger", "large_data"),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithIdentity adds the table file identity fields to the logger.
func (l *Logger) WithIdentity(id Identity) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			"keyspace", id.Keyspace,
			"table", id.Table,
			"sstable", id.TableFile,
		),
	}
}

// LogLargeData logs a large-data occurrence about to be recorded.
// location is the partition key, followed by the clustering key and column
// when they apply.
func (l *Logger) LogLargeData(ctx context.Context, desc string, id Identity, location string, size uint64) {
	l.WarnContext(ctx, "Writing large "+desc,
		"keyspace", id.Keyspace,
		"table", id.Table,
		"key", location,
		"size", size,
		"sstable", id.TableFile,
	)
}

// LogBookkeepingFailure logs a tracking-table write or delete that failed.
func (l *Logger) LogBookkeepingFailure(ctx context.Context, op string, cat Category, id Identity, err error) {
	l.WarnContext(ctx, "Large data bookkeeping failed",
		"op", op,
		"tracking_table", "system."+cat.TableName(),
		"keyspace", id.Keyspace,
		"table", id.Table,
		"sstable", id.TableFile,
		"error", err,
	)
}

// LogLifecycle logs a handler start or stop.
func (l *Logger) LogLifecycle(ctx context.Context, event string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "large data handler "+event+" failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "large data handler "+event)
	}
}
