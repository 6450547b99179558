package archidex

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger so components share consistent field names.
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
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000),
	})
	return &Logger{Logger: slog.New(handler)}
}

// LogFetchDegraded logs an artifact fetch that degraded to an empty result.
func (l *Logger) LogFetchDegraded(ctx context.Context, artifact string, err error) {
	l.WarnContext(ctx, "artifact fetch degraded",
		"artifact", artifact,
		"error", err,
	)
}

// LogCacheDegraded logs the durable tier becoming unavailable.
func (l *Logger) LogCacheDegraded(ctx context.Context, err error) {
	l.WarnContext(ctx, "durable cache tier unavailable, continuing volatile-only",
		"error", err,
	)
}

// LogQuery logs a completed query.
func (l *Logger) LogQuery(ctx context.Context, key string, total int, cached bool) {
	l.DebugContext(ctx, "query completed",
		"key", key,
		"total", total,
		"cached", cached,
	)
}
