package pointq

import (
	"context"
	"log/slog"
	"os"
)

// Logger is a slog.Logger with the engine's structured log events.
type Logger struct {
	*slog.Logger
}

// NewLogger logs to handler, or as text at info level to stderr when handler
// is nil.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		return NewTextLogger(slog.LevelInfo)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger logs JSON lines at level and above to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger logs key=value lines at level and above to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithQuery tags every record with a query handle and kind.
func (l *Logger) WithQuery(h Handle, kind string) *Logger {
	return &Logger{Logger: l.With("query", h.String(), "kind", kind)}
}

// outcome logs msg+" failed" at error level when err is set and
// msg+" "+done at level otherwise.
func (l *Logger) outcome(ctx context.Context, level slog.Level, msg, done string, err error, args ...any) {
	if err != nil {
		l.Log(ctx, slog.LevelError, msg+" failed", append(args, "error", err)...)
		return
	}
	l.Log(ctx, level, msg+" "+done, args...)
}

func (l *Logger) LogRun(ctx context.Context, h Handle, points int, err error) {
	l.outcome(ctx, slog.LevelDebug, "query run", "completed", err, "query", h.String(), "points", points)
}

func (l *Logger) LogSelect(ctx context.Context, h Handle, selected bool, points int, err error) {
	l.outcome(ctx, slog.LevelInfo, "selection", "updated", err, "query", h.String(), "select", selected, "points", points)
}

func (l *Logger) LogKNN(ctx context.Context, h Handle, vertices, k int, err error) {
	l.outcome(ctx, slog.LevelDebug, "knn search", "completed", err, "query", h.String(), "vertices", vertices, "k", k)
}
