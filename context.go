package asynctask

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey      contextKey = "logger"
	executionIDKey contextKey = "execution_id"
)

// WithLogger returns a context carrying logger. Services called from a
// dispatched worker receive a context scoped to their execution this way.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// LoggerFromContext returns the logger carried by ctx, or a logger that
// discards everything.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.New(slog.DiscardHandler)
}

func ExecutionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(executionIDKey).(string)
	return id, ok && id != ""
}
