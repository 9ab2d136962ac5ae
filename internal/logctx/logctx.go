// Package logctx carries a zerolog logger and the run identifier through
// context.Context so that reader, driver and sink log lines share run_id,
// mode and shard fields without threading a logger through every call.
//
//	ctx, runID := logctx.WithRunID(ctx)
//	ctx = logctx.WithStr(ctx, "mode", "bin")
//	log := logctx.FromContext(ctx)
package logctx

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type loggerKey struct{}

type runIDKey struct{}

var (
	defaultLogger     zerolog.Logger
	defaultLoggerOnce sync.Once
)

func initDefaultLogger() {
	defaultLoggerOnce.Do(func() {
		defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
}

// DefaultLogger returns the logger used when a context carries none.
func DefaultLogger() zerolog.Logger {
	initDefaultLogger()
	return defaultLogger
}

// SetDefaultLogger overrides the default logger. Call it during
// initialization only; it is not safe concurrently with FromContext.
func SetDefaultLogger(l zerolog.Logger) {
	initDefaultLogger()
	defaultLogger = l
}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the context logger, or the default logger when ctx is
// nil or carries none. It never returns a zero-value logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return DefaultLogger()
	}
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// WithStr adds a string field to the context logger.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithInt adds an int field to the context logger.
func WithInt(ctx context.Context, key string, value int) context.Context {
	logger := FromContext(ctx).With().Int(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithShard tags the context logger with a shard index.
func WithShard(ctx context.Context, shard int) context.Context {
	return WithInt(ctx, "shard", shard)
}

// WithRunID generates a run identifier, stores it in the context and adds it
// to the context logger as run_id.
func WithRunID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, runIDKey{}, id)
	return WithStr(ctx, "run_id", id), id
}

// RunID returns the run identifier stored by WithRunID, or "".
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
