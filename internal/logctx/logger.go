// Package logctx wires a zap logger through context.Context, tagging
// every line with the tenant and request id carried by internal/tenant
// once they're attached.
package logctx

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"whatsapp-platform/internal/tenant"
)

// Log is the process-wide logger, set by Init.
var Log *zap.Logger

type contextKey int

const loggerKey contextKey = iota

// Init builds the process-wide JSON logger at the given level
// ("debug", "info", "warn", "error"). Development mode switches to a
// console encoder and sets zap's Development flag, matching how the
// operator collaborator's dev flag relaxes other strictness (signature
// checks). Neither mode configures sampling.
func Init(level string, development bool) error {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	encoding := "json"
	if development {
		encoding = "console"
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: development,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.UTC().Format(time.RFC3339)) },
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	Log = logger
	return nil
}

// WithLogger attaches a scoped logger to ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// From returns the logger for ctx, enriched with tenant_id and
// request_id fields when present, falling back to the global logger.
func From(ctx context.Context) *zap.Logger {
	base := Log
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		base = l
	}
	if tenantID, err := tenant.FromContext(ctx); err == nil {
		base = base.With(zap.String("tenant_id", tenantID))
	}
	if requestID, ok := tenant.RequestIDFromContext(ctx); ok {
		base = base.With(zap.String("request_id", requestID))
	}
	return base
}

// Sync flushes buffered log entries; call on shutdown.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
