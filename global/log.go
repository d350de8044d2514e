package global

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger such that every record can be correlated
// with the trace of the context it was emitted under.
type Logger struct {
	sub *zap.Logger
}

var (
	logger     *Logger
	loggerOnce sync.Once
)

// Log returns the process-wide logger, building it on first use from
// the shared configuration.
func Log() *Logger {
	loggerOnce.Do(func() {
		lvl, err := zapcore.ParseLevel(Conf.LogLevel)
		if err != nil {
			lvl = zapcore.InfoLevel
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		sub, err := cfg.Build()
		if err != nil {
			sub = zap.NewNop()
		}
		logger = &Logger{sub: sub}
	})
	return logger
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{sub: l.sub.With(fields...)}
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.sub.Debug(msg, withSpan(ctx, fields)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.sub.Info(msg, withSpan(ctx, fields)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.sub.Warn(msg, withSpan(ctx, fields)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.sub.Error(msg, withSpan(ctx, fields)...)
}

func withSpan(ctx context.Context, fields []zap.Field) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return fields
	}
	return append(fields,
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
