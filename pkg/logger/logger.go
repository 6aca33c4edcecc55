package logger

import (
	"context"

	"activations-controlplane/pkg/config"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("zap",
	fx.Provide(
		New,
	),
)

type ConfigParams struct {
	fx.In
	Cfg *config.Config
}

// New builds the process logger and installs it as the zap global. Production
// writes JSON with severity keys; anything else gets the console encoder.
func New(p ConfigParams) *zap.Logger {
	cfg := p.Cfg
	if cfg == nil {
		cfg = &config.Config{}
	}

	zc := zap.NewDevelopmentConfig()
	if cfg.AppEnv == "production" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.LevelKey = "severity"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		zc.OutputPaths = []string{"stdout"}
		zc.ErrorOutputPaths = []string{"stderr"}
	}
	if cfg.LogLevel != "" {
		if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
			zc.Level = level
		}
	}

	log := zap.Must(zc.Build()).With(
		zap.String("env", cfg.AppEnv),
		zap.String("service_name", cfg.AppName),
		zap.String("version", cfg.AppVersion),
	)
	zap.ReplaceGlobals(log)

	return log
}

// WithTrace returns the global logger annotated with the trace and span ids
// found in ctx.
func WithTrace(ctx context.Context, fields ...zap.Field) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
	return zap.L().With(append(opts, fields...)...)
}
