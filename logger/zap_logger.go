package logger

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	logger    *zap.Logger
	level     zap.AtomicLevel
	config    Config
	baseField []Field
}

func newZapLogger(cfg Config) Logger {
	level := zap.NewAtomicLevelAt(toZapLevel(cfg.Level))
	return &zapLogger{
		logger: buildZap(cfg, level),
		level:  level,
		config: cfg,
	}
}

func buildZap(cfg Config, level zap.AtomicLevel) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(cfg.Output),
		level,
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).
		With(zap.String("service", cfg.ServiceName))
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, DebugLevel, msg, fields)
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, InfoLevel, msg, fields)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, WarnLevel, msg, fields)
}

func (l *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, ErrorLevel, msg, fields)
}

func (l *zapLogger) Fatal(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, FatalLevel, msg, fields)
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{
		logger:    l.logger,
		level:     l.level,
		config:    l.config,
		baseField: mergeFields(l.baseField, fields),
	}
}

// SetOutput rebuilds the core; loggers derived earlier with WithFields keep the old writer.
func (l *zapLogger) SetOutput(w io.Writer) {
	l.config.Output = w
	l.logger = buildZap(l.config, l.level)
}

func (l *zapLogger) SetLevel(level LogLevel) {
	l.config.Level = level
	l.level.SetLevel(toZapLevel(level))
}

func (l *zapLogger) Sync() error {
	return l.logger.Sync()
}

func (l *zapLogger) log(ctx context.Context, level LogLevel, msg string, fields []Field) {
	ce := l.logger.Check(toZapLevel(level), msg)
	if ce == nil {
		return
	}

	all := mergeFields(l.baseField, fields)
	if ctx != nil {
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			all = append(all, String("trace_id", sc.TraceID().String()), String("span_id", sc.SpanID().String()))
		}
	}

	zapFields := make([]zap.Field, 0, len(all))
	for _, f := range all {
		zapFields = append(zapFields, toZapField(f))
	}
	ce.Write(zapFields...)
}

func toZapField(f Field) zap.Field {
	switch f.Type {
	case StringType:
		return zap.String(f.Key, f.String)
	case IntType:
		return zap.Int64(f.Key, f.Int)
	case BoolType:
		return zap.Bool(f.Key, f.Bool)
	case FloatType:
		return zap.Float64(f.Key, f.Float)
	case ErrorType:
		if f.Error == nil {
			return zap.Skip()
		}
		return zap.NamedError(f.Key, f.Error)
	case TimeType:
		return zap.Time(f.Key, f.Time)
	case DurationType:
		return zap.Duration(f.Key, f.Duration)
	case StringsType:
		return zap.Strings(f.Key, f.Strings)
	default:
		return zap.Any(f.Key, f.Interface)
	}
}
