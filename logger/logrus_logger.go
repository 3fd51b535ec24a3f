package logger

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

type logrusLogger struct {
	logger    *logrus.Logger
	entry     *logrus.Entry
	baseField []Field
}

func newLogrusLogger(cfg Config) Logger {
	l := logrus.New()
	l.SetOutput(cfg.Output)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
		},
	})
	l.SetLevel(toLogrusLevel(cfg.Level))

	return &logrusLogger{
		logger: l,
		entry:  l.WithField("service", cfg.ServiceName),
	}
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func (l *logrusLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, DebugLevel, msg, fields)
}

func (l *logrusLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, InfoLevel, msg, fields)
}

func (l *logrusLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, WarnLevel, msg, fields)
}

func (l *logrusLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, ErrorLevel, msg, fields)
}

func (l *logrusLogger) Fatal(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, FatalLevel, msg, fields)
}

func (l *logrusLogger) WithFields(fields ...Field) Logger {
	return &logrusLogger{
		logger:    l.logger,
		entry:     l.entry,
		baseField: mergeFields(l.baseField, fields),
	}
}

func (l *logrusLogger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

func (l *logrusLogger) SetLevel(level LogLevel) {
	l.logger.SetLevel(toLogrusLevel(level))
}

// Sync is a no-op: logrus writes synchronously.
func (l *logrusLogger) Sync() error {
	return nil
}

func (l *logrusLogger) log(ctx context.Context, level LogLevel, msg string, fields []Field) {
	lvl := toLogrusLevel(level)
	if !l.logger.IsLevelEnabled(lvl) {
		return
	}

	data := make(logrus.Fields, len(l.baseField)+len(fields)+2)
	for _, f := range mergeFields(l.baseField, fields) {
		data[f.Key] = f.Value()
	}
	if ctx != nil {
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			data["trace_id"] = sc.TraceID().String()
			data["span_id"] = sc.SpanID().String()
		}
	}

	entry := l.entry.WithFields(data)
	if level == FatalLevel {
		entry.Fatal(msg)
		return
	}
	entry.Log(lvl, msg)
}
