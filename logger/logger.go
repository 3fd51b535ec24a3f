package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// LoggerType selects the backend library
type LoggerType int

const (
	// ZapLogger uses go.uber.org/zap
	ZapLogger LoggerType = iota
	// LogrusLogger uses github.com/sirupsen/logrus
	LogrusLogger
)

// Logger is the structured logger every package in this module writes through.
// Methods take the call context so trace and span ids can be attached.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Fatal(ctx context.Context, msg string, fields ...Field)
	WithFields(fields ...Field) Logger
	SetOutput(w io.Writer)
	SetLevel(level LogLevel)
	Sync() error
}

// Config represents the logger configuration
type Config struct {
	Type        LoggerType
	Level       LogLevel
	Output      io.Writer
	ServiceName string
}

// DefaultConfig returns a zap logger at info level writing to stdout.
func DefaultConfig() Config {
	return Config{
		Type:        ZapLogger,
		Level:       InfoLevel,
		Output:      os.Stdout,
		ServiceName: "go-rest",
	}
}

var (
	mu            sync.RWMutex
	defaultLogger Logger
)

// New creates a new logger with the given configuration
func New(cfg Config) Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	switch cfg.Type {
	case LogrusLogger:
		return newLogrusLogger(cfg)
	default:
		return newZapLogger(cfg)
	}
}

// Init replaces the default logger using CONFIG_LOGGER_LEVEL, CONFIG_LOGGER_TYPE
// (zap|logrus) and CONFIG_LOGGER_SERVICE from the environment.
func Init() error {
	cfg := DefaultConfig()
	if lvl := os.Getenv("CONFIG_LOGGER_LEVEL"); lvl != "" {
		level, err := ParseLevel(lvl)
		if err != nil {
			return err
		}
		cfg.Level = level
	}
	switch strings.ToLower(os.Getenv("CONFIG_LOGGER_TYPE")) {
	case "", "zap":
	case "logrus":
		cfg.Type = LogrusLogger
	default:
		return fmt.Errorf("unknown logger type: %s", os.Getenv("CONFIG_LOGGER_TYPE"))
	}
	if svc := os.Getenv("CONFIG_LOGGER_SERVICE"); svc != "" {
		cfg.ServiceName = svc
	}
	SetLogger(New(cfg))
	return nil
}

// GetLogger returns the default logger, creating it on first use.
func GetLogger() Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(DefaultConfig())
	}
	return defaultLogger
}

// SetLogger sets the default logger instance
func SetLogger(l Logger) {
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

func Debug(ctx context.Context, msg string, fields ...Field) {
	GetLogger().Debug(ctx, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...Field) {
	GetLogger().Info(ctx, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...Field) {
	GetLogger().Warn(ctx, msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...Field) {
	GetLogger().Error(ctx, msg, fields...)
}

func Fatal(ctx context.Context, msg string, fields ...Field) {
	GetLogger().Fatal(ctx, msg, fields...)
}

// WithFields returns the default logger with the given fields attached
func WithFields(fields ...Field) Logger {
	return GetLogger().WithFields(fields...)
}

// Sync flushes any buffered entries of the default logger
func Sync() error {
	return GetLogger().Sync()
}

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return fmt.Sprintf("LogLevel(%d)", l)
	}
}

// ParseLevel parses a string into a LogLevel
func ParseLevel(levelStr string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// mergeFields joins base fields with call fields without aliasing either slice.
func mergeFields(base, fields []Field) []Field {
	all := make([]Field, 0, len(base)+len(fields))
	all = append(all, base...)
	return append(all, fields...)
}
