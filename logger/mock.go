package logger

import (
	"context"
	"io"
	"sync"
)

// LogEntry is one recorded call on a MockLogger
type LogEntry struct {
	Level  LogLevel
	Msg    string
	Fields []Field
}

// Field returns the first field with the given key.
func (e LogEntry) Field(key string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// MockLogger records entries in memory. Loggers derived with WithFields share
// the parent's record so tests can inspect everything from one place.
type MockLogger struct {
	rec        *mockRecord
	baseFields []Field
}

type mockRecord struct {
	mu      sync.Mutex
	level   LogLevel
	entries []LogEntry
}

// NewMockLogger creates a mock logger at info level
func NewMockLogger() *MockLogger {
	return &MockLogger{rec: &mockRecord{level: InfoLevel}}
}

func (m *MockLogger) record(level LogLevel, msg string, fields []Field) {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	if level < m.rec.level {
		return
	}
	m.rec.entries = append(m.rec.entries, LogEntry{
		Level:  level,
		Msg:    msg,
		Fields: mergeFields(m.baseFields, fields),
	})
}

func (m *MockLogger) Debug(_ context.Context, msg string, fields ...Field) {
	m.record(DebugLevel, msg, fields)
}

func (m *MockLogger) Info(_ context.Context, msg string, fields ...Field) {
	m.record(InfoLevel, msg, fields)
}

func (m *MockLogger) Warn(_ context.Context, msg string, fields ...Field) {
	m.record(WarnLevel, msg, fields)
}

func (m *MockLogger) Error(_ context.Context, msg string, fields ...Field) {
	m.record(ErrorLevel, msg, fields)
}

// Fatal records the entry; it never exits.
func (m *MockLogger) Fatal(_ context.Context, msg string, fields ...Field) {
	m.record(FatalLevel, msg, fields)
}

func (m *MockLogger) WithFields(fields ...Field) Logger {
	return &MockLogger{rec: m.rec, baseFields: mergeFields(m.baseFields, fields)}
}

func (m *MockLogger) SetOutput(io.Writer) {}

func (m *MockLogger) SetLevel(level LogLevel) {
	m.rec.mu.Lock()
	m.rec.level = level
	m.rec.mu.Unlock()
}

func (m *MockLogger) Sync() error { return nil }

// Entries returns the recorded entries at the given level.
func (m *MockLogger) Entries(level LogLevel) []LogEntry {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	var out []LogEntry
	for _, e := range m.rec.entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Messages returns every recorded message in order.
func (m *MockLogger) Messages() []string {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	out := make([]string, 0, len(m.rec.entries))
	for _, e := range m.rec.entries {
		out = append(out, e.Msg)
	}
	return out
}

// Reset clears all recorded entries
func (m *MockLogger) Reset() {
	m.rec.mu.Lock()
	m.rec.entries = nil
	m.rec.mu.Unlock()
}
