package logger

import (
	"time"
)

// FieldType represents the type of a field
type FieldType int

const (
	StringType FieldType = iota
	IntType
	BoolType
	FloatType
	ErrorType
	TimeType
	DurationType
	ObjectType
	StringsType
)

// Field is a typed key/value pair attached to a log entry.
type Field struct {
	Key       string
	Type      FieldType
	String    string
	Int       int64
	Bool      bool
	Float     float64
	Error     error
	Time      time.Time
	Duration  time.Duration
	Strings   []string
	Interface interface{}
}

func String(key, value string) Field {
	return Field{Key: key, Type: StringType, String: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Type: IntType, Int: int64(value)}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Type: IntType, Int: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Type: BoolType, Bool: value}
}

func Float(key string, value float64) Field {
	return Field{Key: key, Type: FloatType, Float: value}
}

// Err creates an "error" field. A nil error still produces a field so callers
// can log unconditionally.
func Err(err error) Field {
	return Field{Key: "error", Type: ErrorType, Error: err}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Type: TimeType, Time: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Type: DurationType, Duration: value}
}

func Strings(key string, values []string) Field {
	return Field{Key: key, Type: StringsType, Strings: values}
}

// Any creates a field with an arbitrary value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Type: ObjectType, Interface: value}
}

// Value returns the field payload as a plain interface value.
func (f Field) Value() interface{} {
	switch f.Type {
	case StringType:
		return f.String
	case IntType:
		return f.Int
	case BoolType:
		return f.Bool
	case FloatType:
		return f.Float
	case ErrorType:
		if f.Error == nil {
			return nil
		}
		return f.Error.Error()
	case TimeType:
		return f.Time
	case DurationType:
		return f.Duration
	case StringsType:
		return f.Strings
	default:
		return f.Interface
	}
}
