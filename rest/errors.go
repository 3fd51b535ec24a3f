package rest

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/T-Prohmpossadhorn/go-rest/codec"
	"github.com/goccy/go-json"
)

// Definition errors, reported by Build wrapped in a *DefinitionError.
var (
	ErrAmbiguousMethod       = errors.New("ambiguous method")
	ErrUnresolvedPlaceholder = errors.New("unresolved path placeholder")
	ErrUnsupportedConstraint = errors.New("unsupported type parameter constraint")
	ErrMultipleBodies        = errors.New("more than one body parameter")
	ErrInvalidVerb           = errors.New("invalid http verb")
	ErrDuplicateMethod       = errors.New("duplicate method")
	ErrUnknownTypeParam      = errors.New("unknown type parameter")
	ErrInvalidTemplate       = errors.New("invalid path template")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrDuplicateInterface    = errors.New("duplicate interface")
)

// Dispatch errors.
var (
	ErrMethodNotFound = errors.New("method not found")
	ErrArgumentCount  = errors.New("wrong number of arguments")
	ErrTypeArgument   = errors.New("type argument does not satisfy constraint")
	ErrShapeMismatch  = errors.New("result shape mismatch")
	ErrNilArgument    = errors.New("nil path argument")
)

// DefinitionError is returned by Build when an interface cannot be turned
// into an adapter.
type DefinitionError struct {
	Interface string
	Method    string
	Err       error
	Detail    string
}

func (e *DefinitionError) Error() string {
	where := e.Interface
	if e.Method != "" {
		where += "." + e.Method
	}
	if e.Detail == "" {
		return fmt.Sprintf("rest: %s: %v", where, e.Err)
	}
	return fmt.Sprintf("rest: %s: %v: %s", where, e.Err, e.Detail)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// APIError is a response with a non-2xx status.
type APIError struct {
	Status  int
	Header  http.Header
	Content []byte
	// Message is taken from an {"error": ...} or {"message": ...} payload when present.
	Message string
	Method  string
	Path    string
	// Err is set when the error body could not be read completely.
	Err error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Method == "" {
		return fmt.Sprintf("rest: status %d: %s", e.Status, msg)
	}
	return fmt.Sprintf("rest: %s %s: status %d: %s", e.Method, e.Path, e.Status, msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// Decode unmarshals the error payload.
func (e *APIError) Decode(s codec.Serializer, v any) error {
	if s == nil {
		s = codec.Default
	}
	return s.Unmarshal(e.Content, v)
}

func errorMessage(content []byte) string {
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if len(content) == 0 || json.Unmarshal(content, &payload) != nil {
		return ""
	}
	switch v := payload.Error.(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if m, ok := v["message"].(string); ok {
			return m
		}
	}
	return payload.Message
}

// StatusOf returns the status carried by an *APIError anywhere in err's chain.
func StatusOf(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status, true
	}
	return 0, false
}

// DeserializationError reports a success response whose body could not be
// decoded into the declared result type.
type DeserializationError struct {
	Type        reflect.Type
	ContentType string
	Err         error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("rest: decode %s response into %v: %v", e.ContentType, e.Type, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }
