// Package codec holds the body serializers used to encode request payloads
// and decode response payloads.
package codec

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"reflect"
	"strings"
	"sync"
)

// Serializer converts values to and from a wire format.
type Serializer interface {
	// ContentType is the media type written on requests carrying a body.
	ContentType() string
	Serialize(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Encode writes v to w without buffering the whole payload first.
	Encode(w io.Writer, v any) error
	// Decode reads one value from r.
	Decode(r io.Reader, v any) error
	// PropertyName reports the wire name of a struct field. ok is false when
	// the field is not serialized.
	PropertyName(f reflect.StructField) (name string, ok bool)
}

// Default is the serializer adapters use unless told otherwise.
var Default Serializer = JSON{}

var (
	registryMu sync.RWMutex
	registry   = map[string]Serializer{}
)

func init() {
	Register(JSON{})
	Register(YAML{})
	Register(Form{})
}

// Register makes s available to ForContentType under its media type.
func Register(s Serializer) {
	registryMu.Lock()
	registry[mediaType(s.ContentType())] = s
	registryMu.Unlock()
}

// ForContentType returns the serializer registered for a Content-Type value.
// Parameters such as charset are ignored.
func ForContentType(contentType string) (Serializer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[mediaType(contentType)]
	return s, ok
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// Deserialize decodes one T from r.
//
// When length is known (>= 0, or r can report it by seeking) and fits the
// largest pool class, the payload is read into a pooled buffer of exactly
// that size and unmarshaled; the buffer goes back to the pool on every return
// path. Otherwise the value is decoded straight from the stream, reading at
// most length bytes when a length was given. An empty payload yields the zero
// value.
func Deserialize[T any](s Serializer, r io.Reader, length int64) (T, error) {
	var v T
	if r == nil {
		return v, nil
	}
	if length < 0 {
		length = remaining(r)
	}
	if length == 0 {
		return v, nil
	}

	if length > MaxPooledBody {
		r = io.LimitReader(r, length)
		length = -1
	}
	if length < 0 {
		if err := s.Decode(r, &v); err != nil && !errors.Is(err, io.EOF) {
			return v, fmt.Errorf("decode %T: %w", v, err)
		}
		return v, nil
	}

	buf := getBuffer(int(length))
	defer putBuffer(buf)
	n, err := io.ReadFull(r, *buf)
	if err != nil {
		return v, fmt.Errorf("read body (%d of %d bytes): %w", n, length, err)
	}
	if err := s.Unmarshal(*buf, &v); err != nil {
		return v, fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return v, nil
}

// remaining reports how many bytes are left in a seekable reader, or -1.
func remaining(r io.Reader) int64 {
	sk, ok := r.(io.Seeker)
	if !ok {
		return -1
	}
	cur, err := sk.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1
	}
	end, err := sk.Seek(0, io.SeekEnd)
	if err != nil {
		return -1
	}
	if _, err := sk.Seek(cur, io.SeekStart); err != nil {
		return -1
	}
	return end - cur
}

// tagName returns the wire name carried by a struct tag in the
// encoding/json style: "name,opts", "-" to skip, empty to use the fallback.
func tagName(f reflect.StructField, key string, fallback func(string) string) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	tag, has := f.Tag.Lookup(key)
	if has && tag == "-" {
		return "", false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = fallback(f.Name)
	}
	return name, true
}

func identity(s string) string { return s }
