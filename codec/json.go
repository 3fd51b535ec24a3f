package codec

import (
	"io"
	"reflect"

	"github.com/goccy/go-json"
)

// JSON is the default serializer, backed by goccy/go-json.
type JSON struct{}

func (JSON) ContentType() string { return "application/json" }

func (JSON) Serialize(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSON) Encode(w io.Writer, v any) error { return json.NewEncoder(w).Encode(v) }

func (JSON) Decode(r io.Reader, v any) error { return json.NewDecoder(r).Decode(v) }

// PropertyName follows the `json` tag.
func (JSON) PropertyName(f reflect.StructField) (string, bool) {
	return tagName(f, "json", identity)
}
