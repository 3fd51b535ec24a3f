package codec

import (
	"io"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAML encodes bodies with gopkg.in/yaml.v3.
type YAML struct{}

func (YAML) ContentType() string { return "application/yaml" }

func (YAML) Serialize(v any) ([]byte, error) { return yaml.Marshal(v) }

func (YAML) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }

func (YAML) Encode(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (YAML) Decode(r io.Reader, v any) error { return yaml.NewDecoder(r).Decode(v) }

// PropertyName follows the `yaml` tag; untagged fields are lowercased the way
// yaml.v3 does it.
func (YAML) PropertyName(f reflect.StructField) (string, bool) {
	return tagName(f, "yaml", strings.ToLower)
}
