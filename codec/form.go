package codec

import (
	"fmt"
	"io"
	"net/url"
	"reflect"

	"github.com/gorilla/schema"
)

var (
	formEncoder = schema.NewEncoder()
	formDecoder = schema.NewDecoder()
)

func init() {
	formDecoder.IgnoreUnknownKeys(true)
}

// Form encodes structs as application/x-www-form-urlencoded using
// gorilla/schema and the `schema` struct tag.
type Form struct{}

func (Form) ContentType() string { return "application/x-www-form-urlencoded" }

func (Form) Serialize(v any) ([]byte, error) {
	values, err := formValues(v)
	if err != nil {
		return nil, err
	}
	return []byte(values.Encode()), nil
}

func (Form) Unmarshal(data []byte, v any) error {
	values, err := url.ParseQuery(string(data))
	if err != nil {
		return fmt.Errorf("parse form: %w", err)
	}
	return formDecoder.Decode(v, values)
}

func (f Form) Encode(w io.Writer, v any) error {
	data, err := f.Serialize(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (f Form) Decode(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return f.Unmarshal(data, v)
}

func (Form) PropertyName(f reflect.StructField) (string, bool) {
	return tagName(f, "schema", identity)
}

func formValues(v any) (url.Values, error) {
	values := url.Values{}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return values, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		if err := formEncoder.Encode(rv.Interface(), values); err != nil {
			return nil, fmt.Errorf("encode form: %w", err)
		}
		return values, nil
	case reflect.Map:
		if m, ok := rv.Interface().(url.Values); ok {
			return m, nil
		}
		if m, ok := rv.Interface().(map[string][]string); ok {
			return url.Values(m), nil
		}
		if m, ok := rv.Interface().(map[string]string); ok {
			for k, s := range m {
				values.Set(k, s)
			}
			return values, nil
		}
	}
	return nil, fmt.Errorf("form body must be a struct or string map, got %T", v)
}
