package rest

import (
	"bytes"
	"encoding"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/T-Prohmpossadhorn/go-rest/codec"
)

// segment is a literal run of a path template or a {placeholder}.
type segment struct {
	text        string
	placeholder bool
	param       int
}

func parseTemplate(tmpl string) ([]segment, map[string]bool, error) {
	var segs []segment
	names := map[string]bool{}
	rest := tmpl
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if closeAt := strings.IndexByte(rest, '}'); closeAt >= 0 && (open < 0 || closeAt < open) {
			return nil, nil, fmt.Errorf("unmatched '}' in %q", tmpl)
		}
		if open < 0 {
			segs = append(segs, segment{text: rest})
			break
		}
		if open > 0 {
			segs = append(segs, segment{text: rest[:open]})
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, nil, fmt.Errorf("unclosed '{' in %q", tmpl)
		}
		name := rest[open+1 : open+end]
		if name == "" || strings.ContainsAny(name, "{/") {
			return nil, nil, fmt.Errorf("bad placeholder %q in %q", name, tmpl)
		}
		segs = append(segs, segment{text: name, placeholder: true})
		names[strings.ToLower(name)] = true
		rest = rest[open+end+1:]
	}
	return segs, names, nil
}

// QueryPair is one key=value query entry.
type QueryPair struct {
	Key   string
	Value string
}

// Query is an ordered query string.
type Query []QueryPair

// Add appends a pair.
func (q *Query) Add(key, value string) {
	*q = append(*q, QueryPair{Key: key, Value: value})
}

// Get returns the first value for key.
func (q Query) Get(key string) string {
	for _, p := range q {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// Values returns every value for key in order.
func (q Query) Values(key string) []string {
	var out []string
	for _, p := range q {
		if p.Key == key {
			out = append(out, p.Value)
		}
	}
	return out
}

// Encode renders the query in insertion order.
func (q Query) Encode() string {
	var sb strings.Builder
	for i, p := range q {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.Value))
	}
	return sb.String()
}

// URLValues converts the query to url.Values. Key order is lost.
func (q Query) URLValues() url.Values {
	v := url.Values{}
	for _, p := range q {
		v.Add(p.Key, p.Value)
	}
	return v
}

// ParseQuery parses an encoded query keeping pair order.
func ParseQuery(raw string) (Query, error) {
	var q Query
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}
		q.Add(key, value)
	}
	return q, nil
}

var (
	timeType          = reflect.TypeFor[time.Time]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
	stringerType      = reflect.TypeFor[fmt.Stringer]()
	readerType        = reflect.TypeFor[io.Reader]()
	bytesType         = reflect.TypeFor[[]byte]()
)

func hasStringForm(t reflect.Type) bool {
	if t == timeType {
		return true
	}
	for _, iface := range []reflect.Type{textMarshalerType, stringerType} {
		if t.Implements(iface) || (t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(iface)) {
			return true
		}
	}
	return false
}

// expandable reports whether a query value of type t is spread over one key per property.
func expandable(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return (t.Kind() == reflect.Struct || t.Kind() == reflect.Map) && !hasStringForm(t)
}

func attachable(t reflect.Type) bool {
	return t == bytesType || t.Kind() == reflect.String || t.Implements(readerType) ||
		(t.Kind() == reflect.Interface && readerType.Implements(t))
}

// indirect unwraps pointers and interfaces. present is false for nil.
func indirect(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return v, false
		}
		if v.Kind() == reflect.Pointer && hasStringForm(v.Type()) && !hasStringForm(v.Type().Elem()) {
			break
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

// scalar renders a value as a single string, if it has one.
func scalar(v reflect.Value) (string, bool, error) {
	if v.CanInterface() {
		switch x := v.Interface().(type) {
		case time.Time:
			return x.Format(time.RFC3339Nano), true, nil
		case encoding.TextMarshaler:
			b, err := x.MarshalText()
			return string(b), true, err
		case fmt.Stringer:
			return x.String(), true, nil
		}
		if v.Kind() != reflect.Pointer && v.CanAddr() {
			switch x := v.Addr().Interface().(type) {
			case encoding.TextMarshaler:
				b, err := x.MarshalText()
				return string(b), true, err
			case fmt.Stringer:
				return x.String(), true, nil
			}
		}
	}
	switch v.Kind() {
	case reflect.String:
		return v.String(), true, nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10), true, nil
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32), true, nil
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), true, nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return string(v.Bytes()), true, nil
		}
	}
	return "", false, nil
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// encoder turns call arguments into request parts.
type encoder struct {
	s codec.Serializer
}

func (e encoder) path(segs []segment, params []*ParameterDescriptor, args []any) (string, error) {
	var sb strings.Builder
	for _, seg := range segs {
		if !seg.placeholder {
			sb.WriteString(seg.text)
			continue
		}
		v, ok := indirect(reflect.ValueOf(args[seg.param]))
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrNilArgument, params[seg.param].Name)
		}
		s, ok, err := scalar(v)
		if err != nil {
			return "", fmt.Errorf("rest: path parameter %s: %w", params[seg.param].Name, err)
		}
		if !ok {
			return "", fmt.Errorf("rest: path parameter %s: %s has no string form", params[seg.param].Name, v.Type())
		}
		sb.WriteString(url.PathEscape(s))
	}
	return sb.String(), nil
}

// query appends v under key. Collections repeat the key; structs and maps
// expand to one key per property when expand is set or no string form exists.
func (e encoder) query(q *Query, key string, v reflect.Value, expand bool) error {
	v, ok := indirect(v)
	if !ok {
		return nil
	}
	kind := v.Kind()
	if !(expand && (kind == reflect.Struct || kind == reflect.Map)) {
		s, ok, err := scalar(v)
		if err != nil {
			return fmt.Errorf("rest: query %s: %w", key, err)
		}
		if ok {
			q.Add(key, s)
			return nil
		}
	}

	switch kind {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := e.query(q, key, v.Index(i), expand); err != nil {
				return err
			}
		}
	case reflect.Map:
		keys := make([]string, 0, v.Len())
		byName := make(map[string]reflect.Value, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k, ok, err := scalar(iter.Key())
			if err != nil || !ok {
				return fmt.Errorf("rest: query %s: unsupported map key %s", key, iter.Key().Type())
			}
			keys = append(keys, k)
			byName[k] = iter.Value()
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := e.query(q, joinKey(key, k), byName[k], expand); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Anonymous && f.Tag == "" && f.Type.Kind() == reflect.Struct {
				if err := e.query(q, key, v.Field(i), true); err != nil {
					return err
				}
				continue
			}
			name, ok := e.s.PropertyName(f)
			if !ok {
				continue
			}
			if err := e.query(q, joinKey(key, name), v.Field(i), expand); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("rest: query %s: cannot encode %s", key, v.Type())
	}
	return nil
}

// header writes a header-role argument. String maps add every entry.
func (e encoder) header(h http.Header, name string, v reflect.Value) error {
	v, ok := indirect(v)
	if !ok {
		return nil
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("rest: header %s: map key must be a string", name)
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := e.header(h, iter.Key().String(), iter.Value()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() != reflect.Uint8 {
			for i := 0; i < v.Len(); i++ {
				ev, ok := indirect(v.Index(i))
				if !ok {
					continue
				}
				s, ok, err := scalar(ev)
				if err != nil || !ok {
					return fmt.Errorf("rest: header %s: unsupported value %s", name, ev.Type())
				}
				h.Add(name, s)
			}
			return nil
		}
	}
	s, ok, err := scalar(v)
	if err != nil || !ok {
		return fmt.Errorf("rest: header %s: unsupported value %s", name, v.Type())
	}
	h.Set(name, s)
	return nil
}

const octetStream = "application/octet-stream"

// body fills the request payload from the body argument.
func (e encoder) body(req *Request, p *ParameterDescriptor, arg any) error {
	if _, ok := indirect(reflect.ValueOf(arg)); !ok {
		return nil
	}
	r, isReader := arg.(io.Reader)
	if p.BodyMode == BodyStreamed {
		if isReader {
			req.BodyStream = r
			req.ContentType = octetStream
			return nil
		}
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(e.s.Encode(pw, arg))
		}()
		req.BodyStream = pr
		req.ContentType = e.s.ContentType()
		return nil
	}
	if isReader {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("rest: read body %s: %w", p.Name, err)
		}
		req.Body = data
		req.ContentType = octetStream
		return nil
	}
	data, err := e.s.Serialize(arg)
	if err != nil {
		return fmt.Errorf("rest: serialize body %s: %w", p.Name, err)
	}
	req.Body = data
	req.ContentType = e.s.ContentType()
	return nil
}

// multipart writes attachments, and the body parameter if any, as
// multipart/form-data.
func (e encoder) multipart(req *Request, params []*ParameterDescriptor, args []any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for i, p := range params {
		if _, ok := indirect(reflect.ValueOf(args[i])); !ok {
			continue
		}
		switch p.Role {
		case RoleAttachment:
			part, err := mw.CreateFormFile(p.PartName, p.PartName)
			if err != nil {
				return err
			}
			if err := writeAttachment(part, args[i]); err != nil {
				return fmt.Errorf("rest: attachment %s: %w", p.PartName, err)
			}
		case RoleBody:
			data, err := e.s.Serialize(args[i])
			if err != nil {
				return fmt.Errorf("rest: serialize body %s: %w", p.Name, err)
			}
			h := textproto.MIMEHeader{}
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.WireName()))
			h.Set("Content-Type", e.s.ContentType())
			part, err := mw.CreatePart(h)
			if err != nil {
				return err
			}
			if _, err := part.Write(data); err != nil {
				return err
			}
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req.Body = buf.Bytes()
	req.ContentType = mw.FormDataContentType()
	return nil
}

func writeAttachment(w io.Writer, arg any) error {
	switch x := arg.(type) {
	case []byte:
		_, err := w.Write(x)
		return err
	case string:
		_, err := io.WriteString(w, x)
		return err
	case io.Reader:
		_, err := io.Copy(w, x)
		return err
	}
	v, _ := indirect(reflect.ValueOf(arg))
	if v.Kind() == reflect.String {
		_, err := io.WriteString(w, v.String())
		return err
	}
	return fmt.Errorf("unsupported attachment type %T", arg)
}
