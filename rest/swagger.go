package rest

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/T-Prohmpossadhorn/go-rest/codec"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
)

// Swagger renders an OpenAPI 3 document for the given interfaces. Methods
// sharing a path and verb are listed once, nearest declaration first.
func Swagger(title string, descs ...*InterfaceDescriptor) map[string]interface{} {
	ctx := context.Background()
	logger.Debug(ctx, "Starting Swagger generation", logger.Int("interfaces", len(descs)))

	paths := map[string]interface{}{}
	doc := map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   title,
			"version": "1.0.0",
		},
		"paths": paths,
	}
	s := codec.Default

	count := 0
	for _, d := range descs {
		for _, m := range d.Methods {
			path := m.Template
			if path == "" {
				path = "/"
			}
			entry, ok := paths[path].(map[string]interface{})
			if !ok {
				entry = map[string]interface{}{}
				paths[path] = entry
			}
			verb := strings.ToLower(string(m.Verb))
			if _, exists := entry[verb]; exists {
				continue
			}
			entry[verb] = operation(s, m)
			count++
		}
	}

	logger.Debug(ctx, "Swagger doc generated", logger.Int("operations", count))
	return doc
}

func operation(s codec.Serializer, m *MethodDescriptor) map[string]interface{} {
	op := map[string]interface{}{
		"operationId": m.Declarer.Name + "_" + m.Name,
		"tags":        []string{m.Declarer.Name},
	}

	var params []map[string]interface{}
	for _, p := range m.Params {
		in := ""
		switch p.Role {
		case RolePath:
			in = "path"
		case RoleQuery:
			in = "query"
		case RoleHeader:
			in = "header"
		}
		if in == "" {
			continue
		}
		name := p.WireName()
		if p.Role == RoleHeader {
			name = p.HeaderName
		}
		if p.Role == RolePath {
			for _, seg := range m.segments {
				if seg.placeholder && seg.param >= 0 && m.Params[seg.param] == p {
					name = seg.text
				}
			}
		}
		params = append(params, map[string]interface{}{
			"name":     name,
			"in":       in,
			"required": p.Role == RolePath,
			"schema":   schemaOf(s, p.Type),
		})
	}
	if len(params) > 0 {
		op["parameters"] = params
	}

	if body := m.Body(); body != nil {
		op["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				s.ContentType(): map[string]interface{}{"schema": schemaOf(s, body.Type)},
			},
		}
	}

	response := map[string]interface{}{"description": "Successful response"}
	if m.Shape != ShapeNone && (m.Result.Type != nil || m.Result.IsOpen()) {
		response["content"] = map[string]interface{}{
			s.ContentType(): map[string]interface{}{"schema": schemaOf(s, m.Result)},
		}
	}
	op["responses"] = map[string]interface{}{
		"200":     response,
		"default": map[string]interface{}{"description": "Error response"},
	}
	return op
}

func schemaOf(s codec.Serializer, ref TypeRef) map[string]interface{} {
	if ref.IsOpen() {
		return map[string]interface{}{"description": "type parameter " + ref.Param}
	}
	return typeSchema(s, ref.Type, map[reflect.Type]bool{})
}

func typeSchema(s codec.Serializer, t reflect.Type, seen map[reflect.Type]bool) map[string]interface{} {
	if t == nil {
		return map[string]interface{}{}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == reflect.TypeFor[time.Time]() {
		return map[string]interface{}{"type": "string", "format": "date-time"}
	}
	switch t.Kind() {
	case reflect.String:
		return map[string]interface{}{"type": "string"}
	case reflect.Bool:
		return map[string]interface{}{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]interface{}{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]interface{}{"type": "number"}
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return map[string]interface{}{"type": "string", "format": "binary"}
		}
		return map[string]interface{}{"type": "array", "items": typeSchema(s, t.Elem(), seen)}
	case reflect.Map:
		return map[string]interface{}{"type": "object", "additionalProperties": typeSchema(s, t.Elem(), seen)}
	case reflect.Struct:
		if seen[t] {
			return map[string]interface{}{"type": "object"}
		}
		seen[t] = true
		defer delete(seen, t)
		props := map[string]interface{}{}
		var required []string
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, ok := s.PropertyName(f)
			if !ok {
				continue
			}
			props[name] = typeSchema(s, f.Type, seen)
			if strings.Contains(f.Tag.Get("validate"), "required") {
				required = append(required, name)
			}
		}
		schema := map[string]interface{}{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}
	return map[string]interface{}{}
}
