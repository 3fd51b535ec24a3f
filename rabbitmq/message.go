package rabbitmq

import (
	"fmt"
	"io"
	"net/http"

	"github.com/T-Prohmpossadhorn/go-rest/rest"
	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	headerMethod = ":method"
	headerPath   = ":path"
	headerQuery  = ":query"
	headerStatus = ":status"
)

func encodeRequest(req *rest.Request) (amqp.Publishing, error) {
	body, err := req.ReadBody()
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("read request body: %w", err)
	}
	headers := httpToTable(req.Header)
	headers[headerMethod] = req.Method
	headers[headerPath] = req.Path
	if len(req.Query) > 0 {
		headers[headerQuery] = req.Query.Encode()
	}
	return amqp.Publishing{
		Headers:     headers,
		ContentType: req.ContentType,
		Type:        req.Method,
		Body:        body,
	}, nil
}

func decodeRequest(d amqp.Delivery) *rest.Request {
	req := &rest.Request{
		Method:      stringValue(d.Headers[headerMethod]),
		Path:        stringValue(d.Headers[headerPath]),
		Header:      tableToHTTP(d.Headers),
		Body:        d.Body,
		ContentType: d.ContentType,
	}
	if req.Method == "" {
		req.Method = d.Type
	}
	if raw := stringValue(d.Headers[headerQuery]); raw != "" {
		if q, err := rest.ParseQuery(raw); err == nil {
			req.Query = q
		}
	}
	return req
}

func encodeReply(env *rest.Envelope) (amqp.Publishing, error) {
	var body []byte
	if env.Body != nil {
		data, err := io.ReadAll(env.Body)
		if err != nil {
			return amqp.Publishing{}, fmt.Errorf("read response body: %w", err)
		}
		body = data
	}
	headers := httpToTable(env.Header)
	headers[headerStatus] = int32(env.Status)
	return amqp.Publishing{
		Headers:     headers,
		ContentType: env.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func errorReply(err error) amqp.Publishing {
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	return amqp.Publishing{
		Headers:     amqp.Table{headerStatus: int32(http.StatusBadGateway)},
		ContentType: "application/json",
		Body:        body,
	}
}

func decodeReply(d amqp.Delivery) *rest.Envelope {
	status := http.StatusOK
	switch v := d.Headers[headerStatus].(type) {
	case int32:
		status = int(v)
	case int64:
		status = int(v)
	case int:
		status = v
	}
	header := tableToHTTP(d.Headers)
	if d.ContentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", d.ContentType)
	}
	return rest.NewEnvelope(status, header, d.Body)
}

// httpToTable keeps single values as strings and multiple values as arrays.
func httpToTable(h http.Header) amqp.Table {
	t := amqp.Table{}
	for k, vs := range h {
		switch len(vs) {
		case 0:
		case 1:
			t[k] = vs[0]
		default:
			arr := make([]interface{}, len(vs))
			for i, v := range vs {
				arr[i] = v
			}
			t[k] = arr
		}
	}
	return t
}

func tableToHTTP(t amqp.Table) http.Header {
	h := http.Header{}
	for k, v := range t {
		if len(k) > 0 && k[0] == ':' {
			continue
		}
		switch v := v.(type) {
		case []interface{}:
			for _, item := range v {
				h.Add(k, stringValue(item))
			}
		default:
			h.Add(k, stringValue(v))
		}
	}
	return h
}

func stringValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// tableCarrier adapts message headers to propagation.TextMapCarrier.
type tableCarrier amqp.Table

func (c tableCarrier) Get(key string) string { return stringValue(c[key]) }

func (c tableCarrier) Set(key, value string) { c[key] = value }

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
