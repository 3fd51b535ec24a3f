package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// Request is what a dispatch function hands to the transport.
type Request struct {
	Method string
	// Path is the expanded template, relative to whatever base the transport uses.
	Path   string
	Query  Query
	Header http.Header
	// Body holds a buffered payload. BodyStream is set instead for streamed bodies.
	Body        []byte
	BodyStream  io.Reader
	ContentType string
}

// URL is Path with the encoded query appended.
func (r *Request) URL() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

// Payload returns the body as a reader, or nil when the request has none.
func (r *Request) Payload() io.Reader {
	if r.BodyStream != nil {
		return r.BodyStream
	}
	if r.Body != nil {
		return bytes.NewReader(r.Body)
	}
	return nil
}

// ReadBody buffers a streamed body. Transports that cannot stream call it before sending.
func (r *Request) ReadBody() ([]byte, error) {
	if r.BodyStream == nil {
		return r.Body, nil
	}
	data, err := io.ReadAll(r.BodyStream)
	if c, ok := r.BodyStream.(io.Closer); ok {
		c.Close()
	}
	if err != nil {
		return nil, err
	}
	r.Body, r.BodyStream = data, nil
	return data, nil
}

// Envelope is a transport response.
type Envelope struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	// ContentLength is -1 when unknown.
	ContentLength int64
}

// NewEnvelope wraps a buffered response.
func NewEnvelope(status int, header http.Header, body []byte) *Envelope {
	if header == nil {
		header = http.Header{}
	}
	return &Envelope{
		Status:        status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// IsSuccess reports a 2xx status.
func (e *Envelope) IsSuccess() bool {
	return e.Status >= 200 && e.Status < 300
}

// Close releases the body.
func (e *Envelope) Close() error {
	if e.Body == nil {
		return nil
	}
	return e.Body.Close()
}

// Transport sends requests. Errors it returns reach the caller unchanged.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Envelope, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Envelope, error)

func (f TransportFunc) Send(ctx context.Context, req *Request) (*Envelope, error) {
	return f(ctx, req)
}
