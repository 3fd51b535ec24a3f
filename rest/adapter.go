package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sync"

	"github.com/T-Prohmpossadhorn/go-rest/codec"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
	"github.com/T-Prohmpossadhorn/go-rest/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "go-rest"

// MaxErrorBody bounds how much of a non-success body is kept in APIError.Content.
const MaxErrorBody = 1 << 20

// Adapter forwards interface calls to a transport. Generated clients embed
// it and implement each method with one of the projectors (Value, Wrapped,
// Stream, Raw, Send).
type Adapter struct {
	desc       *InterfaceDescriptor
	transport  Transport
	resolver   *Resolver
	serializer codec.Serializer
	tracing    bool
	log        logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSerializer replaces codec.Default for bodies and responses.
func WithSerializer(s codec.Serializer) Option {
	return func(a *Adapter) {
		a.serializer = s
	}
}

// WithTracing starts a client span per call.
func WithTracing() Option {
	return func(a *Adapter) {
		a.tracing = true
	}
}

// WithLogger replaces the default logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) {
		a.log = l
	}
}

// NewAdapter binds desc to a transport. A nil resolver selects DefaultResolver.
// It panics when desc or t is nil.
func NewAdapter(desc *InterfaceDescriptor, t Transport, r *Resolver, opts ...Option) *Adapter {
	if desc == nil {
		panic("rest: NewAdapter called with nil descriptor")
	}
	if t == nil {
		panic("rest: NewAdapter called with nil transport")
	}
	if r == nil {
		r = DefaultResolver
	}
	a := &Adapter{
		desc:       desc,
		transport:  t,
		resolver:   r,
		serializer: codec.Default,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.GetLogger()
	}
	a.log = a.log.WithFields(logger.String("interface", desc.QualifiedName()))
	return a
}

// Transport returns the transport the adapter sends through.
func (a *Adapter) Transport() Transport { return a.transport }

// Descriptor returns the interface the adapter implements.
func (a *Adapter) Descriptor() *InterfaceDescriptor { return a.desc }

// Resolver returns the dispatch cache in use.
func (a *Adapter) Resolver() *Resolver { return a.resolver }

// Serializer returns the body serializer in use.
func (a *Adapter) Serializer() codec.Serializer { return a.serializer }

// Close closes the transport once if the interface is disposable and the
// transport implements io.Closer. Otherwise it does nothing.
func (a *Adapter) Close() error {
	if !a.desc.Disposable {
		return nil
	}
	a.closeOnce.Do(func() {
		if c, ok := a.transport.(io.Closer); ok {
			a.closeErr = c.Close()
			a.log.Debug(context.Background(), "transport closed", logger.Err(a.closeErr))
		}
	})
	return a.closeErr
}

// exchange is one request/response round trip.
type exchange struct {
	fn      *DispatchFunc
	req     *Request
	env     *Envelope
	ctx     context.Context
	span    trace.Span
	release func()
}

// finish ends the span and releases the call context.
func (x *exchange) finish(err error) {
	if x.span != nil {
		if err != nil {
			x.span.RecordError(err)
			x.span.SetStatus(codes.Error, err.Error())
		}
		x.span.End()
	}
	if x.release != nil {
		x.release()
	}
}

// roundTrip resolves and sends call. sub, when set, cancels the call too.
func (a *Adapter) roundTrip(call Call, shape Shape, result reflect.Type, sub context.Context) (*exchange, error) {
	fn, err := a.resolver.Resolve(a.desc, call, result)
	if err != nil {
		a.log.Error(context.Background(), "dispatch resolution failed", logger.String("method", call.Method), logger.Err(err))
		return nil, err
	}
	if fn.Method.Shape != shape {
		return nil, fmt.Errorf("%w: %s is declared %s, called as %s", ErrShapeMismatch, fn.Method.ID(), fn.Method.Shape, shape)
	}

	x := &exchange{fn: fn, ctx: fn.Context(call.Args)}
	if sub != nil {
		ctx, cancel := context.WithCancel(x.ctx)
		stop := context.AfterFunc(sub, cancel)
		x.ctx = ctx
		x.release = func() {
			stop()
			cancel()
		}
	}

	req, err := fn.Build(a.serializer, call.Args)
	if err != nil {
		x.finish(nil)
		a.log.Error(x.ctx, "request encoding failed", logger.String("method", fn.Method.Name), logger.Err(err))
		return nil, err
	}
	for k, vs := range a.desc.Headers {
		if _, ok := req.Header[k]; !ok {
			req.Header[k] = append([]string(nil), vs...)
		}
	}
	x.req = req

	if a.tracing {
		x.ctx, x.span = otel.StartSpan(x.ctx, tracerName, fn.Method.Declarer.Name+"."+fn.Method.Name,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("url.path", req.Path),
				attribute.String("rest.interface", fn.Method.Declarer.QualifiedName()),
			))
	}

	a.log.Debug(x.ctx, "sending request",
		logger.String("method", fn.Method.Name),
		logger.String("verb", req.Method),
		logger.String("path", req.Path))
	env, err := a.transport.Send(x.ctx, req)
	if pr, ok := req.BodyStream.(*io.PipeReader); ok {
		pr.Close()
	}
	if err != nil {
		a.log.Error(x.ctx, "transport failed", logger.String("method", fn.Method.Name), logger.Err(err))
		x.finish(err)
		return nil, err
	}
	if env == nil {
		err = fmt.Errorf("rest: transport %T returned no response", a.transport)
		x.finish(err)
		return nil, err
	}
	if env.Body == nil {
		env.Body = http.NoBody
		env.ContentLength = 0
	}
	if x.span != nil {
		x.span.SetAttributes(attribute.Int("http.response.status_code", env.Status))
	}
	x.env = env
	return x, nil
}

// apiError buffers at most MaxErrorBody bytes of a non-success response into
// an *APIError and closes the body. A failed read is kept in Err.
func (x *exchange) apiError() *APIError {
	var (
		content []byte
		readErr error
	)
	if x.env.Body != nil {
		content, readErr = io.ReadAll(io.LimitReader(x.env.Body, MaxErrorBody))
		x.env.Body.Close()
	}
	return &APIError{
		Status:  x.env.Status,
		Header:  x.env.Header,
		Content: content,
		Message: errorMessage(content),
		Method:  x.req.Method,
		Path:    x.req.Path,
		Err:     readErr,
	}
}
