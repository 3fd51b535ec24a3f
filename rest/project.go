package rest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"reflect"

	"github.com/T-Prohmpossadhorn/go-rest/codec"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
)

// Response is the result of a wrapped-value method. Non-success statuses are
// reported in Err rather than returned as errors.
type Response[T any] struct {
	Status int
	Header http.Header
	// Value is set only when HasValue is true.
	Value    T
	HasValue bool
	Err      *APIError
}

// IsSuccess reports a 2xx status.
func (r *Response[T]) IsSuccess() bool {
	return r.Status >= 200 && r.Status < 300
}

// Value calls a value-shaped method. A non-success status returns *APIError.
func Value[T any](a *Adapter, call Call) (T, error) {
	var zero T
	x, err := a.roundTrip(call, ShapeValue, reflect.TypeFor[T](), nil)
	if err != nil {
		return zero, err
	}
	v, err := decode[T](a, x)
	x.finish(err)
	return v, err
}

// Wrapped calls a wrapped-value method. Only transport, encoding and
// deserialization failures are returned as errors.
func Wrapped[T any](a *Adapter, call Call) (*Response[T], error) {
	x, err := a.roundTrip(call, ShapeWrapped, reflect.TypeFor[T](), nil)
	if err != nil {
		return nil, err
	}
	resp := &Response[T]{Status: x.env.Status, Header: x.env.Header}
	if !x.env.IsSuccess() {
		resp.Err = x.apiError()
		a.log.Debug(x.ctx, "non-success response wrapped", logger.Int("status", resp.Status))
		x.finish(nil)
		return resp, nil
	}
	v, err := decode[T](a, x)
	x.finish(err)
	if err != nil {
		return resp, err
	}
	resp.Value, resp.HasValue = v, true
	return resp, nil
}

// Raw calls a raw-response method and returns the envelope undecoded; the
// caller closes it. A non-success status also returns *APIError, with the
// envelope body rewound over the buffered content.
func Raw(a *Adapter, call Call) (*Envelope, error) {
	x, err := a.roundTrip(call, ShapeRaw, nil, nil)
	if err != nil {
		return nil, err
	}
	if !x.env.IsSuccess() {
		apiErr := x.apiError()
		x.env.Body = io.NopCloser(bytes.NewReader(apiErr.Content))
		x.env.ContentLength = int64(len(apiErr.Content))
		x.finish(apiErr)
		return x.env, apiErr
	}
	x.finish(nil)
	return x.env, nil
}

// Send calls a fire-and-forget method. The body is discarded.
func Send(a *Adapter, call Call) error {
	x, err := a.roundTrip(call, ShapeNone, nil, nil)
	if err != nil {
		return err
	}
	if !x.env.IsSuccess() {
		apiErr := x.apiError()
		x.finish(apiErr)
		return apiErr
	}
	_, err = io.Copy(io.Discard, x.env.Body)
	x.env.Close()
	if err != nil && x.ctx.Err() != nil {
		err = x.ctx.Err()
	}
	x.finish(err)
	return err
}

// Stream calls a stream-shaped method lazily: nothing is sent until the
// observable is subscribed, and each subscription sends again.
func Stream[T any](a *Adapter, call Call) *Observable[T] {
	return newObservable(func(sub context.Context) (T, error) {
		var zero T
		x, err := a.roundTrip(call, ShapeStream, reflect.TypeFor[T](), sub)
		if err != nil {
			return zero, err
		}
		v, err := decode[T](a, x)
		x.finish(err)
		return v, err
	})
}

// decode classifies the status and deserializes a success body into T.
func decode[T any](a *Adapter, x *exchange) (T, error) {
	var zero T
	if !x.env.IsSuccess() {
		apiErr := x.apiError()
		a.log.Warn(x.ctx, "request failed with status",
			logger.Int("status", apiErr.Status),
			logger.String("path", x.req.Path),
			logger.String("error", apiErr.Message))
		if apiErr.Err != nil {
			a.log.Warn(x.ctx, "error body read failed", logger.Err(apiErr.Err))
		}
		return zero, apiErr
	}
	defer x.env.Close()

	v, err := codec.Deserialize[T](a.serializer, x.env.Body, x.env.ContentLength)
	if err != nil {
		if ctxErr := x.ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		derr := &DeserializationError{
			Type:        reflect.TypeFor[T](),
			ContentType: x.env.Header.Get("Content-Type"),
			Err:         err,
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			a.log.Warn(x.ctx, "response shorter than announced", logger.Int64("content_length", x.env.ContentLength))
		}
		a.log.Error(x.ctx, "response deserialization failed", logger.Err(derr))
		return zero, derr
	}
	return v, nil
}
