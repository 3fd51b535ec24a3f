package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/T-Prohmpossadhorn/go-rest/codec"
	"github.com/T-Prohmpossadhorn/go-rest/config"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
	"github.com/T-Prohmpossadhorn/go-rest/otel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

var shapes = Interface("Shapes").Method(
	GET("Get", "/users/{name}").
		Param(Arg[context.Context]("ctx"), Arg[string]("name")).
		Returns(ShapeValue, reflect.TypeFor[User]()),
	GET("Try", "/users/{name}").
		Param(Arg[context.Context]("ctx"), Arg[string]("name")).
		Returns(ShapeWrapped, reflect.TypeFor[User]()),
	GET("Watch", "/users/{name}").
		Param(Arg[context.Context]("ctx"), Arg[string]("name")).
		Returns(ShapeStream, reflect.TypeFor[User]()),
	GET("Raw", "/users/{name}").
		Param(Arg[context.Context]("ctx"), Arg[string]("name")).
		Returns(ShapeRaw, nil),
	DELETE("Delete", "/users/{name}").
		Param(Arg[context.Context]("ctx"), Arg[string]("name")),
	POST("Create", "").
		Param(Arg[context.Context]("ctx"), Arg[User]("user").Body()).
		Returns(ShapeValue, reflect.TypeFor[User]()),
).MustBuild()

func call(method string, args ...any) Call {
	return Call{Method: method, Args: args}
}

func TestValueSuccess(t *testing.T) {
	tr := newRecorder(http.StatusOK, User{Login: "octocat", ID: 1})
	a := NewAdapter(shapes, tr, NewResolver())

	u, err := Value[User](a, call("Get", context.Background(), "octocat"))
	require.NoError(t, err)
	assert.Equal(t, User{Login: "octocat", ID: 1}, u)

	req := tr.last()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/users/octocat", req.Path)
	assert.Empty(t, req.Query)
	assert.Nil(t, req.Body)
}

func TestValueNonSuccess(t *testing.T) {
	tr := newRecorder(http.StatusNotFound, map[string]string{"error": "no such user"})
	a := NewAdapter(shapes, tr, NewResolver())

	_, err := Value[User](a, call("Get", context.Background(), "ghost"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "no such user", apiErr.Message)
	assert.Equal(t, "application/json", apiErr.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"error":"no such user"}`, string(apiErr.Content))
	assert.Contains(t, apiErr.Error(), "GET /users/ghost")

	var payload map[string]string
	require.NoError(t, apiErr.Decode(nil, &payload))
	assert.Equal(t, "no such user", payload["error"])

	status, ok := StatusOf(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestValueDeserializationError(t *testing.T) {
	tr := &recorder{reply: func(*Request) (*Envelope, error) {
		return NewEnvelope(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, []byte(`{"login":`)), nil
	}}
	a := NewAdapter(shapes, tr, NewResolver())

	_, err := Value[User](a, call("Get", context.Background(), "x"))
	var derr *DeserializationError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, reflect.TypeFor[User](), derr.Type)
	_, isAPI := StatusOf(err)
	assert.False(t, isAPI)
}

func TestValueUnknownLengthStreams(t *testing.T) {
	tr := &recorder{reply: func(*Request) (*Envelope, error) {
		pr, pw := io.Pipe()
		go func() {
			pw.Write([]byte(`{"login":"streamed","id":9}`))
			pw.Close()
		}()
		return &Envelope{Status: http.StatusOK, Header: http.Header{}, Body: pr, ContentLength: -1}, nil
	}}
	a := NewAdapter(shapes, tr, NewResolver())

	u, err := Value[User](a, call("Get", context.Background(), "x"))
	require.NoError(t, err)
	assert.Equal(t, "streamed", u.Login)
}

func TestValueIgnoresBogusContentLength(t *testing.T) {
	tr := &recorder{reply: func(*Request) (*Envelope, error) {
		return &Envelope{
			Status:        http.StatusOK,
			Header:        http.Header{"Content-Type": {"application/json"}},
			Body:          io.NopCloser(strings.NewReader(`{"login":"big","id":3}`)),
			ContentLength: 1 << 62,
		}, nil
	}}
	a := NewAdapter(shapes, tr, NewResolver())

	u, err := Value[User](a, call("Get", context.Background(), "x"))
	require.NoError(t, err)
	assert.Equal(t, User{Login: "big", ID: 3}, u)
}

func TestErrorBodyBounded(t *testing.T) {
	tr := &recorder{reply: func(*Request) (*Envelope, error) {
		return &Envelope{
			Status:        http.StatusBadGateway,
			Header:        http.Header{},
			Body:          io.NopCloser(strings.NewReader(strings.Repeat("x", MaxErrorBody+100))),
			ContentLength: -1,
		}, nil
	}}
	a := NewAdapter(shapes, tr, NewResolver())

	_, err := Value[User](a, call("Get", context.Background(), "x"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Len(t, apiErr.Content, MaxErrorBody)
	assert.NoError(t, apiErr.Err)
}

func TestErrorBodyReadFailureKept(t *testing.T) {
	tr := &recorder{reply: func(*Request) (*Envelope, error) {
		body := io.MultiReader(strings.NewReader(`{"error":"par`), iotest.ErrReader(io.ErrUnexpectedEOF))
		return &Envelope{Status: http.StatusInternalServerError, Header: http.Header{}, Body: io.NopCloser(body), ContentLength: -1}, nil
	}}
	a := NewAdapter(shapes, tr, NewResolver())

	_, err := Value[User](a, call("Get", context.Background(), "x"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, `{"error":"par`, string(apiErr.Content))
	assert.ErrorIs(t, apiErr.Err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestTransportErrorUnchanged(t *testing.T) {
	boom := errors.New("connection refused")
	tr := &recorder{reply: func(*Request) (*Envelope, error) { return nil, boom }}
	a := NewAdapter(shapes, tr, NewResolver())

	_, err := Value[User](a, call("Get", context.Background(), "x"))
	assert.Same(t, boom, err)

	_, err = Wrapped[User](a, call("Try", context.Background(), "x"))
	assert.Same(t, boom, err)

	assert.Same(t, boom, Send(a, call("Delete", context.Background(), "x")))
}

func TestWrappedNonSuccessNeverFails(t *testing.T) {
	tr := newRecorder(http.StatusConflict, map[string]string{"message": "taken"})
	a := NewAdapter(shapes, tr, NewResolver())

	resp, err := Wrapped[User](a, call("Try", context.Background(), "octocat"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.False(t, resp.HasValue)
	assert.Equal(t, User{}, resp.Value)
	assert.False(t, resp.IsSuccess())
	require.NotNil(t, resp.Err)
	assert.Equal(t, "taken", resp.Err.Message)
}

func TestWrappedSuccess(t *testing.T) {
	tr := newRecorder(http.StatusCreated, User{Login: "new"})
	a := NewAdapter(shapes, tr, NewResolver())

	resp, err := Wrapped[User](a, call("Try", context.Background(), "new"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.True(t, resp.HasValue)
	assert.Equal(t, "new", resp.Value.Login)
	assert.Nil(t, resp.Err)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestRaw(t *testing.T) {
	tr := newRecorder(http.StatusOK, User{Login: "raw"})
	a := NewAdapter(shapes, tr, NewResolver())

	env, err := Raw(a, call("Raw", context.Background(), "raw"))
	require.NoError(t, err)
	defer env.Close()
	data, err := io.ReadAll(env.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"login":"raw","id":0}`, string(data))

	tr.reply = func(*Request) (*Envelope, error) { return jsonEnvelope(http.StatusBadGateway, map[string]string{"error": "upstream"}), nil }
	env, err = Raw(a, call("Raw", context.Background(), "raw"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.NotNil(t, env)
	assert.Equal(t, http.StatusBadGateway, env.Status)
	data, err = io.ReadAll(env.Body)
	require.NoError(t, err)
	assert.Equal(t, apiErr.Content, data)
}

func TestSendFireAndForget(t *testing.T) {
	tr := newRecorder(http.StatusNoContent, nil)
	a := NewAdapter(shapes, tr, NewResolver())
	require.NoError(t, Send(a, call("Delete", context.Background(), "x")))
	assert.Equal(t, http.MethodDelete, tr.last().Method)

	tr.reply = func(*Request) (*Envelope, error) { return jsonEnvelope(http.StatusForbidden, nil), nil }
	err := Send(a, call("Delete", context.Background(), "x"))
	status, ok := StatusOf(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestBodyRequest(t *testing.T) {
	tr := newRecorder(http.StatusOK, User{Login: "created", ID: 5})
	a := NewAdapter(shapes, tr, NewResolver())

	in := User{Login: "created"}
	out, err := Value[User](a, call("Create", context.Background(), in))
	require.NoError(t, err)
	assert.Equal(t, 5, out.ID)

	req := tr.last()
	want, _ := codec.JSON{}.Serialize(in)
	assert.Equal(t, want, req.Body)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Empty(t, req.Query)
}

func TestSerializerOption(t *testing.T) {
	tr := &recorder{reply: func(*Request) (*Envelope, error) {
		return NewEnvelope(http.StatusOK, nil, []byte("login: yaml\nid: 3\n")), nil
	}}
	a := NewAdapter(shapes, tr, NewResolver(), WithSerializer(codec.YAML{}))

	u, err := Value[User](a, call("Create", context.Background(), User{Login: "y"}))
	require.NoError(t, err)
	assert.Equal(t, User{Login: "yaml", ID: 3}, u)
	assert.Equal(t, "application/yaml", tr.last().ContentType)
	assert.Equal(t, codec.YAML{}, a.Serializer())
}

func TestShapeMismatch(t *testing.T) {
	a := NewAdapter(shapes, newRecorder(http.StatusOK, nil), NewResolver())

	_, err := Wrapped[User](a, call("Get", context.Background(), "x"))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	assert.ErrorIs(t, Send(a, call("Get", context.Background(), "x")), ErrShapeMismatch)

	_, err = Value[string](a, call("Get", context.Background(), "x"))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestCancellationReachesTransport(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	tr := newRecorder(http.StatusOK, User{})
	a := NewAdapter(shapes, tr, NewResolver())

	_, err := Value[User](a, call("Get", ctx, "x"))
	require.NoError(t, err)
	assert.Equal(t, "v", tr.contexts[0].Value(key{}))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	tr.reply = func(*Request) (*Envelope, error) { return nil, cancelled.Err() }
	_, err = Value[User](a, call("Get", cancelled, "x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamEmitsOnceThenCompletes(t *testing.T) {
	tr := newRecorder(http.StatusOK, User{Login: "stream"})
	a := NewAdapter(shapes, tr, NewResolver())

	obs := Stream[User](a, call("Watch", context.Background(), "stream"))
	assert.Empty(t, tr.requests, "cold until subscribed")

	var next, completed, failed atomic.Int32
	var got User
	sub := obs.Subscribe(context.Background(), Observer[User]{
		OnNext:      func(u User) { got = u; next.Add(1) },
		OnError:     func(error) { failed.Add(1) },
		OnCompleted: func() { completed.Add(1) },
	})
	<-sub.Done()
	assert.Equal(t, int32(1), next.Load())
	assert.Equal(t, int32(1), completed.Load())
	assert.Zero(t, failed.Load())
	assert.Equal(t, "stream", got.Login)

	// each subscription calls again
	u, err := obs.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stream", u.Login)
	assert.Len(t, tr.requests, 2)
}

func TestStreamError(t *testing.T) {
	tr := newRecorder(http.StatusInternalServerError, map[string]string{"error": "down"})
	a := NewAdapter(shapes, tr, NewResolver())

	var got error
	var next atomic.Int32
	sub := Stream[User](a, call("Watch", context.Background(), "x")).Subscribe(context.Background(), Observer[User]{
		OnNext:  func(User) { next.Add(1) },
		OnError: func(err error) { got = err },
	})
	<-sub.Done()
	var apiErr *APIError
	require.ErrorAs(t, got, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Zero(t, next.Load())
}

func TestStreamUnsubscribeCancelsCall(t *testing.T) {
	started := make(chan struct{})
	sawCancel := make(chan struct{})
	tr := TransportFunc(func(ctx context.Context, _ *Request) (*Envelope, error) {
		close(started)
		<-ctx.Done()
		close(sawCancel)
		return nil, ctx.Err()
	})
	a := NewAdapter(shapes, tr, NewResolver())

	var calls atomic.Int32
	sub := Stream[User](a, call("Watch", context.Background(), "slow")).Subscribe(context.Background(), Observer[User]{
		OnNext:      func(User) { calls.Add(1) },
		OnError:     func(error) { calls.Add(1) },
		OnCompleted: func() { calls.Add(1) },
	})
	<-started
	sub.Unsubscribe()

	select {
	case <-sawCancel:
	case <-time.After(2 * time.Second):
		t.Fatal("transport never saw cancellation")
	}
	<-sub.Done()
	assert.Zero(t, calls.Load())
}

func TestJust(t *testing.T) {
	v, err := Just(3).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestCloseDisposable(t *testing.T) {
	disposable := Interface("Disposable").Disposable().MustBuild()
	tr := newRecorder(http.StatusOK, nil)
	a := NewAdapter(disposable, tr, nil)
	assert.Same(t, DefaultResolver, a.Resolver())
	assert.Same(t, disposable, a.Descriptor())
	assert.Equal(t, Transport(tr), a.Transport())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, tr.closed)

	plain := newRecorder(http.StatusOK, nil)
	require.NoError(t, NewAdapter(shapes, plain, nil).Close())
	assert.Zero(t, plain.closed)
}

func TestNewAdapterPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewAdapter(nil, newRecorder(200, nil), nil) })
	assert.Panics(t, func() { NewAdapter(shapes, nil, nil) })
}

func TestRootHeadersApplied(t *testing.T) {
	base := Interface("Base").Header("X-Base", "b").Method(GET("Ping", "/ping")).MustBuild()
	root := Interface("Root").Header("X-Root", "r").Header("X-Base", "override").Extends(base).MustBuild()
	tr := newRecorder(http.StatusOK, nil)
	a := NewAdapter(root, tr, NewResolver())

	require.NoError(t, Send(a, call("Ping")))
	assert.Equal(t, "r", tr.last().Header.Get("X-Root"))
	assert.Equal(t, "b", tr.last().Header.Get("X-Base"))
}

func TestAdapterLogsFailures(t *testing.T) {
	mock := logger.NewMockLogger()
	tr := &recorder{reply: func(*Request) (*Envelope, error) { return nil, errors.New("dial tcp") }}
	a := NewAdapter(shapes, tr, NewResolver(), WithLogger(mock))

	_, err := Value[User](a, call("Get", context.Background(), "x"))
	require.Error(t, err)
	entries := mock.Entries(logger.ErrorLevel)
	require.Len(t, entries, 1)
	assert.Equal(t, "transport failed", entries[0].Msg)
	f, ok := entries[0].Field("interface")
	require.True(t, ok)
	assert.Equal(t, "autogenerated.Shapes", f.Value())
}

func TestTracingRecordsSpans(t *testing.T) {
	os.Setenv("OTEL_TEST_MOCK_EXPORTER", "true")
	defer os.Unsetenv("OTEL_TEST_MOCK_EXPORTER")
	cfg, err := config.New(config.WithDefault(map[string]interface{}{"otel_enabled": true}))
	require.NoError(t, err)
	require.NoError(t, otel.Init(cfg))
	defer otel.Shutdown(context.Background())

	tr := newRecorder(http.StatusOK, User{Login: "t"})
	a := NewAdapter(shapes, tr, NewResolver(), WithTracing())
	_, err = Value[User](a, call("Get", context.Background(), "t"))
	require.NoError(t, err)

	spans := otel.RecordedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Shapes.Get", spans[0].Name)
	assert.Equal(t, spans[0].SpanContext.SpanID(), trace.SpanContextFromContext(tr.contexts[0]).SpanID())
}
