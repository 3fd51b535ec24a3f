package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/T-Prohmpossadhorn/go-rest/config"
	"github.com/T-Prohmpossadhorn/go-rest/otel"
	"github.com/T-Prohmpossadhorn/go-rest/rest"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Invoice struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
}

var invoices = rest.Interface("Invoices").Disposable().Method(
	rest.GET("Get", "/invoices/{id}").
		Param(rest.Arg[context.Context]("ctx"), rest.Arg[string]("id"), rest.Arg[[]string]("expand")).
		Returns(rest.ShapeValue, reflect.TypeFor[Invoice]()),
	rest.PUT("Put", "/invoices/{id}").
		Param(rest.Arg[context.Context]("ctx"), rest.Arg[string]("id"), rest.Arg[Invoice]("invoice").Body()).
		Returns(rest.ShapeWrapped, reflect.TypeFor[Invoice]()),
).MustBuild()

// dialBroker points dialFunc at b and returns every channel handed out.
func dialBroker(t *testing.T, b *broker) *[]*mockConn {
	t.Helper()
	var conns []*mockConn
	orig := dialFunc
	dialFunc = func(string) (amqpConn, error) {
		c := &mockConn{ch: &mockChannel{b: b}}
		conns = append(conns, c)
		return c, nil
	}
	t.Cleanup(func() { dialFunc = orig })
	return &conns
}

func newTransport(t *testing.T, settings map[string]interface{}) *Transport {
	t.Helper()
	cfg, err := config.New(config.WithDefault(settings))
	require.NoError(t, err)
	tr, err := New(cfg)
	require.NoError(t, err)
	return tr
}

// serve runs a server transport whose handler answers from a map of invoices.
func serve(t *testing.T) (*Transport, *[]*rest.Request) {
	t.Helper()
	var seen []*rest.Request
	store := map[string]Invoice{"inv-1": {ID: "inv-1", Amount: 12.5}}
	handler := rest.TransportFunc(func(_ context.Context, req *rest.Request) (*rest.Envelope, error) {
		seen = append(seen, req)
		id := strings.TrimPrefix(req.Path, "/invoices/")
		switch req.Method {
		case http.MethodGet:
			inv, ok := store[id]
			if !ok {
				return rest.NewEnvelope(http.StatusNotFound, http.Header{"Content-Type": {"application/json"}}, []byte(`{"error":"unknown invoice"}`)), nil
			}
			body, _ := json.Marshal(inv)
			return rest.NewEnvelope(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, body), nil
		case http.MethodPut:
			var inv Invoice
			if err := json.Unmarshal(req.Body, &inv); err != nil {
				return nil, err
			}
			store[id] = inv
			return rest.NewEnvelope(http.StatusCreated, http.Header{"Content-Type": {"application/json"}, "X-Version": {"1", "2"}}, req.Body), nil
		}
		return nil, fmt.Errorf("unsupported method %s", req.Method)
	})

	server := newTransport(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, handler) }()
	t.Cleanup(func() {
		cancel()
		<-done
		server.Close()
	})
	return server, &seen
}

func TestRPCRoundTrip(t *testing.T) {
	b := newBroker()
	dialBroker(t, b)
	_, seen := serve(t)

	client := newTransport(t, nil)
	a := rest.NewAdapter(invoices, client, rest.NewResolver())
	defer a.Close()

	inv, err := rest.Value[Invoice](a, rest.Call{Method: "Get", Args: []any{context.Background(), "inv-1", []string{"lines", "tax"}}})
	require.NoError(t, err)
	assert.Equal(t, Invoice{ID: "inv-1", Amount: 12.5}, inv)

	req := (*seen)[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/invoices/inv-1", req.Path)
	assert.Equal(t, []string{"lines", "tax"}, req.Query.Values("expand"))

	resp, err := rest.Wrapped[Invoice](a, rest.Call{Method: "Put", Args: []any{context.Background(), "inv-2", Invoice{ID: "inv-2", Amount: 3}}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, []string{"1", "2"}, resp.Header.Values("X-Version"))
	assert.Equal(t, 3.0, resp.Value.Amount)

	_, err = rest.Value[Invoice](a, rest.Call{Method: "Get", Args: []any{context.Background(), "missing", []string(nil)}})
	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "unknown invoice", apiErr.Message)

	published := b.lastPublished()
	assert.NotEmpty(t, published.CorrelationId)
}

func TestHandlerErrorBecomesBadGateway(t *testing.T) {
	b := newBroker()
	dialBroker(t, b)
	serve(t)
	client := newTransport(t, nil)
	defer client.Close()

	env, err := client.Send(context.Background(), &rest.Request{Method: http.MethodPatch, Path: "/invoices/x"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, env.Status)
	assert.Equal(t, "application/json", env.Header.Get("Content-Type"))
}

func TestSendHonorsContext(t *testing.T) {
	b := newBroker()
	conns := dialBroker(t, b)
	client := newTransport(t, nil)
	defer client.Close()
	(*conns)[0].ch.drop = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Send(ctx, &rest.Request{Method: http.MethodGet, Path: "/slow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	client.mu.Lock()
	assert.Empty(t, client.pending)
	client.mu.Unlock()

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	_, err = client.Send(cancelled, &rest.Request{Method: http.MethodGet, Path: "/slow"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseFailsWaitingCalls(t *testing.T) {
	b := newBroker()
	conns := dialBroker(t, b)
	client := newTransport(t, nil)
	(*conns)[0].ch.drop = true

	errs := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), &rest.Request{Method: http.MethodGet, Path: "/wait"})
		errs <- err
	}()
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.pending) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())
	assert.ErrorIs(t, <-errs, ErrClosed)
	assert.True(t, (*conns)[0].ch.closed)
	assert.True(t, (*conns)[0].closed)
	require.NoError(t, client.Close())

	_, err := client.Send(context.Background(), &rest.Request{Method: http.MethodGet, Path: "/wait"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBrokerErrors(t *testing.T) {
	b := newBroker()
	conns := dialBroker(t, b)

	client := newTransport(t, nil)
	(*conns)[0].ch.declareErr = errors.New("decl")
	_, err := client.Send(context.Background(), &rest.Request{Method: http.MethodGet, Path: "/"})
	assert.ErrorContains(t, err, "declare reply queue")
	assert.ErrorContains(t, client.Serve(context.Background(), nil), "declare request queue")

	client = newTransport(t, nil)
	(*conns)[1].ch.consumeErr = errors.New("consume")
	_, err = client.Send(context.Background(), &rest.Request{Method: http.MethodGet, Path: "/"})
	assert.ErrorContains(t, err, "consume reply queue")

	client = newTransport(t, nil)
	boom := errors.New("publish")
	(*conns)[2].ch.publishErr = boom
	_, err = client.Send(context.Background(), &rest.Request{Method: http.MethodGet, Path: "/"})
	assert.Same(t, boom, err)
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	orig := dialFunc
	defer func() { dialFunc = orig }()
	cfg, err := config.New()
	require.NoError(t, err)

	dialFunc = func(string) (amqpConn, error) { return nil, fmt.Errorf("dial") }
	_, err = New(cfg)
	assert.ErrorContains(t, err, "dial rabbitmq")

	dialFunc = func(string) (amqpConn, error) { return &errConn{}, nil }
	_, err = New(cfg)
	assert.ErrorContains(t, err, "open channel")

	cfg, err = config.New(config.WithDefault(map[string]interface{}{"rabbitmq_queue": ""}))
	require.NoError(t, err)
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestTracePropagatesToServer(t *testing.T) {
	os.Setenv("OTEL_TEST_MOCK_EXPORTER", "true")
	defer os.Unsetenv("OTEL_TEST_MOCK_EXPORTER")
	b := newBroker()
	dialBroker(t, b)

	cfg, err := config.New(config.WithDefault(map[string]interface{}{"otel_enabled": true}))
	require.NoError(t, err)
	require.NoError(t, otel.Init(cfg))
	defer otel.Shutdown(context.Background())

	serve(t)
	client, err := New(cfg)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Send(context.Background(), &rest.Request{Method: http.MethodGet, Path: "/invoices/inv-1"})
	require.NoError(t, err)

	request := b.published[0]
	assert.NotEmpty(t, tableCarrier(request.Headers).Get("traceparent"))
	spans := otel.RecordedSpans()
	require.NotEmpty(t, spans)
	assert.Equal(t, "RPC GET /invoices/inv-1", spans[0].Name)
}

func TestMessageEncoding(t *testing.T) {
	msg, err := encodeRequest(&rest.Request{
		Method:      http.MethodPost,
		Path:        "/a",
		Query:       rest.Query{{Key: "q", Value: "1"}},
		Header:      http.Header{"X-One": {"1"}, "X-Many": {"a", "b"}},
		BodyStream:  strings.NewReader("streamed"),
		ContentType: "text/plain",
	})
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(msg.Body))

	req := decodeRequest(deliveryOf(msg))
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/a", req.Path)
	assert.Equal(t, "1", req.Query.Get("q"))
	assert.Equal(t, "1", req.Header.Get("X-One"))
	assert.Equal(t, []string{"a", "b"}, req.Header.Values("X-Many"))
	assert.Equal(t, "text/plain", req.ContentType)
	assert.Empty(t, req.Header.Get(":method"))

	reply := decodeReply(deliveryOf(errorReply(errors.New("down"))))
	assert.Equal(t, http.StatusBadGateway, reply.Status)
}
