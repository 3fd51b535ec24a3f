package httpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/T-Prohmpossadhorn/go-rest/config"
	"github.com/T-Prohmpossadhorn/go-rest/rest"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend records what the gateway forwards
type backend struct {
	mu    sync.Mutex
	seen  []*rest.Request
	reply func(*rest.Request) (*rest.Envelope, error)
}

func (b *backend) Send(_ context.Context, req *rest.Request) (*rest.Envelope, error) {
	if _, err := req.ReadBody(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.seen = append(b.seen, req)
	b.mu.Unlock()
	return b.reply(req)
}

func (b *backend) last() *rest.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seen[len(b.seen)-1]
}

func newGateway(t *testing.T, b rest.Transport, settings map[string]interface{}) *httptest.Server {
	t.Helper()
	cfg, err := config.New(config.WithDefault(settings))
	require.NoError(t, err)
	s, err := NewServer(cfg, b, users)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestServer(t *testing.T) {
	b := &backend{reply: func(req *rest.Request) (*rest.Envelope, error) {
		data, _ := json.Marshal(User{Name: strings.TrimPrefix(req.Path, "/users/"), City: req.Query.Get("city")})
		return rest.NewEnvelope(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, data), nil
	}}

	t.Run("Health", func(t *testing.T) {
		ts := newGateway(t, b, nil)
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Swagger Doc", func(t *testing.T) {
		ts := newGateway(t, b, map[string]interface{}{"service_name": "Users API"})
		resp, err := http.Get(ts.URL + "/api/docs/swagger.json")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var doc map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
		assert.Equal(t, "3.0.3", doc["openapi"])
		assert.Equal(t, "Users API", doc["info"].(map[string]interface{})["title"])
		paths := doc["paths"].(map[string]interface{})
		assert.Contains(t, paths, "/users/{name}")
		assert.Contains(t, paths, "/users")
	})

	t.Run("Forward Through Adapter", func(t *testing.T) {
		ts := newGateway(t, b, map[string]interface{}{"path_prefix": "/v1"})
		client := newClient(t, ts.URL+"/v1", nil)
		a := rest.NewAdapter(users, client, rest.NewResolver())

		u, err := rest.Value[User](a, rest.Call{Method: "Get", Args: []any{context.Background(), "gopher", "Turin"}})
		require.NoError(t, err)
		assert.Equal(t, User{Name: "gopher", City: "Turin"}, u)

		req := b.last()
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/users/gopher", req.Path)
		assert.Equal(t, "Turin", req.Query.Get("city"))
		assert.NotEmpty(t, req.Header.Get(RequestIDHeader))
		assert.Empty(t, req.Header.Get("Connection"))
	})

	t.Run("Body Forwarded", func(t *testing.T) {
		ts := newGateway(t, b, nil)
		resp, err := http.Post(ts.URL+"/users", "application/json", strings.NewReader(`{"name":"posted"}`))
		require.NoError(t, err)
		resp.Body.Close()

		req := b.last()
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "application/json", req.ContentType)
		assert.JSONEq(t, `{"name":"posted"}`, string(req.Body))
	})

	t.Run("Prefix Mismatch", func(t *testing.T) {
		ts := newGateway(t, b, map[string]interface{}{"path_prefix": "/v1"})
		resp, err := http.Get(ts.URL + "/v2/users/x")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Backend Status Preserved", func(t *testing.T) {
		failing := &backend{reply: func(*rest.Request) (*rest.Envelope, error) {
			return rest.NewEnvelope(http.StatusNotFound, http.Header{"Content-Type": {"application/json"}}, []byte(`{"error":"no such user"}`)), nil
		}}
		ts := newGateway(t, failing, nil)
		a := rest.NewAdapter(users, newClient(t, ts.URL, nil), rest.NewResolver())

		_, err := rest.Value[User](a, rest.Call{Method: "Get", Args: []any{context.Background(), "ghost", ""}})
		var apiErr *rest.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
		assert.Equal(t, "no such user", apiErr.Message)
	})

	t.Run("Backend Error Is Bad Gateway", func(t *testing.T) {
		broken := rest.TransportFunc(func(context.Context, *rest.Request) (*rest.Envelope, error) {
			return nil, errors.New("broker unreachable")
		})
		ts := newGateway(t, broken, nil)
		resp, err := http.Get(ts.URL + "/users/x")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"error":"broker unreachable"}`, string(body))
	})
}

func TestNewServerErrors(t *testing.T) {
	_, err := NewServer(nil, &backend{})
	assert.ErrorIs(t, err, errNilConfig)

	cfg, err := config.New()
	require.NoError(t, err)
	_, err = NewServer(cfg, nil)
	assert.Error(t, err)

	cfg, err = config.New(config.WithDefault(map[string]interface{}{"port": 70000}))
	require.NoError(t, err)
	_, err = NewServer(cfg, &backend{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}
