package httpc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/T-Prohmpossadhorn/go-rest/config"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
	"github.com/T-Prohmpossadhorn/go-rest/otel"
	"github.com/T-Prohmpossadhorn/go-rest/rest"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const serverTracer = "httpc-server"

// hop-by-hop headers are not forwarded
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Server is an HTTP gateway in front of a rest.Transport. Every request outside
// the health and docs endpoints is converted to a *rest.Request and sent to the
// backend, which lets broker transports be reached over plain HTTP.
type Server struct {
	engine  *gin.Engine
	cfg     ServerConfig
	backend rest.Transport
	swagger map[string]interface{}
}

// NewServer creates a gateway for backend. descs populate the swagger document.
func NewServer(cfg *config.Config, backend rest.Transport, descs ...*rest.InterfaceDescriptor) (*Server, error) {
	sc, err := loadServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("backend transport cannot be nil")
	}
	ctx := context.Background()
	logger.Info(ctx, "Creating new server", logger.Int("port", sc.Port), logger.String("prefix", sc.PathPrefix))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		engine:  engine,
		cfg:     sc,
		backend: backend,
		swagger: rest.Swagger(sc.Title, descs...),
	}
	engine.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	engine.GET("/api/docs/swagger.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.swagger)
	})
	engine.NoRoute(s.forward)
	logger.Info(ctx, "Registering health and Swagger endpoints")
	return s, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Swagger returns the document served at /api/docs/swagger.json.
func (s *Server) Swagger() map[string]interface{} { return s.swagger }

// ListenAndServe starts the HTTP server on the configured port
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	logger.Info(context.Background(), "Starting server", logger.String("address", addr))
	return s.engine.Run(addr)
}

func (s *Server) forward(c *gin.Context) {
	ctx := c.Request.Context()
	path := c.Request.URL.Path
	if s.cfg.PathPrefix != "" {
		trimmed, ok := strings.CutPrefix(path, strings.TrimSuffix(s.cfg.PathPrefix, "/"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		path = trimmed
		if path == "" {
			path = "/"
		}
	}

	var span trace.Span
	if s.cfg.OtelEnabled {
		ctx = otel.Propagator().Extract(ctx, propagation.HeaderCarrier(c.Request.Header))
		ctx, span = otel.StartSpan(ctx, serverTracer, "Forward "+c.Request.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("url.path", path),
			))
		defer span.End()
	}

	query, err := rest.ParseQuery(c.Request.URL.RawQuery)
	if err != nil {
		logger.Warn(ctx, "Invalid query string", logger.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query string"})
		return
	}
	header := c.Request.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	req := &rest.Request{
		Method:      c.Request.Method,
		Path:        path,
		Query:       query,
		Header:      header,
		ContentType: header.Get("Content-Type"),
	}
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		req.BodyStream = c.Request.Body
	}

	env, err := s.backend.Send(ctx, req)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		logger.Error(ctx, "Backend failed", logger.String("path", path), logger.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer env.Close()

	for k, vs := range env.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	if span != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", env.Status))
	}
	c.Status(env.Status)
	if env.Body != nil {
		if _, err := io.Copy(c.Writer, env.Body); err != nil {
			logger.Warn(ctx, "Response copy interrupted", logger.Err(err))
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "Handled request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("elapsed", time.Since(start)))
	}
}
