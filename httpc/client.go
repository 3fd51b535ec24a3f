package httpc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/T-Prohmpossadhorn/go-rest/config"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
	"github.com/T-Prohmpossadhorn/go-rest/otel"
	"github.com/T-Prohmpossadhorn/go-rest/rest"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries a per-request id. Callers may set it themselves.
const RequestIDHeader = "X-Request-Id"

const clientTracer = "httpc-client"

var errRetryableStatus = errors.New("retryable status")

// HTTPClient sends rest requests over HTTP. It implements rest.Transport and io.Closer.
type HTTPClient struct {
	client  *http.Client
	cfg     ClientConfig
	baseURL string
}

// ClientOption customizes an HTTPClient.
type ClientOption func(*HTTPClient)

// WithRoundTripper replaces the underlying http.RoundTripper.
func WithRoundTripper(rt http.RoundTripper) ClientOption {
	return func(c *HTTPClient) {
		c.client.Transport = rt
	}
}

// NewHTTPClient creates a new HTTP client with the given configuration
func NewHTTPClient(cfg *config.Config, opts ...ClientOption) (*HTTPClient, error) {
	cc, err := loadClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	logger.Info(ctx, "Creating new HTTP client",
		logger.String("base_url", cc.BaseURL),
		logger.Int("timeout_ms", cc.HTTPClientTimeoutMs),
		logger.Int("max_retries", cc.HTTPClientMaxRetries))

	c := &HTTPClient{
		client:  &http.Client{Timeout: time.Duration(cc.HTTPClientTimeoutMs) * time.Millisecond},
		cfg:     cc,
		baseURL: strings.TrimSuffix(cc.BaseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the decoded client configuration.
func (c *HTTPClient) Config() ClientConfig { return c.cfg }

// Send performs req against the configured base URL. Idempotent requests with
// replayable bodies are retried on network errors and on 429, 502, 503 and 504.
// The returned envelope streams the response body; the caller closes it.
func (c *HTTPClient) Send(ctx context.Context, req *rest.Request) (*rest.Envelope, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	target := c.baseURL + req.URL()
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get(RequestIDHeader) == "" {
		header.Set(RequestIDHeader, uuid.NewString())
	}

	var span trace.Span
	if c.cfg.OtelEnabled {
		ctx, span = otel.StartSpan(ctx, clientTracer, "HTTP "+req.Method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("url.full", target),
				attribute.String("http.request.id", header.Get(RequestIDHeader)),
			))
		defer span.End()
	}

	retryable := idempotent(req.Method) && req.BodyStream == nil
	var last *http.Response
	attempt := 0
	op := func() error {
		if last != nil {
			discard(last)
			last = nil
		}
		attempt++
		hreq, err := http.NewRequestWithContext(ctx, req.Method, target, c.payload(req))
		if err != nil {
			return backoff.Permanent(err)
		}
		hreq.Header = header.Clone()
		if req.Body != nil {
			hreq.ContentLength = int64(len(req.Body))
		}
		if c.cfg.OtelEnabled {
			otel.Propagator().Inject(ctx, propagation.HeaderCarrier(hreq.Header))
		}

		logger.Debug(ctx, "Sending request",
			logger.String("method", req.Method),
			logger.String("url", target),
			logger.Int("attempt", attempt))
		resp, err := c.client.Do(hreq)
		if err != nil {
			if !retryable || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		last = resp
		if retryable && retryStatus(resp.StatusCode) {
			return errRetryableStatus
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn(ctx, "Retrying request",
			logger.String("url", target),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Err(err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.policy(retryable), ctx), notify)
	if err != nil && !errors.Is(err, errRetryableStatus) {
		if last != nil {
			discard(last)
		}
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		logger.Error(ctx, "Request failed", logger.String("url", target), logger.Err(err))
		return nil, err
	}

	if span != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", last.StatusCode))
	}
	logger.Debug(ctx, "Request completed",
		logger.String("url", target),
		logger.Int("status", last.StatusCode),
		logger.Int64("content_length", last.ContentLength))
	return &rest.Envelope{
		Status:        last.StatusCode,
		Header:        last.Header,
		Body:          last.Body,
		ContentLength: last.ContentLength,
	}, nil
}

// Close drops idle keep-alive connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	logger.Debug(context.Background(), "HTTP client closed")
	return nil
}

func (c *HTTPClient) payload(req *rest.Request) io.Reader {
	if req.BodyStream != nil {
		return req.BodyStream
	}
	if req.Body != nil {
		return bytes.NewReader(req.Body)
	}
	return nil
}

func (c *HTTPClient) policy(retryable bool) backoff.BackOff {
	if !retryable || c.cfg.HTTPClientMaxRetries == 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(c.cfg.HTTPClientRetryWaitMs) * time.Millisecond
	b.MaxInterval = 10 * b.InitialInterval
	b.MaxElapsedTime = 0
	if c.cfg.HTTPClientMaxRetries < 0 {
		return b
	}
	return backoff.WithMaxRetries(b, uint64(c.cfg.HTTPClientMaxRetries))
}

func idempotent(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func retryStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
