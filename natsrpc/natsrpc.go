// Package natsrpc carries rest requests over NATS request/reply.
package natsrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/T-Prohmpossadhorn/go-rest/config"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
	"github.com/T-Prohmpossadhorn/go-rest/otel"
	"github.com/T-Prohmpossadhorn/go-rest/rest"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config defines NATS settings.
type Config struct {
	OtelEnabled bool   `mapstructure:"otel_enabled"`
	URL         string `mapstructure:"nats_url" validate:"required"`
	Subject     string `mapstructure:"nats_subject" validate:"required"`
	QueueGroup  string `mapstructure:"nats_queue_group"`
	Name        string `mapstructure:"nats_name"`
	TimeoutMs   int    `mapstructure:"nats_timeout_ms" validate:"gt=0"`
}

// Message headers carrying the request line and reply status.
const (
	headerMethod = "Rest-Method"
	headerPath   = "Rest-Path"
	headerQuery  = "Rest-Query"
	headerStatus = "Rest-Status"
)

// Transport sends each request as a NATS request and waits for the reply.
type Transport struct {
	cfg        Config
	nc         *nats.Conn
	tracerName string
}

// New connects to the configured server.
func New(c *config.Config) (*Transport, error) {
	if c == nil {
		return nil, errors.New("config cannot be nil")
	}
	cfg := Config{
		URL:       nats.DefaultURL,
		Subject:   "rest.requests",
		Name:      "go-rest",
		TimeoutMs: 5000,
	}
	if err := c.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	ctx := context.Background()
	logger.Info(ctx, "Connecting to NATS", logger.String("url", cfg.URL), logger.String("name", cfg.Name))
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(time.Duration(cfg.TimeoutMs)*time.Millisecond),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(ctx, "NATS disconnected", logger.Err(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "NATS reconnected", logger.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info(ctx, "NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Transport{cfg: cfg, nc: nc, tracerName: "natsrpc"}, nil
}

// Conn returns the underlying connection.
func (t *Transport) Conn() *nats.Conn { return t.nc }

// Send publishes req on the configured subject and returns the reply.
// Without a deadline on ctx the configured timeout applies.
func (t *Transport) Send(ctx context.Context, req *rest.Request) (*rest.Envelope, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.cfg.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	var span oteltrace.Span
	if t.cfg.OtelEnabled {
		ctx, span = otel.StartSpan(ctx, t.tracerName, "Request "+t.cfg.Subject,
			oteltrace.WithSpanKind(oteltrace.SpanKindClient))
		defer span.End()
	}

	msg, err := encodeRequest(t.cfg.Subject, req)
	if err != nil {
		return nil, err
	}
	if t.cfg.OtelEnabled {
		otel.Propagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	}

	logger.Debug(ctx, "Sending request", logger.String("subject", t.cfg.Subject), logger.String("path", req.Path))
	reply, err := t.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		logger.Error(ctx, "Request failed", logger.String("subject", t.cfg.Subject), logger.Err(err))
		return nil, err
	}
	return decodeReply(reply), nil
}

// Serve answers requests on the configured subject through handler until ctx ends.
// Subscribers sharing nats_queue_group split the load.
func (t *Transport) Serve(ctx context.Context, handler rest.Transport) error {
	cb := func(msg *nats.Msg) {
		reqCtx := ctx
		if t.cfg.OtelEnabled {
			reqCtx = otel.Propagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
		}
		reply := t.answer(reqCtx, handler, msg)
		if err := msg.RespondMsg(reply); err != nil {
			logger.Error(reqCtx, "Failed to send reply", logger.Err(err))
		}
	}

	var sub *nats.Subscription
	var err error
	if t.cfg.QueueGroup != "" {
		sub, err = t.nc.QueueSubscribe(t.cfg.Subject, t.cfg.QueueGroup, cb)
	} else {
		sub, err = t.nc.Subscribe(t.cfg.Subject, cb)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", t.cfg.Subject, err)
	}
	if err := t.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return err
	}
	logger.Info(ctx, "Subscribed", logger.String("subject", t.cfg.Subject), logger.String("queue", t.cfg.QueueGroup))

	<-ctx.Done()
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		logger.Warn(context.Background(), "Drain failed", logger.Err(err))
	}
	return ctx.Err()
}

func (t *Transport) answer(ctx context.Context, handler rest.Transport, msg *nats.Msg) *nats.Msg {
	req := decodeRequest(msg)
	env, err := handler.Send(ctx, req)
	if err == nil {
		var reply *nats.Msg
		reply, err = encodeReply(env)
		env.Close()
		if err == nil {
			return reply
		}
	}
	logger.Error(ctx, "Handler failed", logger.String("path", req.Path), logger.Err(err))
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	reply := nats.NewMsg("")
	reply.Header.Set(headerStatus, strconv.Itoa(http.StatusBadGateway))
	reply.Header.Set("Content-Type", "application/json")
	reply.Data = body
	return reply
}

// Close drains and closes the connection.
func (t *Transport) Close() error {
	if err := t.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		t.nc.Close()
		return err
	}
	return nil
}

func encodeRequest(subject string, req *rest.Request) (*nats.Msg, error) {
	body, err := req.ReadBody()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	msg := nats.NewMsg(subject)
	for k, vs := range req.Header {
		for _, v := range vs {
			msg.Header.Add(k, v)
		}
	}
	msg.Header.Set(headerMethod, req.Method)
	msg.Header.Set(headerPath, req.Path)
	if len(req.Query) > 0 {
		msg.Header.Set(headerQuery, req.Query.Encode())
	}
	if req.ContentType != "" {
		msg.Header.Set("Content-Type", req.ContentType)
	}
	msg.Data = body
	return msg, nil
}

func decodeRequest(msg *nats.Msg) *rest.Request {
	req := &rest.Request{Header: http.Header{}, Body: msg.Data}
	for k, vs := range msg.Header {
		switch k {
		case headerMethod:
			req.Method = firstOf(vs)
		case headerPath:
			req.Path = firstOf(vs)
		case headerQuery:
			if q, err := rest.ParseQuery(firstOf(vs)); err == nil {
				req.Query = q
			}
		default:
			req.Header[k] = append(req.Header[k], vs...)
		}
	}
	if req.Method == "" {
		req.Method = http.MethodPost
	}
	req.ContentType = req.Header.Get("Content-Type")
	return req
}

func encodeReply(env *rest.Envelope) (*nats.Msg, error) {
	var body []byte
	if env.Body != nil {
		data, err := io.ReadAll(env.Body)
		if err != nil {
			return nil, err
		}
		body = data
	}
	reply := nats.NewMsg("")
	for k, vs := range env.Header {
		for _, v := range vs {
			reply.Header.Add(k, v)
		}
	}
	reply.Header.Set(headerStatus, strconv.Itoa(env.Status))
	reply.Data = body
	return reply, nil
}

func decodeReply(msg *nats.Msg) *rest.Envelope {
	status := http.StatusOK
	header := http.Header{}
	for k, vs := range msg.Header {
		if k == headerStatus {
			if n, err := strconv.Atoi(strings.TrimSpace(firstOf(vs))); err == nil {
				status = n
			}
			continue
		}
		header[k] = append(header[k], vs...)
	}
	return rest.NewEnvelope(status, header, msg.Data)
}

func firstOf(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}
