package kafka

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/T-Prohmpossadhorn/go-rest/config"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
	"github.com/T-Prohmpossadhorn/go-rest/otel"
	"github.com/T-Prohmpossadhorn/go-rest/rest"
	kafka_go "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config defines Kafka settings.
type Config struct {
	OtelEnabled bool   `mapstructure:"otel_enabled"`
	Brokers     string `mapstructure:"kafka_brokers" validate:"required"`
	Topic       string `mapstructure:"kafka_topic" validate:"required"`
	GroupID     string `mapstructure:"kafka_group_id"`
}

// Message headers carrying the request line. Request headers travel under
// their canonical names next to them.
const (
	headerMethod = ":method"
	headerPath   = ":path"
	headerQuery  = ":query"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka_go.Message) error
	Close() error
}

type reader interface {
	ReadMessage(ctx context.Context) (kafka_go.Message, error)
	Close() error
}

var writerFactoryFunc = func(brokers []string, topic string, _ Config) writer {
	return &kafka_go.Writer{
		Addr:                   kafka_go.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka_go.Hash{},
		AllowAutoTopicCreation: true,
	}
}

var readerFactoryFunc = func(brokers []string, topic string, cfg Config) reader {
	return kafka_go.NewReader(kafka_go.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: cfg.GroupID,
	})
}

// Transport publishes requests as Kafka messages. Kafka has no replies, so Send
// answers 202 Accepted once the broker acknowledged the write.
type Transport struct {
	mu         sync.Mutex
	cfg        Config
	brokers    []string
	writers    map[string]writer
	readers    []reader
	tracerName string
	closed     bool
}

// New creates a Kafka transport from the kafka_* config keys.
func New(c *config.Config) (*Transport, error) {
	if c == nil {
		return nil, errors.New("config cannot be nil")
	}
	cfg := Config{Brokers: "localhost:9092", Topic: "default"}
	if err := c.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	t := &Transport{
		cfg:        cfg,
		brokers:    strings.Split(cfg.Brokers, ","),
		writers:    map[string]writer{},
		tracerName: "kafka",
	}
	logger.Info(context.Background(), "Kafka initialized", logger.String("brokers", cfg.Brokers), logger.String("topic", cfg.Topic))
	return t, nil
}

// Send writes req to the configured topic, keyed by path so requests for
// one resource stay ordered.
func (t *Transport) Send(ctx context.Context, req *rest.Request) (*rest.Envelope, error) {
	return t.SendTo(ctx, t.cfg.Topic, req)
}

// SendTo writes req to the given topic.
func (t *Transport) SendTo(ctx context.Context, topic string, req *rest.Request) (*rest.Envelope, error) {
	var span oteltrace.Span
	if t.cfg.OtelEnabled {
		ctx, span = otel.StartSpan(ctx, t.tracerName, "Publish "+topic,
			oteltrace.WithSpanKind(oteltrace.SpanKindProducer))
		defer span.End()
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("publish canceled: %w", ctx.Err())
	}

	msg, err := encode(req)
	if err != nil {
		return nil, err
	}
	if t.cfg.OtelEnabled {
		otel.Propagator().Inject(ctx, headerCarrier{&msg.Headers})
	}

	w, err := t.writer(topic)
	if err != nil {
		return nil, err
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		logger.Error(ctx, "Failed to publish message", logger.String("topic", topic), logger.Err(err))
		return nil, err
	}
	logger.Debug(ctx, "Message published",
		logger.String("topic", topic),
		logger.String("method", req.Method),
		logger.String("path", req.Path))
	return rest.NewEnvelope(http.StatusAccepted, nil, nil), nil
}

// Consume returns a channel of requests read from topic. The channel closes
// when ctx ends or the reader fails.
func (t *Transport) Consume(ctx context.Context, topic string) (<-chan *rest.Request, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("kafka transport closed")
	}
	r := readerFactoryFunc(t.brokers, topic, t.cfg)
	t.readers = append(t.readers, r)
	t.mu.Unlock()

	out := make(chan *rest.Request)
	go func() {
		defer close(out)
		for {
			msg, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error(ctx, "Failed to read message", logger.String("topic", topic), logger.Err(err))
				}
				return
			}
			req := decode(msg)
			select {
			case out <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	logger.Info(ctx, "Consumer registered", logger.String("topic", topic))
	return out, nil
}

// Serve consumes topic and replays every request through handler, typically
// an HTTP client. Responses are logged and discarded. It returns when ctx ends.
func (t *Transport) Serve(ctx context.Context, topic string, handler rest.Transport) error {
	reqs, err := t.Consume(ctx, topic)
	if err != nil {
		return err
	}
	for req := range reqs {
		reqCtx := ctx
		if t.cfg.OtelEnabled {
			reqCtx = otel.Propagator().Extract(ctx, propagation.HeaderCarrier(req.Header))
		}
		env, err := handler.Send(reqCtx, req)
		if err != nil {
			logger.Error(reqCtx, "Replay failed", logger.String("path", req.Path), logger.Err(err))
			continue
		}
		logger.Debug(reqCtx, "Replayed message", logger.String("path", req.Path), logger.Int("status", env.Status))
		env.Close()
	}
	return ctx.Err()
}

// Close closes every writer and reader.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	var errs []error
	for topic, w := range t.writers {
		errs = append(errs, w.Close())
		delete(t.writers, topic)
	}
	for _, r := range t.readers {
		errs = append(errs, r.Close())
	}
	t.readers = nil
	logger.Info(context.Background(), "Kafka closed")
	return errors.Join(errs...)
}

func (t *Transport) writer(topic string) (writer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("kafka transport closed")
	}
	w, ok := t.writers[topic]
	if !ok {
		w = writerFactoryFunc(t.brokers, topic, t.cfg)
		t.writers[topic] = w
	}
	return w, nil
}

func encode(req *rest.Request) (kafka_go.Message, error) {
	body, err := req.ReadBody()
	if err != nil {
		return kafka_go.Message{}, fmt.Errorf("read request body: %w", err)
	}
	headers := []kafka_go.Header{
		{Key: headerMethod, Value: []byte(req.Method)},
		{Key: headerPath, Value: []byte(req.Path)},
	}
	if len(req.Query) > 0 {
		headers = append(headers, kafka_go.Header{Key: headerQuery, Value: []byte(req.Query.Encode())})
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			headers = append(headers, kafka_go.Header{Key: k, Value: []byte(v)})
		}
	}
	return kafka_go.Message{Key: []byte(req.Path), Value: body, Headers: headers}, nil
}

func decode(msg kafka_go.Message) *rest.Request {
	req := &rest.Request{Header: http.Header{}, Body: msg.Value}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerMethod:
			req.Method = string(h.Value)
		case headerPath:
			req.Path = string(h.Value)
		case headerQuery:
			q, err := rest.ParseQuery(string(h.Value))
			if err == nil {
				req.Query = q
			}
		default:
			req.Header.Add(h.Key, string(h.Value))
		}
	}
	if req.Method == "" {
		req.Method = http.MethodPost
	}
	req.ContentType = req.Header.Get("Content-Type")
	return req
}
