package otel

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/T-Prohmpossadhorn/go-rest/config"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Settings is the tracing section of the configuration.
type Settings struct {
	Enabled     bool   `mapstructure:"otel_enabled"`
	Endpoint    string `mapstructure:"otel_endpoint"`
	ServiceName string `mapstructure:"otel_service_name"`
	Exporter    string `mapstructure:"otel_exporter" validate:"omitempty,oneof=stdout otlp"`
}

var (
	mu             sync.RWMutex
	tracerProvider *sdktrace.TracerProvider
	memExporter    *tracetest.InMemoryExporter
)

// Init installs a global tracer provider built from cfg. When otel_enabled is
// false the provider is left unset and GetTracer hands out no-op tracers.
// Setting OTEL_TEST_MOCK_EXPORTER=true swaps the exporter for an in-memory one.
func Init(cfg *config.Config) error {
	settings := Settings{ServiceName: "go-rest", Exporter: "stdout"}
	if err := cfg.Unmarshal(&settings); err != nil {
		return fmt.Errorf("otel config: %w", err)
	}
	if settings.ServiceName == "" {
		settings.ServiceName = cfg.GetStringWithDefault("service_name", "go-rest")
	}

	ctx := context.Background()
	if !settings.Enabled {
		logger.Debug(ctx, "tracing disabled")
		return nil
	}
	if err := validateEndpoint(settings.Endpoint); err != nil {
		return err
	}

	var opts []sdktrace.TracerProviderOption
	var mem *tracetest.InMemoryExporter
	switch {
	case os.Getenv("OTEL_TEST_MOCK_EXPORTER") == "true":
		mem = tracetest.NewInMemoryExporter()
		opts = append(opts, sdktrace.WithSyncer(mem))
	case settings.Exporter == "otlp":
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if settings.Endpoint != "" {
			clientOpts = append(clientOpts, otlptracegrpc.WithEndpoint(settings.Endpoint))
		}
		exp, err := otlptracegrpc.New(ctx, clientOpts...)
		if err != nil {
			return fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	default:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	opts = append(opts,
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", settings.ServiceName))),
	)
	tp := sdktrace.NewTracerProvider(opts...)

	mu.Lock()
	previous := tracerProvider
	tracerProvider = tp
	memExporter = mem
	mu.Unlock()
	if previous != nil {
		_ = previous.Shutdown(ctx)
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	logger.Info(ctx, "tracing initialized",
		logger.String("service", settings.ServiceName),
		logger.String("exporter", settings.Exporter))
	return nil
}

// GetTracer returns a named tracer, or a no-op tracer when tracing is off.
func GetTracer(name string) trace.Tracer {
	mu.RLock()
	tp := tracerProvider
	mu.RUnlock()
	if tp == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return tp.Tracer(name)
}

// StartSpan starts a span from the named tracer.
func StartSpan(ctx context.Context, tracerName, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return GetTracer(tracerName).Start(ctx, spanName, opts...)
}

// Enabled reports whether Init installed a provider.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return tracerProvider != nil
}

// Propagator returns the global text map propagator.
func Propagator() propagation.TextMapPropagator {
	return otel.GetTextMapPropagator()
}

// RecordedSpans returns spans captured by the in-memory test exporter.
func RecordedSpans() tracetest.SpanStubs {
	mu.RLock()
	defer mu.RUnlock()
	if memExporter == nil {
		return nil
	}
	return memExporter.GetSpans()
}

// Shutdown flushes and removes the installed provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := tracerProvider
	tracerProvider = nil
	memExporter = nil
	mu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return nil
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return fmt.Errorf("invalid otel_endpoint %q: %w", endpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid otel_endpoint port: %s", portStr)
	}
	if _, err := net.LookupHost(host); err != nil {
		return fmt.Errorf("invalid otel_endpoint host %q: %w", host, err)
	}
	return nil
}
