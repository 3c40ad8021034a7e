// Package telemetry builds the OpenTelemetry tracer provider behind the core
// service spans.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Exporters backed by the SDK provider. "none" and "json" are handled by the
// caller without one.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config selects where spans go.
type Config struct {
	Exporter    string  `yaml:"exporter" validate:"oneof=none stdout otlp json"`
	Endpoint    string  `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
	JSONPath    string  `yaml:"json_path" validate:"required_if=Exporter json"`
}

// UsesProvider reports whether the exporter needs an SDK tracer provider.
func (c Config) UsesProvider() bool {
	return c.Exporter == ExporterStdout || c.Exporter == ExporterOTLP
}

// NewTracerProvider builds a batching provider for the stdout or otlp
// exporter. Stdout spans are written to w, or to stderr when w is nil. The
// provider is registered globally; callers own its Shutdown.
func NewTracerProvider(ctx context.Context, cfg Config, serviceVersion string, w io.Writer) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String("rua"),
		semconv.ServiceVersionKey.String(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case ExporterStdout:
		if w == nil {
			w = os.Stderr
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("trace exporter %s: %w", cfg.Exporter, err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider, nil
}
