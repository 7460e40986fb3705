// Package exporters builds OpenTelemetry exporters by name for the observe package.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrEndpointNotConfigured indicates a required endpoint environment variable is not set.
	ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")

	// ErrUnknownExporter indicates an exporter name with no factory.
	ErrUnknownExporter = errors.New("exporters: unknown exporter")
)

// "none" and "" build nothing: spans are sampled but not exported, metrics
// are aggregated but never read.
type (
	spanFactory   func(ctx context.Context, w io.Writer) (sdktrace.SpanExporter, error)
	readerFactory func(ctx context.Context, w io.Writer) (sdkmetric.Reader, error)
)

var spanFactories = map[string]spanFactory{
	"":     nopSpans,
	"none": nopSpans,
	"stdout": func(_ context.Context, w io.Writer) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(w))
	},
	"otlp": func(ctx context.Context, _ io.Writer) (sdktrace.SpanExporter, error) {
		if _, err := endpointFromEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	},
	// Jaeger ingests OTLP natively.
	"jaeger": func(ctx context.Context, _ io.Writer) (sdktrace.SpanExporter, error) {
		endpoint, err := endpointFromEnv("OTEL_EXPORTER_JAEGER_ENDPOINT")
		if err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	},
}

var readerFactories = map[string]readerFactory{
	"":     nopReader,
	"none": nopReader,
	"stdout": func(_ context.Context, w io.Writer) (sdkmetric.Reader, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("exporters: stdout metrics: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	"otlp": func(ctx context.Context, _ io.Writer) (sdkmetric.Reader, error) {
		if _, err := endpointFromEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); err != nil {
			return nil, err
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("exporters: otlp metrics: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	// Registers with the default Prometheus registerer.
	"prometheus": func(context.Context, io.Writer) (sdkmetric.Reader, error) {
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("exporters: prometheus: %w", err)
		}
		return exp, nil
	},
}

func nopSpans(context.Context, io.Writer) (sdktrace.SpanExporter, error) { return nil, nil }

func nopReader(context.Context, io.Writer) (sdkmetric.Reader, error) { return nil, nil }

// endpointFromEnv returns the first non-empty variable among names.
func endpointFromEnv(names ...string) (string, error) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: set one of %v", ErrEndpointNotConfigured, names)
}

// IsTracingExporter reports whether name has a span exporter factory.
func IsTracingExporter(name string) bool {
	_, ok := spanFactories[name]
	return ok
}

// IsMetricsExporter reports whether name has a metrics reader factory.
func IsMetricsExporter(name string) bool {
	_, ok := readerFactories[name]
	return ok
}

// TracingExporters lists the non-empty tracing exporter names.
func TracingExporters() []string { return names(spanFactories) }

// MetricsExporters lists the non-empty metrics exporter names.
func MetricsExporters() []string { return names(readerFactories) }

func names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		if name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// NewTracingExporter creates a span exporter by name. The stdout exporter
// writes to w (os.Stdout when nil). "none" and "" return a nil exporter.
func NewTracingExporter(ctx context.Context, name string, w io.Writer) (sdktrace.SpanExporter, error) {
	f, ok := spanFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: tracing %q", ErrUnknownExporter, name)
	}
	if w == nil {
		w = os.Stdout
	}
	return f(ctx, w)
}

// NewMetricsReader creates a metrics reader by name. The stdout exporter
// writes to w (os.Stdout when nil). "none" and "" return a nil reader.
func NewMetricsReader(ctx context.Context, name string, w io.Writer) (sdkmetric.Reader, error) {
	f, ok := readerFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: metrics %q", ErrUnknownExporter, name)
	}
	if w == nil {
		w = os.Stdout
	}
	return f(ctx, w)
}
