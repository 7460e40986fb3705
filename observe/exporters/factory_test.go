package exporters

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewTracingExporter(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantNil bool
		wantErr error
	}{
		{name: "stdout"},
		{name: "none", wantNil: true},
		{name: "", wantNil: true},
		{name: "otlp", wantErr: ErrEndpointNotConfigured},
		{name: "otlp", env: map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "localhost:4317"}},
		{name: "jaeger", wantErr: ErrEndpointNotConfigured},
		{name: "jaeger", env: map[string]string{"OTEL_EXPORTER_JAEGER_ENDPOINT": "localhost:4317"}},
		{name: "zipkin", wantErr: ErrUnknownExporter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
			t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
			t.Setenv("OTEL_EXPORTER_JAEGER_ENDPOINT", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			exp, err := NewTracingExporter(context.Background(), tt.name, &bytes.Buffer{})
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			case err != nil:
				t.Fatalf("error = %v", err)
			}

			if (exp == nil) != tt.wantNil {
				t.Errorf("exporter nil = %v, want %v", exp == nil, tt.wantNil)
			}
			if exp != nil {
				_ = exp.Shutdown(context.Background())
			}
		})
	}
}

func TestNewMetricsReader(t *testing.T) {
	tests := []struct {
		name    string
		wantNil bool
		wantErr bool
	}{
		{name: "stdout"},
		{name: "prometheus"},
		{name: "none", wantNil: true},
		{name: "statsd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
			t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")

			reader, err := NewMetricsReader(context.Background(), tt.name, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (reader == nil) != tt.wantNil {
				t.Errorf("reader nil = %v, want %v", reader == nil, tt.wantNil)
			}
		})
	}

	t.Run("otlp without endpoint", func(t *testing.T) {
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
		t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
		if _, err := NewMetricsReader(context.Background(), "otlp", nil); !errors.Is(err, ErrEndpointNotConfigured) {
			t.Errorf("error = %v, want ErrEndpointNotConfigured", err)
		}
	})
}

func TestExporterNames(t *testing.T) {
	if diff := cmp.Diff([]string{"jaeger", "none", "otlp", "stdout"}, TracingExporters()); diff != "" {
		t.Errorf("TracingExporters() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"none", "otlp", "prometheus", "stdout"}, MetricsExporters()); diff != "" {
		t.Errorf("MetricsExporters() mismatch (-want +got):\n%s", diff)
	}
	if !IsTracingExporter("") || IsTracingExporter("prometheus") {
		t.Error("IsTracingExporter() mismatch")
	}
	if !IsMetricsExporter("prometheus") || IsMetricsExporter("jaeger") {
		t.Error("IsMetricsExporter() mismatch")
	}
}

func TestStdoutTracing_Writer(t *testing.T) {
	var buf bytes.Buffer
	exp, err := NewTracingExporter(context.Background(), "stdout", &buf)
	if err != nil {
		t.Fatalf("NewTracingExporter() error = %v", err)
	}
	if err := exp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
