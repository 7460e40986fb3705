package observe

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type telemetry struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	logs   *bytes.Buffer
	mw     *Middleware
}

func newTelemetry(t *testing.T) telemetry {
	t.Helper()

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	var logs bytes.Buffer
	return telemetry{
		spans:  spans,
		reader: reader,
		logs:   &logs,
		mw:     NewMiddleware(NewTracer(tp.Tracer("test")), metrics, NewLoggerWithWriter("debug", &logs)),
	}
}

func (tm telemetry) collect(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := tm.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumValue(m *metricdata.Metrics) int64 {
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		return -1
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMiddleware_SuccessPath(t *testing.T) {
	tm := newTelemetry(t)
	meta := OpMeta{Kind: "temporal", Key: "users", Op: OpRead}

	err := tm.mw.Run(context.Background(), meta, func(context.Context) (Outcome, error) {
		return OutcomeHit, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	spans := tm.spans.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "cache.temporal.users" {
		t.Errorf("span name = %q, want cache.temporal.users", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("span status = %v, want Ok", spans[0].Status().Code)
	}
	var outcome string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "cache.outcome" {
			outcome = kv.Value.AsString()
		}
	}
	if outcome != "hit" {
		t.Errorf("cache.outcome = %q, want hit", outcome)
	}

	rm := tm.collect(t)
	if m := findMetric(rm, MetricOpTotal); m == nil || sumValue(m) != 1 {
		t.Errorf("%s missing or not 1", MetricOpTotal)
	}
	if m := findMetric(rm, MetricOpErrors); m != nil && sumValue(m) != 0 {
		t.Errorf("%s = %d, want 0", MetricOpErrors, sumValue(m))
	}
	if findMetric(rm, MetricOpDuration) == nil {
		t.Errorf("%s missing", MetricOpDuration)
	}

	if !bytes.Contains(tm.logs.Bytes(), []byte(`"cache operation completed"`)) {
		t.Errorf("debug log missing: %s", tm.logs.String())
	}
}

func TestMiddleware_ErrorPath(t *testing.T) {
	tm := newTelemetry(t)
	boom := errors.New("boom")

	err := tm.mw.Run(context.Background(), OpMeta{Kind: "bust", Key: "k", Op: OpBust}, func(context.Context) (Outcome, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}

	spans := tm.spans.Ended()
	if spans[0].Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", spans[0].Status().Code)
	}

	rm := tm.collect(t)
	if m := findMetric(rm, MetricOpErrors); m == nil || sumValue(m) != 1 {
		t.Errorf("%s missing or not 1", MetricOpErrors)
	}

	total := findMetric(rm, MetricOpTotal)
	sum := total.Data.(metricdata.Sum[int64])
	outcome, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("cache.outcome"))
	if outcome.AsString() != string(OutcomeError) {
		t.Errorf("cache.outcome = %q, want error", outcome.AsString())
	}

	if !bytes.Contains(tm.logs.Bytes(), []byte(`"level":"error"`)) {
		t.Errorf("error log missing: %s", tm.logs.String())
	}
}

func TestMiddleware_PropagatesSpanContext(t *testing.T) {
	tm := newTelemetry(t)

	var inner bool
	_ = tm.mw.Run(context.Background(), OpMeta{Kind: "persistent", Key: "p", Op: OpRefresh}, func(ctx context.Context) (Outcome, error) {
		inner = trace.SpanFromContext(ctx).SpanContext().IsValid()
		return OutcomeRefresh, nil
	})
	if !inner {
		t.Error("span context not propagated to the operation")
	}
}

func TestNopMiddleware(t *testing.T) {
	mw := NopMiddleware()
	start := time.Now()
	err := mw.Run(context.Background(), OpMeta{Key: "k"}, func(context.Context) (Outcome, error) {
		return OutcomeMiss, nil
	})
	if err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("NopMiddleware() is slow")
	}
	if mw.Logger() == nil {
		t.Error("Logger() = nil")
	}
}

func TestOpMeta_SpanName(t *testing.T) {
	tests := []struct {
		meta OpMeta
		want string
	}{
		{OpMeta{Kind: "temporal", Key: "users"}, "cache.temporal.users"},
		{OpMeta{Key: "users"}, "cache.users"},
	}
	for _, tt := range tests {
		if got := tt.meta.SpanName(); got != tt.want {
			t.Errorf("SpanName() = %q, want %q", got, tt.want)
		}
	}
}
