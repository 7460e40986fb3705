package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Operation names recorded in OpMeta.Op.
const (
	OpRead     = "read"
	OpPopulate = "populate"
	OpRefresh  = "refresh"
	OpBust     = "bust"
	OpExpire   = "expire"
)

// Outcome classifies how a cache operation was served.
type Outcome string

// Known outcomes.
const (
	OutcomeHit     Outcome = "hit"
	OutcomeMiss    Outcome = "miss"
	OutcomeBust    Outcome = "bust"
	OutcomeRefresh Outcome = "refresh"
	OutcomeExpire  Outcome = "expire"
	OutcomeError   Outcome = "error"
)

// OpMeta describes a cache operation for telemetry purposes.
type OpMeta struct {
	Kind string // persistent|temporal|bust
	Key  string // base key
	Op   string // read|populate|refresh|bust|expire
}

// SpanName returns the deterministic span name for this operation.
// Format: cache.<kind>.<key>
func (m OpMeta) SpanName() string {
	if m.Kind == "" {
		return "cache." + m.Key
	}
	return "cache." + m.Kind + "." + m.Key
}

func (m OpMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("cache.key", m.Key),
	}
	if m.Kind != "" {
		attrs = append(attrs, attribute.String("cache.kind", m.Kind))
	}
	if m.Op != "" {
		attrs = append(attrs, attribute.String("cache.op", m.Op))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with cache-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a cache operation.
	StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording the outcome and any error.
	EndSpan(span trace.Span, outcome Outcome, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(meta.attributes()...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, outcome Outcome, err error) {
	if outcome != "" {
		span.SetAttributes(attribute.String("cache.outcome", string(outcome)))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a Tracer that records nothing.
func NopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ Outcome, _ error) {
	span.End()
}
