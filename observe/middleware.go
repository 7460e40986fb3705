package observe

import (
	"context"
	"time"
)

// OpFunc is the signature of an instrumented cache operation. It reports how
// the operation was served.
type OpFunc func(ctx context.Context) (Outcome, error)

// Middleware wraps cache operations with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Run is safe for concurrent use.
//   - Context: the span context is propagated to the wrapped function.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// NopMiddleware returns a Middleware with no-op tracer, metrics and logger.
func NopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// Run executes fn inside a span, records metrics and logs the result.
func (m *Middleware) Run(ctx context.Context, meta OpMeta, fn OpFunc) error {
	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := time.Now()

	outcome, err := fn(ctx)

	duration := time.Since(start)
	if err != nil && outcome == "" {
		outcome = OutcomeError
	}

	m.tracer.EndSpan(span, outcome, err)
	m.metrics.RecordOperation(ctx, meta, outcome, duration, err)

	logger := m.logger.WithOp(meta)
	fields := []Field{
		F("outcome", string(outcome)),
		F("duration_ms", float64(duration.Microseconds())/1000),
	}
	if err != nil {
		fields = append(fields, F("error", err))
		logger.Error(ctx, "cache operation failed", fields...)
	} else {
		logger.Debug(ctx, "cache operation completed", fields...)
	}

	return err
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
