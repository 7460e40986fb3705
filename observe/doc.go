// Package observe provides observability primitives for cache operations.
//
// It wires a structured logger (zerolog), OpenTelemetry tracing and
// OpenTelemetry metrics behind small interfaces, and a Middleware that wraps
// every cache operation (read, populate, refresh, bust, expire) with a span,
// counters, a duration histogram and a log line.
//
// The cache engine only depends on the Logger, Tracer and Metrics interfaces;
// all of them have no-op implementations so instrumentation is opt-in.
package observe
