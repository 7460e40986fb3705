package observe

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ParseLogLevel parses a string log level. Unknown or empty levels map to info.
func ParseLogLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// zeroLogger adapts zerolog to the Logger interface.
type zeroLogger struct {
	zl zerolog.Logger
}

// NewLogger creates a JSON logger on stderr with the given level.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a JSON logger with a custom writer.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &zeroLogger{zl: newZerolog(level, LogFormatJSON, w).Logger()}
}

// newServiceLogger tags every entry with the service and instance.
func newServiceLogger(cfg Config, w io.Writer) Logger {
	c := newZerolog(cfg.Logging.Level, cfg.Logging.Format, w).Str("service", cfg.ServiceName)
	if cfg.InstanceID != "" {
		c = c.Str("instance", cfg.InstanceID)
	}
	return &zeroLogger{zl: c.Logger()}
}

func newZerolog(level, format string, w io.Writer) zerolog.Context {
	if format == LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(w).Level(ParseLogLevel(level)).With().Timestamp()
}

// FromZerolog wraps an existing zerolog logger.
func FromZerolog(zl zerolog.Logger) Logger {
	return &zeroLogger{zl: zl}
}

// WithOp returns a logger with cache operation context attached.
func (l *zeroLogger) WithOp(meta OpMeta) Logger {
	c := l.zl.With().Str("cache.key", meta.Key)
	if meta.Kind != "" {
		c = c.Str("cache.kind", meta.Kind)
	}
	if meta.Op != "" {
		c = c.Str("cache.op", meta.Op)
	}
	return &zeroLogger{zl: c.Logger()}
}

func (l *zeroLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, l.zl.Info(), msg, fields)
}

func (l *zeroLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, l.zl.Warn(), msg, fields)
}

func (l *zeroLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, l.zl.Error(), msg, fields)
}

func (l *zeroLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, l.zl.Debug(), msg, fields)
}

func (l *zeroLogger) write(ctx context.Context, ev *zerolog.Event, msg string, fields []Field) {
	// nil when the level is disabled
	if ev == nil {
		return
	}

	for _, f := range fields {
		if isRedactedField(f.Key) {
			ev = ev.Str(f.Key, "[REDACTED]")
			continue
		}
		if err, ok := f.Value.(error); ok {
			ev = ev.AnErr(f.Key, err)
			continue
		}
		ev = ev.Interface(f.Key, f.Value)
	}

	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			ev = ev.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
		}
	}

	ev.Msg(msg)
}

func isRedactedField(key string) bool {
	for _, k := range RedactedFields {
		if k == key {
			return true
		}
	}
	return false
}

var _ Logger = (*zeroLogger)(nil)
