package observe

import "errors"

// Configuration errors.
var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: sample percentage must be between 0.0 and 1.0")
	ErrInvalidTracingExporter = errors.New("observe: invalid tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: invalid metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: invalid log level")
	ErrInvalidLogFormat       = errors.New("observe: invalid log format")
)

const (
	MinSamplePct = 0.0
	MaxSamplePct = 1.0
)

// Log formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// RedactedFields lists field keys that are automatically redacted in logs.
// Cached values and call arguments may carry user data.
var RedactedFields = []string{
	"value",
	"args",
	"password",
	"secret",
	"token",
	"dsn",
}
