package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/keycache/cache"
	"github.com/jonwraymond/keycache/observe"
	"github.com/jonwraymond/keycache/sqlstore"
)

// Configuration errors.
var (
	ErrInvalidDriver = errors.New("config: invalid storage driver")
	ErrInvalidIndex  = errors.New("config: invalid index")
	ErrMissingField  = errors.New("config: missing required field")
	ErrInvalidValue  = errors.New("config: invalid value")
	ErrUnknownFormat = errors.New("config: unknown file format")
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverLRU    = "lru"
	DriverRedis  = "redis"
	DriverSQL    = "sql"
)

// Index kinds.
const (
	IndexStorage = "storage"
	IndexLocal   = "local"
)

// Config is the file-level configuration of a cache runtime.
type Config struct {
	ServiceName string           `yaml:"service_name" toml:"service_name"`
	Engine      EngineConfig     `yaml:"engine" toml:"engine"`
	Storage     StorageConfig    `yaml:"storage" toml:"storage"`
	Resilience  ResilienceConfig `yaml:"resilience" toml:"resilience"`
	Observe     ObserveConfig    `yaml:"observe" toml:"observe"`
}

// EngineConfig configures the cache engine.
type EngineConfig struct {
	// KeyEncoding is "json" (default) or "hash".
	KeyEncoding string `yaml:"key_encoding" toml:"key_encoding"`

	// Index is "storage" (default, shared through the store) or "local".
	Index string `yaml:"index" toml:"index"`

	// Coalesce merges concurrent temporal misses of one key.
	Coalesce bool `yaml:"coalesce" toml:"coalesce"`

	// InstanceID overrides the generated engine id.
	InstanceID string `yaml:"instance_id" toml:"instance_id"`
}

// StorageConfig selects and configures the backing store.
type StorageConfig struct {
	Driver string      `yaml:"driver" toml:"driver"`
	LRU    LRUConfig   `yaml:"lru" toml:"lru"`
	Redis  RedisConfig `yaml:"redis" toml:"redis"`
	SQL    SQLConfig   `yaml:"sql" toml:"sql"`
}

type LRUConfig struct {
	Size int `yaml:"size" toml:"size"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	Password  string `yaml:"password" toml:"password"`
	DB        int    `yaml:"db" toml:"db"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`

	// Notify enables cross-process refresh signals over Pub/Sub.
	Notify  bool   `yaml:"notify" toml:"notify"`
	Channel string `yaml:"channel" toml:"channel"`
}

type SQLConfig struct {
	Dialect string `yaml:"dialect" toml:"dialect"`
	DSN     string `yaml:"dsn" toml:"dsn"`
	Table   string `yaml:"table" toml:"table"`

	// PurgeInterval removes expired rows periodically. Zero disables it.
	PurgeInterval Duration `yaml:"purge_interval" toml:"purge_interval"`
}

// ResilienceConfig wraps the store in a cache.ResilientStorage when enabled.
type ResilienceConfig struct {
	Enabled  bool           `yaml:"enabled" toml:"enabled"`
	Timeout  Duration       `yaml:"timeout" toml:"timeout"`
	Retry    RetryConfig    `yaml:"retry" toml:"retry"`
	Breaker  BreakerConfig  `yaml:"breaker" toml:"breaker"`
	Bulkhead BulkheadConfig `yaml:"bulkhead" toml:"bulkhead"`
}

type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts" toml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay" toml:"max_delay"`
	Multiplier   float64  `yaml:"multiplier" toml:"multiplier"`
	Jitter       bool     `yaml:"jitter" toml:"jitter"`
}

type BreakerConfig struct {
	MaxFailures  int      `yaml:"max_failures" toml:"max_failures"`
	ResetTimeout Duration `yaml:"reset_timeout" toml:"reset_timeout"`
}

type BulkheadConfig struct {
	MaxConcurrent int      `yaml:"max_concurrent" toml:"max_concurrent"`
	MaxWait       Duration `yaml:"max_wait" toml:"max_wait"`
}

// ObserveConfig mirrors observe.Config without the service identity.
type ObserveConfig struct {
	Tracing struct {
		Enabled   bool    `yaml:"enabled" toml:"enabled"`
		Exporter  string  `yaml:"exporter" toml:"exporter"`
		SamplePct float64 `yaml:"sample_pct" toml:"sample_pct"`
	} `yaml:"tracing" toml:"tracing"`
	Metrics struct {
		Enabled  bool   `yaml:"enabled" toml:"enabled"`
		Exporter string `yaml:"exporter" toml:"exporter"`
	} `yaml:"metrics" toml:"metrics"`
	Logging struct {
		Enabled bool   `yaml:"enabled" toml:"enabled"`
		Level   string `yaml:"level" toml:"level"`
		Format  string `yaml:"format" toml:"format"`
	} `yaml:"logging" toml:"logging"`
}

// Default returns a configuration for an in-memory cache.
func Default() Config {
	cfg := Config{
		ServiceName: "keycache",
		Engine: EngineConfig{
			KeyEncoding: cache.KeyEncodingJSON.String(),
			Index:       IndexStorage,
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
			LRU:    LRUConfig{Size: cache.DefaultLRUCapacity},
		},
	}
	cfg.Observe.Logging.Level = "info"
	cfg.Observe.Tracing.SamplePct = 1.0
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("%w: service_name", ErrMissingField)
	}
	if _, err := cache.ParseKeyEncoding(c.Engine.KeyEncoding); err != nil {
		return fmt.Errorf("%w: engine.key_encoding: %v", ErrInvalidValue, err)
	}
	switch c.Engine.Index {
	case "", IndexStorage, IndexLocal:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidIndex, c.Engine.Index)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverLRU:
		if c.Storage.LRU.Size < 0 {
			return fmt.Errorf("%w: storage.lru.size must be >= 0", ErrInvalidValue)
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("%w: storage.redis.addr", ErrMissingField)
		}
		if c.Storage.Redis.DB < 0 {
			return fmt.Errorf("%w: storage.redis.db must be >= 0", ErrInvalidValue)
		}
	case DriverSQL:
		if _, err := sqlstore.ParseDialect(c.Storage.SQL.Dialect); err != nil {
			return fmt.Errorf("%w: storage.sql.dialect: %v", ErrInvalidValue, err)
		}
		if c.Storage.SQL.DSN == "" {
			return fmt.Errorf("%w: storage.sql.dsn", ErrMissingField)
		}
		if c.Storage.SQL.PurgeInterval < 0 {
			return fmt.Errorf("%w: storage.sql.purge_interval must be >= 0", ErrInvalidValue)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Storage.Driver)
	}

	if c.Engine.Index == IndexLocal && (c.Storage.Driver == DriverRedis || c.Storage.Driver == DriverSQL) {
		return fmt.Errorf("%w: a local index cannot be shared through storage driver %q", ErrInvalidIndex, c.Storage.Driver)
	}

	r := c.Resilience
	if r.Timeout < 0 || r.Retry.InitialDelay < 0 || r.Retry.MaxDelay < 0 ||
		r.Breaker.ResetTimeout < 0 || r.Bulkhead.MaxWait < 0 {
		return fmt.Errorf("%w: resilience durations must be >= 0", ErrInvalidValue)
	}
	if r.Retry.MaxAttempts < 0 || r.Breaker.MaxFailures < 0 || r.Bulkhead.MaxConcurrent < 0 {
		return fmt.Errorf("%w: resilience counts must be >= 0", ErrInvalidValue)
	}

	obs := c.observeConfig()
	if err := obs.Validate(); err != nil {
		return fmt.Errorf("config: observe: %w", err)
	}
	return nil
}

func (c *Config) observeConfig() observe.Config {
	o := c.Observe
	return observe.Config{
		ServiceName: c.ServiceName,
		InstanceID:  c.Engine.InstanceID,
		Tracing: observe.TracingConfig{
			Enabled:   o.Tracing.Enabled,
			Exporter:  o.Tracing.Exporter,
			SamplePct: o.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  o.Metrics.Enabled,
			Exporter: o.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: o.Logging.Enabled,
			Level:   o.Logging.Level,
			Format:  o.Logging.Format,
		},
	}
}

func (c *Config) resilienceConfig() cache.ResilienceConfig {
	r := c.Resilience
	return cache.ResilienceConfig{
		Timeout: r.Timeout.Std(),
		Retry: cache.RetryConfig{
			MaxAttempts:  r.Retry.MaxAttempts,
			InitialDelay: r.Retry.InitialDelay.Std(),
			MaxDelay:     r.Retry.MaxDelay.Std(),
			Multiplier:   r.Retry.Multiplier,
			Jitter:       r.Retry.Jitter,
		},
		Breaker: cache.BreakerConfig{
			MaxFailures:  r.Breaker.MaxFailures,
			ResetTimeout: r.Breaker.ResetTimeout.Std(),
		},
		Bulkhead: cache.BulkheadConfig{
			MaxConcurrent: r.Bulkhead.MaxConcurrent,
			MaxWait:       r.Bulkhead.MaxWait.Std(),
		},
	}
}

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: duration %q", ErrInvalidValue, s)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
