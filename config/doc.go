// Package config loads cache runtime configuration and assembles a Runtime.
//
// Files are YAML (.yaml, .yml) or TOML (.toml). Durations are Go duration
// strings. The Redis password and SQL DSN accept ${VAR} expansion and
// secret references:
//
//	storage:
//	  driver: redis
//	  redis:
//	    addr: localhost:6379
//	    password: secretref:env:REDIS_PASSWORD
//
// Build wires storage, the optional resilience decorator, the child index,
// telemetry middleware and the Redis refresh notifier into a cache.Engine.
package config
