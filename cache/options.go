package cache

import (
	"fmt"
	"time"
)

// Options describes how a function is cached.
type Options struct {
	// Kind selects persistent, temporal or bust behavior. Required.
	Kind Kind

	// Key is the base key. Required.
	Key string

	// Params lists the argument positions folded into the derived key, in
	// order. Temporal and bust only.
	Params []int

	// TTL is the lifetime of temporal entries. Required for temporal.
	TTL time.Duration

	// RefreshInterval re-computes a persistent entry on a timer when > 0.
	RefreshInterval time.Duration

	// BustAllChildren makes a bust cascade to every derived key of Key.
	BustAllChildren bool

	// Addition lists secondary bust targets processed after the primary one.
	Addition []BustTarget
}

// BustTarget is one key to invalidate.
type BustTarget struct {
	Key             string
	Params          []int
	BustAllChildren bool
}

// Validate checks the option combination for its kind.
func (o Options) Validate() error {
	if err := ValidateKey(o.Key); err != nil {
		return &UsageError{Key: o.Key, Reason: "invalid key", Err: err}
	}

	switch o.Kind {
	case Persistent:
		if len(o.Params) > 0 {
			return usageErr(o.Key, "arguments are not supported for persistent cache")
		}
		if o.TTL != 0 {
			return usageErr(o.Key, "persistent cache does not expire, TTL must be zero")
		}
		if o.RefreshInterval < 0 {
			return usageErr(o.Key, "refresh interval must not be negative")
		}
		if o.BustAllChildren || len(o.Addition) > 0 {
			return usageErr(o.Key, "bust options are only valid for bust kind")
		}

	case Temporal:
		if o.TTL <= 0 {
			return usageErr(o.Key, "temporal cache requires a positive TTL")
		}
		if o.RefreshInterval != 0 {
			return usageErr(o.Key, "refresh interval is only valid for persistent cache")
		}
		if o.BustAllChildren || len(o.Addition) > 0 {
			return usageErr(o.Key, "bust options are only valid for bust kind")
		}
		if err := validateParams(o.Key, o.Params); err != nil {
			return err
		}

	case Bust:
		if o.TTL != 0 || o.RefreshInterval != 0 {
			return usageErr(o.Key, "bust does not accept TTL or refresh interval")
		}
		for _, t := range o.targets() {
			if err := t.Validate(); err != nil {
				return err
			}
		}

	default:
		return usageErr(o.Key, fmt.Sprintf("unknown kind %d", o.Kind))
	}

	return nil
}

// Validate checks a single bust target.
func (t BustTarget) Validate() error {
	if err := ValidateKey(t.Key); err != nil {
		return &UsageError{Key: t.Key, Reason: "invalid bust target key", Err: err}
	}
	return validateParams(t.Key, t.Params)
}

// targets returns the primary target followed by the additions.
func (o Options) targets() []BustTarget {
	out := make([]BustTarget, 0, 1+len(o.Addition))
	out = append(out, BustTarget{Key: o.Key, Params: o.Params, BustAllChildren: o.BustAllChildren})
	return append(out, o.Addition...)
}

func validateParams(key string, params []int) error {
	for _, p := range params {
		if p < 0 {
			return usageErr(key, fmt.Sprintf("negative argument position %d", p))
		}
	}
	return nil
}
