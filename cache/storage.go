package cache

import (
	"context"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a base key.
const MaxKeyLength = 512

// Reserved key suffixes. Base keys must not contain them.
const (
	// RootKeySuffix marks the key holding the child index of a base key.
	RootKeySuffix = "__ROOT_KEY__"

	// KindKeySuffix marks the key holding the kind tag of a base key.
	KindKeySuffix = "__KIND__"
)

// Storage is the key-value contract the engine consumes.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use without external locking.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: Get reports a miss as (nil, false, nil); errors are reserved for backend failures.
// - TTL: ttl <= 0 stores without expiry.
type Storage interface {
	// Get retrieves a stored value.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value, expiring it after ttl when ttl > 0.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value and reports whether something was deleted.
	Delete(ctx context.Context, key string) (bool, error)

	// Has reports whether a live value is stored under key.
	Has(ctx context.Context, key string) (bool, error)
}

// TTLReporter is implemented by storages that can tell whether they honor
// the ttl passed to Set. Storages that do not implement it are assumed to.
type TTLReporter interface {
	SupportsTTL() bool
}

// Pinger is implemented by storages that can verify backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

func supportsTTL(s Storage) bool {
	if r, ok := s.(TTLReporter); ok {
		return r.SupportsTTL()
	}
	return true
}

// RootKey returns the reserved index key of a base key.
func RootKey(base string) string {
	return base + RootKeySuffix
}

// KindKey returns the reserved kind tag key of a base key.
func KindKey(base string) string {
	return base + KindKeySuffix
}

// ValidateKey checks if a base key is valid.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	if strings.Contains(key, RootKeySuffix) || strings.Contains(key, KindKeySuffix) {
		return ErrReservedKey
	}
	return nil
}
