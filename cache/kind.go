package cache

import (
	"fmt"
	"sync"
)

// Kind selects the cache behavior of a wrapped function.
type Kind int

const (
	// Persistent entries are populated at start or on first use, never
	// expire and are optionally refreshed on a timer.
	Persistent Kind = iota + 1

	// Temporal entries are populated on miss and expire after a TTL.
	Temporal

	// Bust invalidates entries and then runs the wrapped function.
	Bust
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Persistent:
		return "persistent"
	case Temporal:
		return "temporal"
	case Bust:
		return "bust"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "persistent":
		return Persistent, nil
	case "temporal":
		return Temporal, nil
	case "bust":
		return Bust, nil
	default:
		return 0, fmt.Errorf("cache: unknown kind %q", s)
	}
}

// kindTable maps base keys to the kind of the entry they hold. Bust is a
// write-side tag and is never recorded.
type kindTable struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

func newKindTable() *kindTable {
	return &kindTable{kinds: make(map[string]Kind)}
}

// register records kind for key. Registering the same kind again is a no-op;
// a different kind is a usage error.
func (t *kindTable) register(key string, kind Kind) error {
	if kind == Bust {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.kinds[key]; ok && existing != kind {
		return usageErr(key, fmt.Sprintf("key already registered as %s, cannot register as %s", existing, kind))
	}
	t.kinds[key] = kind
	return nil
}

func (t *kindTable) lookup(key string) (Kind, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	k, ok := t.kinds[key]
	return k, ok
}
