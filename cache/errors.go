package cache

import (
	"errors"
	"fmt"
)

// Sentinel errors for cache operations.
var (
	ErrNilStorage  = errors.New("cache: storage is nil")
	ErrNilEngine   = errors.New("cache: engine is nil")
	ErrInvalidKey  = errors.New("cache: key is invalid")
	ErrKeyTooLong  = errors.New("cache: key exceeds max length")
	ErrReservedKey = errors.New("cache: key contains a reserved suffix")
	ErrClosed      = errors.New("cache: engine is closed")

	// ErrAmbiguousArgument reports an argument whose JSON form could equal
	// that of a different argument: invalid UTF-8 or a raw byte slice.
	ErrAmbiguousArgument = errors.New("cache: argument has no unambiguous key encoding")

	// ErrUsage matches every *UsageError.
	ErrUsage = errors.New("cache: usage error")

	// ErrIndexCorruption matches every *IndexCorruptionError.
	ErrIndexCorruption = errors.New("cache: index corruption")

	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("cache: storage error")
)

// UsageError reports an invalid configuration or call shape. It is raised
// before any storage access.
type UsageError struct {
	Key    string
	Reason string
	Err    error
}

func (e *UsageError) Error() string {
	msg := "cache: usage error"
	if e.Key != "" {
		msg += fmt.Sprintf(" for key %q", e.Key)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UsageError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUsage, e.Err}
	}
	return []error{ErrUsage}
}

func usageErr(key, reason string) error {
	return &UsageError{Key: key, Reason: reason}
}

// IndexCorruptionError reports a child index blob that could not be parsed.
type IndexCorruptionError struct {
	Key string // base key
	Err error
}

func (e *IndexCorruptionError) Error() string {
	return fmt.Sprintf("cache: index for key %q is corrupt: %v", e.Key, e.Err)
}

func (e *IndexCorruptionError) Unwrap() []error {
	return []error{ErrIndexCorruption, e.Err}
}

// StorageError wraps a failure reported by a Storage.
type StorageError struct {
	Op  string // get|set|delete|has
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache: storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func storageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
