package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HealthStatus is the health of a storage backend.
type HealthStatus int

const (
	HealthHealthy HealthStatus = iota
	HealthDegraded
	HealthUnhealthy
)

func (s HealthStatus) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HealthResult is the outcome of a storage check.
type HealthResult struct {
	Status    HealthStatus
	Message   string
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

// StorageChecker verifies a storage by pinging it (when it is a Pinger) and
// running a set/get/delete round trip on a throwaway check key.
type StorageChecker struct {
	storage Storage

	// SlowThreshold marks a successful check slower than this as degraded.
	// Default: 250ms
	SlowThreshold time.Duration

	// Timeout bounds the whole check.
	// Default: 5s
	Timeout time.Duration
}

// NewStorageChecker creates a checker with default thresholds.
func NewStorageChecker(storage Storage) *StorageChecker {
	return &StorageChecker{
		storage:       storage,
		SlowThreshold: 250 * time.Millisecond,
		Timeout:       5 * time.Second,
	}
}

// Name returns the checker name.
func (c *StorageChecker) Name() string { return "cache.storage" }

// Check runs the round trip.
func (c *StorageChecker) Check(ctx context.Context) HealthResult {
	start := time.Now()
	if c.storage == nil {
		return c.result(start, HealthUnhealthy, "storage not configured", ErrNilStorage)
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	if p, ok := c.storage.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return c.result(start, HealthUnhealthy, "ping failed", err)
		}
	}

	key := "healthcheck:" + uuid.NewString()
	want := []byte(start.UTC().Format(time.RFC3339Nano))

	if err := c.storage.Set(ctx, key, want, time.Minute); err != nil {
		return c.result(start, HealthUnhealthy, "check write failed", err)
	}
	got, found, err := c.storage.Get(ctx, key)
	if err != nil {
		return c.result(start, HealthUnhealthy, "check read failed", err)
	}
	if _, err := c.storage.Delete(ctx, key); err != nil {
		return c.result(start, HealthDegraded, "check cleanup failed", err)
	}
	if !found || string(got) != string(want) {
		return c.result(start, HealthDegraded, "check value mismatch", fmt.Errorf("cache: check value %q read back %q", want, got))
	}

	if d := time.Since(start); c.SlowThreshold > 0 && d > c.SlowThreshold {
		return c.result(start, HealthDegraded, fmt.Sprintf("slow round trip (%s)", d.Round(time.Millisecond)), nil)
	}
	return c.result(start, HealthHealthy, "ok", nil)
}

func (c *StorageChecker) result(start time.Time, status HealthStatus, msg string, err error) HealthResult {
	return HealthResult{
		Status:    status,
		Message:   msg,
		Duration:  time.Since(start),
		Timestamp: start,
		Error:     err,
	}
}
