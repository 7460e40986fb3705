package cache

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Resilience errors.
var (
	// ErrCircuitOpen is returned without touching the backend while the
	// breaker is open.
	ErrCircuitOpen = errors.New("cache: storage circuit breaker is open")

	// ErrTimeout is returned when a storage call exceeds its per-call timeout.
	ErrTimeout = errors.New("cache: storage call timed out")

	// ErrBulkheadFull is returned when no concurrency slot frees up in time.
	ErrBulkheadFull = errors.New("cache: storage bulkhead is full")
)

// RetryConfig configures retries of failed storage calls.
type RetryConfig struct {
	// MaxAttempts includes the first attempt.
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: 50ms
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 2s
	MaxDelay time.Duration

	// Multiplier grows the delay exponentially.
	// Default: 2.0
	Multiplier float64

	// Jitter adds up to 25% random delay.
	Jitter bool
}

// BreakerConfig configures the storage circuit breaker.
type BreakerConfig struct {
	// MaxFailures opens the circuit after this many consecutive failures.
	// Zero disables the breaker.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before a trial call.
	// Default: 30s
	ResetTimeout time.Duration

	// OnStateChange is called on every transition.
	OnStateChange func(from, to BreakerState)
}

// BulkheadConfig limits concurrent storage calls.
type BulkheadConfig struct {
	// MaxConcurrent is the number of calls in flight at once.
	// Zero disables the bulkhead.
	MaxConcurrent int

	// MaxWait is how long a call waits for a slot. Zero fails immediately.
	MaxWait time.Duration
}

// ResilienceConfig configures a ResilientStorage.
type ResilienceConfig struct {
	Retry    RetryConfig
	Breaker  BreakerConfig
	Bulkhead BulkheadConfig

	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

// BreakerState is the state of the storage circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ResilientStorage decorates a Storage with per-attempt timeouts, retries
// with backoff and a circuit breaker. Misses are not failures.
//
// The order per call is bulkhead, breaker, retry, then timeout per attempt.
// Cancellation of the caller's context is never retried.
type ResilientStorage struct {
	next     Storage
	retry    RetryConfig
	timeout  time.Duration
	breaker  *breaker
	slots    *semaphore.Weighted
	slotWait time.Duration
}

// NewResilientStorage wraps next.
func NewResilientStorage(next Storage, cfg ResilienceConfig) (*ResilientStorage, error) {
	if next == nil {
		return nil, ErrNilStorage
	}

	r := cfg.Retry
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 50 * time.Millisecond
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 2 * time.Second
	}
	if r.Multiplier <= 0 {
		r.Multiplier = 2.0
	}

	s := &ResilientStorage{next: next, retry: r, timeout: cfg.Timeout}
	if cfg.Breaker.MaxFailures > 0 {
		s.breaker = newBreaker(cfg.Breaker)
	}
	if cfg.Bulkhead.MaxConcurrent > 0 {
		s.slots = semaphore.NewWeighted(int64(cfg.Bulkhead.MaxConcurrent))
		s.slotWait = cfg.Bulkhead.MaxWait
	}
	return s, nil
}

func (s *ResilientStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		value, found, err = s.next.Get(ctx, key)
		return err
	})
	return value, found, err
}

func (s *ResilientStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.next.Set(ctx, key, value, ttl)
	})
}

func (s *ResilientStorage) Delete(ctx context.Context, key string) (bool, error) {
	var deleted bool
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = s.next.Delete(ctx, key)
		return err
	})
	return deleted, err
}

func (s *ResilientStorage) Has(ctx context.Context, key string) (bool, error) {
	var found bool
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		found, err = s.next.Has(ctx, key)
		return err
	})
	return found, err
}

// SupportsTTL forwards to the wrapped storage.
func (s *ResilientStorage) SupportsTTL() bool { return supportsTTL(s.next) }

// Ping forwards to the wrapped storage when it is a Pinger. Pings bypass
// retries but count towards the breaker.
func (s *ResilientStorage) Ping(ctx context.Context) error {
	p, ok := s.next.(Pinger)
	if !ok {
		return nil
	}
	if s.breaker == nil {
		return p.Ping(ctx)
	}
	return s.breaker.execute(ctx, p.Ping)
}

// BreakerState reports the breaker state; BreakerClosed when disabled.
func (s *ResilientStorage) BreakerState() BreakerState {
	if s.breaker == nil {
		return BreakerClosed
	}
	return s.breaker.current()
}

// Unwrap returns the decorated storage.
func (s *ResilientStorage) Unwrap() Storage { return s.next }

func (s *ResilientStorage) do(ctx context.Context, op func(context.Context) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	attempt := func(ctx context.Context) error {
		return s.withRetry(ctx, op)
	}
	if s.breaker == nil {
		return attempt(ctx)
	}
	return s.breaker.execute(ctx, attempt)
}

func (s *ResilientStorage) acquire(ctx context.Context) error {
	if s.slots == nil {
		return nil
	}
	if s.slots.TryAcquire(1) {
		return nil
	}
	if s.slotWait <= 0 {
		return ErrBulkheadFull
	}

	wctx, cancel := context.WithTimeout(ctx, s.slotWait)
	defer cancel()
	if err := s.slots.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBulkheadFull
	}
	return nil
}

func (s *ResilientStorage) release() {
	if s.slots != nil {
		s.slots.Release(1)
	}
}

func (s *ResilientStorage) withRetry(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for n := 1; n <= s.retry.MaxAttempts; n++ {
		err := s.withTimeout(ctx, op)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || n == s.retry.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay(n)):
		}
	}
	return lastErr
}

func (s *ResilientStorage) withTimeout(ctx context.Context, op func(context.Context) error) error {
	if s.timeout <= 0 {
		return op(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := op(tctx)
	if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}

func (s *ResilientStorage) delay(attempt int) time.Duration {
	d := time.Duration(float64(s.retry.InitialDelay) * math.Pow(s.retry.Multiplier, float64(attempt-1)))
	if d > s.retry.MaxDelay {
		d = s.retry.MaxDelay
	}
	if s.retry.Jitter && d >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}

// breaker counts consecutive failed calls and rejects calls while open.
type breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probing     bool
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &breaker{cfg: cfg}
}

func (b *breaker) execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := op(ctx)
	b.after(ctx, err)
	return err
}

func (b *breaker) current() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case BreakerOpen:
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *breaker) after(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A cancelled caller says nothing about the backend.
	failed := err != nil && ctx.Err() == nil
	from := b.state

	switch b.state {
	case BreakerClosed:
		if !failed {
			b.failures = 0
			break
		}
		b.failures++
		b.lastFailure = time.Now()
		if b.failures >= b.cfg.MaxFailures {
			b.state = BreakerOpen
		}

	case BreakerHalfOpen:
		b.probing = false
		if failed {
			b.lastFailure = time.Now()
			b.state = BreakerOpen
		} else {
			b.state = BreakerClosed
			b.failures = 0
		}
	}

	if from != b.state && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, b.state)
	}
}

func (b *breaker) stateLocked() BreakerState {
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.cfg.ResetTimeout {
		b.state = BreakerHalfOpen
		b.probing = false
		if b.cfg.OnStateChange != nil {
			b.cfg.OnStateChange(BreakerOpen, BreakerHalfOpen)
		}
	}
	return b.state
}

var (
	_ Storage     = (*ResilientStorage)(nil)
	_ TTLReporter = (*ResilientStorage)(nil)
	_ Pinger      = (*ResilientStorage)(nil)
)
