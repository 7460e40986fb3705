package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// recordingStorage counts calls per operation and fails operations on keys
// listed in failOn (key -> op, "*" for any op).
type recordingStorage struct {
	next Storage

	mu     sync.Mutex
	calls  map[string]int
	failOn map[string]string
}

func newRecordingStorage() *recordingStorage {
	return &recordingStorage{
		next:   NewMemoryStorage(),
		calls:  make(map[string]int),
		failOn: make(map[string]string),
	}
}

func (s *recordingStorage) record(op, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[op]++
	if want, ok := s.failOn[key]; ok && (want == "*" || want == op) {
		return errBackend
	}
	return nil
}

func (s *recordingStorage) fail(key, op string) {
	s.mu.Lock()
	s.failOn[key] = op
	s.mu.Unlock()
}

func (s *recordingStorage) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *recordingStorage) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *recordingStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.record("get", key); err != nil {
		return nil, false, err
	}
	return s.next.Get(ctx, key)
}

func (s *recordingStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.record("set", key); err != nil {
		return err
	}
	return s.next.Set(ctx, key, value, ttl)
}

func (s *recordingStorage) Delete(ctx context.Context, key string) (bool, error) {
	if err := s.record("delete", key); err != nil {
		return false, err
	}
	return s.next.Delete(ctx, key)
}

func (s *recordingStorage) Has(ctx context.Context, key string) (bool, error) {
	if err := s.record("has", key); err != nil {
		return false, err
	}
	return s.next.Has(ctx, key)
}

// counter is a computation whose result is its call count.
type counter struct {
	n atomic.Int64
}

func (c *counter) fn(_ context.Context, _ ...any) (int64, error) {
	return c.n.Add(1), nil
}

func (c *counter) calls() int64 { return c.n.Load() }

func newTestEngine(tb testing.TB, s Storage, opts ...EngineOption) *Engine {
	e, err := New(s, opts...)
	if err != nil {
		tb.Fatalf("New() error = %v", err)
	}
	tb.Helper()
	tb.Cleanup(func() { _ = e.Close() })
	return e
}

func mustWrap[T any](tb testing.TB, e *Engine, opts Options, fn Func[T]) Func[T] {
	w, err := Wrap(e, opts, fn)
	if err != nil {
		tb.Fatalf("Wrap(%+v) error = %v", opts, err)
	}
	return w
}

// eventually polls cond until it holds or the deadline passes.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
