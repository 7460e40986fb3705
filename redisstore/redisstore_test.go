package redisstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/keycache/cache"
)

// newTestClient skips the test when no Redis listens on localhost:6379.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	return NewFromClient(newTestClient(t), "keycache-test:"+uuid.NewString()+":")
}

func TestStorage_RoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, found, err := s.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("Get(missing) = %v, %v", found, err)
	}
	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, found, err := s.Get(ctx, "k")
	if err != nil || !found || string(got) != "v" {
		t.Fatalf("Get(k) = %q, %v, %v", got, found, err)
	}
	if has, _ := s.Has(ctx, "k"); !has {
		t.Error("Has(k) = false")
	}
	if deleted, _ := s.Delete(ctx, "k"); !deleted {
		t.Error("Delete(k) = false, want true")
	}
	if deleted, _ := s.Delete(ctx, "k"); deleted {
		t.Error("second Delete(k) = true, want false")
	}
}

func TestStorage_TTL(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), 100*time.Millisecond)
	time.Sleep(250 * time.Millisecond)

	if has, _ := s.Has(ctx, "k"); has {
		t.Error("key outlived its TTL")
	}
	if !s.SupportsTTL() {
		t.Error("SupportsTTL() = false")
	}
}

func TestStorage_Prefix(t *testing.T) {
	client := newTestClient(t)
	prefix := "keycache-test:" + uuid.NewString() + ":"
	s := NewFromClient(client, prefix)
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), time.Minute)

	n, err := client.Exists(ctx, prefix+"k").Result()
	if err != nil || n != 1 {
		t.Errorf("raw key %q not found: %d, %v", prefix+"k", n, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on a borrowed client = %v", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		t.Errorf("borrowed client closed by Storage: %v", err)
	}
}

func TestNotifier_PublishSubscribe(t *testing.T) {
	client := newTestClient(t)
	n := NewNotifier(client, "keycache-test:"+uuid.NewString(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan cache.RefreshSignal, 1)
	if err := n.Subscribe(ctx, func(_ context.Context, sig cache.RefreshSignal) { got <- sig }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	want := cache.RefreshSignal{Key: "settings", Origin: "engine-a"}
	if err := n.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case sig := <-got:
		if sig != want {
			t.Errorf("received %+v, want %+v", sig, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("signal not delivered")
	}
}

func TestNotifier_MalformedPayload(t *testing.T) {
	client := newTestClient(t)
	var bad atomic.Int64
	n := NewNotifier(client, "keycache-test:"+uuid.NewString(), func(error) { bad.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = n.Subscribe(ctx, func(context.Context, cache.RefreshSignal) {
		t.Error("handler called for a malformed payload")
	})

	_ = client.Publish(ctx, n.Channel(), "not json").Err()

	deadline := time.Now().Add(2 * time.Second)
	for bad.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if bad.Load() != 1 {
		t.Errorf("onError calls = %d, want 1", bad.Load())
	}
}

// Two engines on one Redis: a bust issued by the engine that does not own a
// persistent entry makes the owner refresh it.
func TestEngines_SharedRedis(t *testing.T) {
	client := newTestClient(t)
	prefix := "keycache-test:" + uuid.NewString() + ":"
	notifier := NewNotifier(client, prefix+"refresh", nil)
	ctx := context.Background()

	owner, err := cache.New(NewFromClient(client, prefix), cache.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	defer owner.Close()
	other, err := cache.New(NewFromClient(client, prefix), cache.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	defer other.Close()

	var version atomic.Int64
	version.Store(1)
	_, err = cache.Wrap(owner, cache.Options{Kind: cache.Persistent, Key: "settings"},
		func(context.Context, ...any) (int64, error) { return version.Load(), nil })
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	list, err := cache.Wrap(other, cache.Options{Kind: cache.Temporal, Key: "items", TTL: time.Minute, Params: []int{0}},
		func(_ context.Context, args ...any) (string, error) { return args[0].(string), nil })
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	if err := owner.Start(ctx); err != nil {
		t.Fatalf("owner.Start() error = %v", err)
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("other.Start() error = %v", err)
	}

	// The child index is shared through Redis.
	_, _ = list(ctx, "a")
	children, err := owner.Children(ctx, "items")
	if err != nil || len(children) != 1 {
		t.Errorf("owner.Children(items) = %v, %v; want the child written by other", children, err)
	}

	version.Store(2)
	if err := other.Invalidate(ctx, nil, cache.BustTarget{Key: "settings"}); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	storage := NewFromClient(client, prefix)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if raw, found, _ := storage.Get(ctx, "settings"); found && string(raw) == "2" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("owner did not refresh the persistent entry after a remote bust")
}
