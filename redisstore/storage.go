package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/keycache/cache"
)

// DefaultKeyPrefix namespaces every key written by Storage.
const DefaultKeyPrefix = "keycache:"

// Config holds connection settings for a Redis-backed storage.
type Config struct {
	Addr      string // e.g. "localhost:6379"
	Password  string
	DB        int
	KeyPrefix string // default: DefaultKeyPrefix
}

// Storage implements cache.Storage on Redis.
type Storage struct {
	client *redis.Client
	prefix string
	owned  bool
}

// New opens a client for cfg. Close releases it.
func New(cfg Config) *Storage {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := NewFromClient(client, cfg.KeyPrefix)
	s.owned = true
	return s
}

// NewFromClient uses an existing client. Close leaves it open.
func NewFromClient(client *redis.Client, prefix string) *Storage {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Storage{client: client, prefix: prefix}
}

// Client returns the underlying client.
func (s *Storage) Client() *redis.Client { return s.client }

func (s *Storage) key(k string) string {
	return s.prefix + k
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores value; ttl <= 0 stores without expiry.
func (s *Storage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *Storage) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Storage) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SupportsTTL reports native expiry.
func (s *Storage) SupportsTTL() bool { return true }

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client when Storage created it.
func (s *Storage) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

var (
	_ cache.Storage     = (*Storage)(nil)
	_ cache.TTLReporter = (*Storage)(nil)
	_ cache.Pinger      = (*Storage)(nil)
)
