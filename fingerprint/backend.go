package fingerprint

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Backend is an atomic set of fingerprints. Add must report true to exactly
// one caller per fingerprint.
type Backend interface {
	Add(ctx context.Context, fp string) (bool, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// MemoryBackend keeps the seen-set in process memory.
type MemoryBackend struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{set: make(map[string]struct{})}
}

func (m *MemoryBackend) Add(_ context.Context, fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.set[fp]; ok {
		return false, nil
	}
	m.set[fp] = struct{}{}
	return true, nil
}

func (m *MemoryBackend) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.set), nil
}

func (m *MemoryBackend) Close() error { return nil }

// RedisBackend keeps the seen-set in a Redis set so several crawler
// processes can share one run key.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend connects to addr and verifies the server is reachable.
func NewRedisBackend(ctx context.Context, addr string, db int, key string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisBackend{client: client, key: key}, nil
}

// Add relies on SADD returning 1 only for the member's first insertion.
func (r *RedisBackend) Add(ctx context.Context, fp string) (bool, error) {
	n, err := r.client.SAdd(ctx, r.key, fp).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisBackend) Len(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Reset removes the run key, used for fresh runs.
func (r *RedisBackend) Reset(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
