package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ErrMiss 缓存未命中
var ErrMiss = errors.New("cache miss")

// Backend 缓存存储；redis 与进程内实现可互换
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

type RedisBackend struct{ RDB *redis.Client }

func NewRedis(addr, pass string, db int) *RedisBackend {
	return &RedisBackend{RDB: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.RDB.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (r *RedisBackend) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.RDB.Set(ctx, key, val, ttl).Err()
}

// DeletePrefix 用 SCAN 遍历，避免 KEYS 阻塞
func (r *RedisBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	iter := r.RDB.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		if err := r.RDB.Del(ctx, iter.Val()).Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, iter.Err()
}

func (r *RedisBackend) Ping(ctx context.Context) error { return r.RDB.Ping(ctx).Err() }
func (r *RedisBackend) Close() error                   { return r.RDB.Close() }

// MemoryBackend 未配置 redis 时的进程内实现
type MemoryBackend struct{ c *gocache.Cache }

func NewMemory(defaultTTL time.Duration) *MemoryBackend {
	return &MemoryBackend{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	b, _ := v.([]byte)
	return b, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.c.Set(key, val, ttl)
	return nil
}

func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	var n int
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			m.c.Delete(k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }
func (m *MemoryBackend) Close() error               { return nil }
