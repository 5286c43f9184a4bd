package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache 响应缓存：Backend + singleflight 合并回源
type Cache struct {
	Backend Backend
	Prefix  string
	TTL     time.Duration
	sf      singleflight.Group
}

func New(b Backend, prefix string, ttl time.Duration) *Cache {
	return &Cache{Backend: b, Prefix: prefix, TTL: ttl}
}

func (c *Cache) Key(parts ...string) string {
	k := c.Prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	// 先读缓存
	if b, err := c.Backend.Get(ctx, key); err == nil {
		return b, nil
	}
	// single flight 合并回源
	v, err, _ := c.sf.Do(key, func() (any, error) {
		b, e := load(ctx)
		if e != nil {
			return nil, e
		}
		if ttl <= 0 {
			ttl = c.TTL
		}
		_ = c.Backend.Set(ctx, key, b, ttl)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Purge 清除本服务写入的全部缓存键
func (c *Cache) Purge(ctx context.Context) (int, error) {
	return c.Backend.DeletePrefix(ctx, c.Prefix)
}

func (c *Cache) Ping(ctx context.Context) error { return c.Backend.Ping(ctx) }
