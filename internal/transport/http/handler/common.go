package handler

import (
	"context"

	"go.uber.org/zap"

	"entity-admin/internal/core/cache"
)

// cached 有缓存走缓存，否则直接回源
func cached[T any](ctx context.Context, c *cache.Cache, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	return cache.GetOrLoadJSON(c, ctx, key, 0, load)
}

// purge 写操作后清空响应缓存；失败只记日志
func purge(ctx context.Context, c *cache.Cache, l *zap.Logger) {
	if c == nil {
		return
	}
	n, err := c.Purge(ctx)
	if err != nil {
		l.Warn("cache: purge failed", zap.Error(err))
		return
	}
	l.Debug("cache: purged", zap.Int("keys", n))
}
