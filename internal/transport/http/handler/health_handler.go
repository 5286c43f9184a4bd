package handler

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"entity-admin/internal/core/cache"
	"entity-admin/internal/core/database"
	"entity-admin/internal/core/logger"
	resp "entity-admin/internal/transport/http/response"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

type HealthHandler struct {
	db      *gorm.DB
	cache   *cache.Cache
	files   *logger.Files
	started time.Time
	timeout time.Duration
	log     *zap.Logger
}

func NewHealthHandler(db *gorm.DB, c *cache.Cache, files *logger.Files, l *zap.Logger) *HealthHandler {
	if l == nil {
		l = zap.NewNop()
	}
	return &HealthHandler{db: db, cache: c, files: files, started: time.Now(), timeout: 2 * time.Second, log: l.With(zap.String("handler", "health"))}
}

type Check struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ServerCheck struct {
	Status      string      `json:"status"`
	Uptime      float64     `json:"uptime"` // 秒
	MemoryUsage MemoryUsage `json:"memoryUsage"`
}

type MemoryUsage struct {
	Alloc      string `json:"alloc"`
	TotalAlloc string `json:"totalAlloc"`
	Sys        string `json:"sys"`
	HeapInuse  string `json:"heapInuse"`
	NumGC      uint32 `json:"numGC"`
}

type HealthReport struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Database  Check       `json:"database"`
	Cache     Check       `json:"cache"`
	Server    ServerCheck `json:"server"`
}

func (h *HealthHandler) Mount(g *gin.RouterGroup) {
	g.GET("", h.health)
	g.GET("/clear-cache", h.clearCache)
	g.GET("/clear-logs", h.clearLogs)
}

func (h *HealthHandler) health(c *gin.Context) {
	rep := h.Report(c.Request.Context())
	if rep.Status != statusHealthy {
		h.log.Warn("health: unhealthy", zap.String("db", rep.Database.Error), zap.String("cache", rep.Cache.Error))
		resp.JSON(c, resp.New(resp.CodeServerError, statusUnhealthy, rep))
		return
	}
	resp.JSON(c, resp.OK(rep))
}

// Report 并发探测数据库与缓存
func (h *HealthHandler) Report(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	rep := HealthReport{Timestamp: time.Now().UTC()}
	var g errgroup.Group
	g.Go(func() error {
		rep.Database = toCheck(database.Ping(ctx, h.db))
		return nil
	})
	g.Go(func() error {
		if h.cache == nil {
			rep.Cache = Check{Status: statusHealthy}
			return nil
		}
		rep.Cache = toCheck(h.cache.Ping(ctx))
		return nil
	})
	_ = g.Wait()

	rep.Server = ServerCheck{Status: statusHealthy, Uptime: time.Since(h.started).Seconds(), MemoryUsage: memoryUsage()}
	rep.Status = statusHealthy
	if rep.Database.Status != statusHealthy || rep.Cache.Status != statusHealthy {
		rep.Status = statusUnhealthy
	}
	return rep
}

func toCheck(err error) Check {
	if err != nil {
		return Check{Status: statusUnhealthy, Error: err.Error()}
	}
	return Check{Status: statusHealthy}
}

func memoryUsage() MemoryUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryUsage{
		Alloc:      mb(m.Alloc),
		TotalAlloc: mb(m.TotalAlloc),
		Sys:        mb(m.Sys),
		HeapInuse:  mb(m.HeapInuse),
		NumGC:      m.NumGC,
	}
}

func mb(b uint64) string {
	return strconv.FormatFloat(float64(b)/1024/1024, 'f', 2, 64) + " MB"
}

func (h *HealthHandler) clearCache(c *gin.Context) {
	if h.cache == nil {
		resp.JSON(c, resp.OK(gin.H{"message": "Cache cleared successfully", "deleted": 0}))
		return
	}
	n, err := h.cache.Purge(c.Request.Context())
	if err != nil {
		h.log.Warn("health: clearCache failed", zap.Error(err))
		_ = c.Error(err)
		resp.JSON(c, resp.Error(resp.CodeServerError, ""))
		return
	}
	h.log.Info("health: cache cleared", zap.Int("keys", n))
	resp.JSON(c, resp.OK(gin.H{"message": "Cache cleared successfully", "deleted": n}))
}

func (h *HealthHandler) clearLogs(c *gin.Context) {
	n, err := h.files.Clear()
	if err != nil {
		h.log.Warn("health: clearLogs failed", zap.Error(err))
		_ = c.Error(err)
		resp.JSON(c, resp.Error(resp.CodeServerError, ""))
		return
	}
	h.log.Info("health: log files cleared", zap.Int("files", n))
	resp.JSON(c, resp.OK(gin.H{"message": "All log files have been cleared.", "deleted": n}))
}
