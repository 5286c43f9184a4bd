package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"entity-admin/internal/app"
	"entity-admin/internal/core/config"
	"entity-admin/internal/core/logger"
	"entity-admin/internal/core/server"
	"entity-admin/internal/transport/http/handler"
	"entity-admin/internal/transport/http/router"
)

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad(os.Getenv("CONFIG_PATH"))
	log, files, cleanup := logger.New(logger.Options{
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
		Rotate: logger.FileRotate{
			Enable:     cfg.Log.Rotate.Enable,
			Filename:   cfg.Log.Rotate.Filename,
			MaxSizeMB:  cfg.Log.Rotate.MaxSizeMB,
			MaxBackups: cfg.Log.Rotate.MaxBackups,
			MaxAgeDays: cfg.Log.Rotate.MaxAgeDays,
			Compress:   cfg.Log.Rotate.Compress,
		},
	})
	defer cleanup()
	restore := logger.RedirectStdLog(log, zapcore.InfoLevel)
	defer restore()
	// gin 自身的调试/错误输出也进 zap
	gin.DefaultWriter = logger.ToWriter(log, zapcore.DebugLevel)
	gin.DefaultErrorWriter = logger.ToWriter(log, zapcore.ErrorLevel)

	// 依赖（失败直接 Fatal）
	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()

	maxBody := int64(cfg.App.HTTP.MaxBodyMB) << 20
	if cfg.Upload.MaxBytes > maxBody {
		maxBody = cfg.Upload.MaxBytes
	}

	// 路由
	r := router.NewAPIEngine(router.Deps{
		Log:    log,
		Mode:   server.ModeFor(cfg.App.Env),
		JWT:    a.JWT,
		Users:  handler.NewUserHandler(a.Users, a.Pipeline, a.Cache, cfg.Upload.Dir, log),
		Auth:   handler.NewAuthHandler(a.Auth, a.Cache, log),
		Health: handler.NewHealthHandler(a.DB, a.Cache, files, log),
		Limits: router.Limits{
			MaxInFlight:    int64(cfg.App.HTTP.MaxInFlight),
			MaxBodyBytes:   maxBody,
			RequestTimeout: time.Duration(cfg.App.HTTP.RequestTimeoutSec) * time.Second,
		},
	})

	// HTTP Server
	addr := server.Addr(cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	srv := server.BuildServer(
		addr, r,
		time.Duration(cfg.App.HTTP.ReadTimeoutSec)*time.Second,
		time.Duration(cfg.App.HTTP.WriteTimeoutSec)*time.Second,
		time.Duration(cfg.App.HTTP.IdleTimeoutSec)*time.Second,
	)

	// 启动日志
	host4human := cfg.App.HTTP.Host
	if host4human == "" || host4human == "0.0.0.0" {
		host4human = "127.0.0.1"
	}
	baseURL := "http://" + host4human + ":" + fmt.Sprint(cfg.App.HTTP.Port)
	log.Info("api starting",
		zap.String("addr", addr),
		zap.String("open", baseURL),
		zap.String("health", baseURL+"/health"),
		zap.String("api_v1", baseURL+"/api/v1"),
	)

	// 异步启动
	errCh := make(chan error, 1)
	go func() { errCh <- server.StartHTTP(srv, log) }()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			log.Error("api start FAILED", zap.Error(err))
		}
		return
	case sig := <-quit:
		log.Info("api shutting down", zap.String("signal", sig.String()))
	}
	if err := server.Shutdown(srv, 10*time.Second); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}
	log.Info("api stopped gracefully")
}
