package app

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"entity-admin/internal/core/auth"
	"entity-admin/internal/core/cache"
	"entity-admin/internal/core/config"
	"entity-admin/internal/core/database"
	"entity-admin/internal/core/mail"
	"entity-admin/internal/csvimport"
	"entity-admin/internal/repo"
	"entity-admin/internal/service"
	"entity-admin/pkg/utils"
)

// App 两个入口共享的依赖
type App struct {
	Cfg      *config.Config
	Log      *zap.Logger
	DB       *gorm.DB
	Cache    *cache.Cache
	JWT      *auth.JWTer
	Users    *service.UserService
	Auth     *service.AuthService
	Pipeline *csvimport.Pipeline
}

// New 连接数据库、按配置迁移，并组装服务；缓存与邮件按配置选择实现
func New(cfg *config.Config, l *zap.Logger) (*App, error) {
	db, err := database.NewGorm(database.Opts{
		Driver:             cfg.DB.Driver,
		DSN:                cfg.DB.DSN,
		Username:           cfg.DB.Username,
		Password:           cfg.DB.Password,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.DB.ConnMaxLifetimeMin,
		LogLevel:           cfg.DB.LogLevel,
		Log:                l,
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	l.Info("database connected", zap.String("driver", cfg.DB.Driver))

	if cfg.DB.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			_ = database.Close(db)
			return nil, fmt.Errorf("automigrate: %w", err)
		}
		l.Info("automigrate done")
	}

	userRepo, err := repo.NewUserRepo(db, l)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	hasher := utils.NewHasher(cfg.Hash.Cost)
	users := service.NewUserService(userRepo, hasher, l)

	tpl, err := mail.LoadTemplates()
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	jwter := &auth.JWTer{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		TTL:      cfg.JWT.AccessTTL(),
		ResetTTL: cfg.JWT.ResetTTL(),
	}

	return &App{
		Cfg:      cfg,
		Log:      l,
		DB:       db,
		Cache:    cache.New(newBackend(cfg, l), cfg.Cache.Prefix, cfg.Cache.TTL()),
		JWT:      jwter,
		Users:    users,
		Auth:     service.NewAuthService(users, jwter, newSender(cfg, l), tpl, cfg.App.URL, l),
		Pipeline: csvimport.New(hasher, l),
	}, nil
}

func newBackend(cfg *config.Config, l *zap.Logger) cache.Backend {
	if cfg.Redis.Addr == "" {
		l.Info("cache: in-process")
		return cache.NewMemory(cfg.Cache.TTL())
	}
	l.Info("cache: redis", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
	return cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
}

func newSender(cfg *config.Config, l *zap.Logger) mail.Sender {
	if !cfg.Mail.Enabled() {
		l.Warn("mail: smtp host empty, e-mails are only logged")
		return mail.LogSender{Log: l}
	}
	return &mail.SMTPSender{
		Host:    cfg.Mail.Host,
		Port:    cfg.Mail.Port,
		From:    cfg.Mail.FromHeader(),
		User:    cfg.Mail.User,
		Pass:    cfg.Mail.Password,
		TLSMode: cfg.Mail.TLSMode,
		Log:     l,
	}
}

// Close 关闭缓存与数据库连接
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil && a.Cache.Backend != nil {
		errs = append(errs, a.Cache.Backend.Close())
	}
	errs = append(errs, database.Close(a.DB))
	return errors.Join(errs...)
}
