package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"entity-admin/internal/core/auth"
	"entity-admin/internal/core/server"
	"entity-admin/internal/transport/http/ez"
	"entity-admin/internal/transport/http/handler"
	mdw "entity-admin/internal/transport/http/middleware"
	resp "entity-admin/internal/transport/http/response"
)

// Limits 请求级限制；零值表示不限制
type Limits struct {
	MaxInFlight    int64
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

type Deps struct {
	Log    *zap.Logger
	Mode   string
	JWT    *auth.JWTer
	Users  *handler.UserHandler
	Auth   *handler.AuthHandler
	Health *handler.HealthHandler
	Limits Limits
}

type authModule struct {
	h   *handler.AuthHandler
	jwt *auth.JWTer
}

func (m authModule) Priority() int { return 10 }

func (m authModule) MountAPI(api *gin.RouterGroup) {
	public := api.Group("/auth")
	authed := api.Group("/auth", mdw.AuthJWT(m.jwt))
	m.h.Mount(public, authed)
}

type usersModule struct {
	h   *handler.UserHandler
	jwt *auth.JWTer
}

func (m usersModule) MountAPI(api *gin.RouterGroup) {
	m.h.Mount(api.Group("/users", mdw.AuthJWT(m.jwt)))
}

func NewAPIEngine(d Deps) *gin.Engine {
	l := d.Log
	if l == nil {
		l = zap.NewNop()
	}
	ez.RegisterValidators()

	r := server.NewRouter(server.Options{Name: "api", Mode: d.Mode}, mdw.Recovery(l))

	// 中间件
	var chain []gin.HandlerFunc
	chain = append(chain,
		mdw.RequestID(),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})),
	)
	if d.Limits.MaxInFlight > 0 {
		chain = append(chain, mdw.ConcurrencyLimit(d.Limits.MaxInFlight))
	}
	if d.Limits.MaxBodyBytes > 0 {
		chain = append(chain, mdw.MaxBodyBytes(d.Limits.MaxBodyBytes))
	}
	chain = append(chain,
		mdw.Timeout(d.Limits.RequestTimeout),
		mdw.Metrics(),
		mdw.AccessLog(l),
	)
	r.Use(chain...)

	r.NoRoute(func(c *gin.Context) {
		resp.JSON(c, resp.Error(resp.CodeNotFound, "route not found"))
	})
	r.GET("/metrics", mdw.MetricsHandler())

	// 健康检查
	if d.Health != nil {
		d.Health.Mount(r.Group("/health"))
	} else {
		r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": 1}) })
	}

	// 前缀
	api := r.Group("/api/v1")
	var reg Registry
	if d.Auth != nil {
		reg.Register(authModule{h: d.Auth, jwt: d.JWT})
	}
	if d.Users != nil {
		reg.Register(usersModule{h: d.Users, jwt: d.JWT})
	}
	reg.MountAll(api)

	return r
}
