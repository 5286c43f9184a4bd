package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"entity-admin/internal/core/cache"
	"entity-admin/internal/domain"
	"entity-admin/internal/service"
	"entity-admin/internal/transport/http/ez"
	mdw "entity-admin/internal/transport/http/middleware"
)

type AuthHandler struct {
	svc   *service.AuthService
	cache *cache.Cache
	log   *zap.Logger
}

func NewAuthHandler(svc *service.AuthService, c *cache.Cache, l *zap.Logger) *AuthHandler {
	if l == nil {
		l = zap.NewNop()
	}
	return &AuthHandler{svc: svc, cache: c, log: l.With(zap.String("handler", "auth"))}
}

type tokenOut struct {
	Token string `json:"token"`
}

// Mount public 为 /auth，authed 为挂了 AuthJWT 的 /auth
func (h *AuthHandler) Mount(public, authed *gin.RouterGroup) {
	pub := ez.New(public)

	ez.RegisterAction(pub, ez.Action[domain.LoginDTO, service.LoginResult]{
		Method: http.MethodPost,
		Path:   "/login",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *domain.LoginDTO) (service.LoginResult, error) {
			return h.svc.Login(c.Request.Context(), *in)
		},
	})

	ez.RegisterAction(pub, ez.Action[domain.CreateUserDTO, service.LoginResult]{
		Method: http.MethodPost,
		Path:   "/register",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *domain.CreateUserDTO) (service.LoginResult, error) {
			res, err := h.svc.Register(c.Request.Context(), *in)
			if err == nil {
				purge(c.Request.Context(), h.cache, h.log)
			}
			return res, err
		},
	})

	ez.RegisterAction(pub, ez.Action[domain.ForgotPasswordDTO, service.MessageResult]{
		Method: http.MethodPost,
		Path:   "/forgot-password",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *domain.ForgotPasswordDTO) (service.MessageResult, error) {
			return h.svc.ForgotPassword(c.Request.Context(), in.Email)
		},
	})

	ez.RegisterAction(pub, ez.Action[domain.ResetPasswordDTO, service.MessageResult]{
		Method: http.MethodPost,
		Path:   "/reset-password",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *domain.ResetPasswordDTO) (service.MessageResult, error) {
			return h.svc.ResetPassword(c.Request.Context(), *in)
		},
	})

	sec := ez.New(authed)

	ez.RegisterAction(sec, ez.Action[struct{}, tokenOut]{
		Method: http.MethodPost,
		Path:   "/extend-token",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (tokenOut, error) {
			tok, err := h.svc.ExtendToken(c.Request.Context(), c.GetString(mdw.KeyToken))
			return tokenOut{Token: tok}, err
		},
	})

	ez.RegisterAction(sec, ez.Action[struct{}, service.LogoutResult]{
		Method: http.MethodPost,
		Path:   "/logout",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (service.LogoutResult, error) {
			return h.svc.Logout(c.Request.Context(), c.GetString(mdw.KeyToken))
		},
	})
}
