package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"entity-admin/internal/core/auth"
	resp "entity-admin/internal/transport/http/response"
)

const (
	KeyClaims = "claims"
	KeyToken  = "token"
)

// AuthJWT 只接受会话 token（reset token 不能用来访问接口）
func AuthJWT(j *auth.JWTer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ah := c.GetHeader("Authorization")
		if !strings.HasPrefix(ah, "Bearer ") {
			resp.Abort(c, resp.CodeUnauthorized, "missing token")
			return
		}
		tok := strings.TrimPrefix(ah, "Bearer ")
		claims, err := j.ParseAccess(tok)
		if err != nil {
			resp.Abort(c, resp.CodeUnauthorized, "invalid token")
			return
		}
		c.Set(KeyClaims, claims)
		c.Set(KeyToken, tok)
		c.Next()
	}
}

// ClaimsFrom 取出 AuthJWT 写入的 claims
func ClaimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(KeyClaims)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*auth.Claims)
	return cl, ok
}
