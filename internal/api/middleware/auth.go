package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tolkhub/jobwatch/internal/backend"
	"github.com/tolkhub/jobwatch/internal/pkg/jwt"
	"github.com/tolkhub/jobwatch/internal/pkg/response"
)

const (
	UserIDKey = "userID"
	TokenKey  = "accessToken"
)

// Auth JWT 认证中间件。令牌原样保存，后端调用时转发给托管后端
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "Sign in to continue")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			response.AuthError(c, "Malformed authorization header")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "Your session is invalid or has expired")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID())
		c.Set(TokenKey, tokenString)
		c.Next()
	}
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok && id != ""
}

// RequestContext 返回携带用户令牌与 ID 的请求 context
func RequestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if token := c.GetString(TokenKey); token != "" {
		ctx = backend.WithAccessToken(ctx, token)
	}
	if userID, ok := GetUserID(c); ok {
		ctx = backend.WithUserID(ctx, userID)
	}
	return ctx
}
