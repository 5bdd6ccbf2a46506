package jwt

import (
	"strings"

	"ChatBase/pkg/back"
	"ChatBase/pkg/util/myjwt"
	"ChatBase/pkg/xerr"

	"github.com/gin-gonic/gin"
)

// Auth 面板接口的登录校验。通过后把 uuid/username 放进请求上下文，
// 下游 handler 用 uuid 做机器人归属校验。
// 小部件和 webhook 路由不挂这个中间件，它们没有登录态。
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			back.Error(c, xerr.Unauthorized, "missing or invalid authorization header")
			c.Abort()
			return
		}

		claims, err := myjwt.ParseToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			back.Error(c, xerr.Unauthorized, "invalid token")
			c.Abort()
			return
		}

		c.Set("uuid", claims.Uuid)
		c.Set("username", claims.Username)
		c.Next()
	}
}
