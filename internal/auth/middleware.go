package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAPIKey は API キーを検証するミドルウェアを返します。
// 認証が無効な場合はそのまま通します。
func (m *Manager) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.required {
			c.Next()
			return
		}

		key := c.GetHeader(m.header)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "API key required",
			})
			return
		}

		if !m.Verify(key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "Invalid API key",
			})
			return
		}

		c.Set(ContextClientKey, key)
		c.Next()
	}
}
