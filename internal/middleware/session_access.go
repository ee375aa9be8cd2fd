package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-amnesia-go/internal/service"
	"llm-amnesia-go/pkg/log"
)

// SessionAccessMiddleware 检查当前用户能否访问路径中的 :sessionId。
// 此中间件必须在 AuthMiddleware 之后使用。
func SessionAccessMiddleware(access service.SessionAccessService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
			return
		}

		sessionID := c.Param("sessionId")
		allowed, err := access.CanAccess(c.Request.Context(), sessionID, claims.UserID)
		if err != nil {
			log.Errorw("检查会话权限失败", "sessionId", sessionID, "userId", claims.UserID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "检查会话权限失败"})
			return
		}
		if !allowed {
			log.Warnw("拒绝访问会话", "sessionId", sessionID, "userId", claims.UserID)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "无权访问该会话"})
			return
		}
		c.Next()
	}
}
