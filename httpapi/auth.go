package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/roma-frontend/fitauth"
	"github.com/roma-frontend/fitauth/middleware"
)

const tokenInfoKey = "fitauth.token"

func clientMetadata() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(middleware.ClientMetadata(c.Request, c.ClientIP()))
		c.Next()
	}
}

func (h *Handler) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		info, err := h.Engine.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(tokenInfoKey, info)
		c.Request = c.Request.WithContext(middleware.WithTokenInfo(c.Request.Context(), info))
		c.Next()
	}
}

func (h *Handler) requirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.Roles.Allows(caller(c).Role, perm) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func caller(c *gin.Context) fitauth.TokenInfo {
	info, _ := c.MustGet(tokenInfoKey).(fitauth.TokenInfo)
	return info
}
