package controller

import (
	"github.com/gin-gonic/gin"

	"go-leadchat/internal/infrastructure/metrics"
	"go-leadchat/internal/pkg/auth"
)

const userIDKey = "leadchat.userID"

// RequireUser resolves the caller with authn and aborts with 401 when it cannot.
func RequireUser(authn auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := authn.ResolveUserID(c.Request.Context(), authn.Credential(c.Request))
		if err != nil {
			kind, status, detail := classify(err)
			metrics.GatewayErrors.WithLabelValues(kind).Inc()
			c.AbortWithStatusJSON(status, gin.H{"kind": kind, "error": detail})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func abortWithError(c *gin.Context, err error) {
	kind, status, detail := classify(err)
	c.AbortWithStatusJSON(status, gin.H{"kind": kind, "error": detail})
}
