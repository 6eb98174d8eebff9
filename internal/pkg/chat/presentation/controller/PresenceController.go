package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// OnlineChecker reports whether a user has a live connection.
type OnlineChecker interface {
	IsOnline(userID string) bool
}

// LastSeenReader returns when a user last left a conversation.
type LastSeenReader interface {
	LastSeen(ctx context.Context, userID string) (time.Time, bool)
}

// PresenceController answers whether a user is online on this node and when
// they were last seen.
type PresenceController struct {
	online   OnlineChecker
	lastSeen LastSeenReader
}

func NewPresenceController(online OnlineChecker, lastSeen LastSeenReader) *PresenceController {
	return &PresenceController{online: online, lastSeen: lastSeen}
}

func (h *PresenceController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		out := gin.H{"userId": userID, "isOnline": h.online.IsOnline(userID)}

		ctx, cancel := requestContext(c)
		defer cancel()
		if ts, ok := h.lastSeen.LastSeen(ctx, userID); ok {
			out["lastSeen"] = ts
		}
		c.JSON(http.StatusOK, out)
	}
}
