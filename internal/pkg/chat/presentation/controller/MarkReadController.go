package controller

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-leadchat/internal/pkg/chat/protocol"
)

// ReadMarker is the session read path used outside a websocket.
type ReadMarker interface {
	MarkReadDetached(ctx context.Context, conversationID, readerID, upToMessageID string) (int64, error)
}

// MarkReadController marks the counterpart's messages read up to a message id.
type MarkReadController struct {
	Marker ReadMarker
}

func NewMarkReadController(marker ReadMarker) *MarkReadController {
	return &MarkReadController{Marker: marker}
}

type markReadRequest struct {
	UpToMessageID string `json:"upToMessageId" binding:"required"`
}

func (h *MarkReadController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req markReadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"kind": protocol.KindProtocolError, "error": err.Error()})
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()
		n, err := h.Marker.MarkReadDetached(ctx, c.Param("chatId"), currentUser(c), req.UpToMessageID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": n})
	}
}
