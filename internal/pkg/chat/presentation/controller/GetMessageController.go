package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"go-leadchat/internal/pkg/chat/application/usecase"
	"go-leadchat/internal/pkg/chat/protocol"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
)

const defaultPageSize = 50

// GetMessageController returns a page of a conversation's history in append order.
type GetMessageController struct {
	UC *usecase.GetMessageUseCase
}

func NewGetMessageController(repo repository.ChatRepository) *GetMessageController {
	return &GetMessageController{UC: usecase.NewGetMessageUseCase(repo)}
}

func (h *GetMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chatId")

		limit, offset := defaultPageSize, 0
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		if v := c.Query("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		ctx, cancel := requestContext(c)
		defer cancel()
		msgs, err := h.UC.Execute(ctx, usecase.GetMessageInput{
			ConversationID: chatID,
			UserID:         currentUser(c),
			Limit:          limit,
			Offset:         offset,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}

		out := make([]protocol.MessageEvent, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, protocol.NewMessageEvent(m, ""))
		}
		c.JSON(http.StatusOK, gin.H{
			"messages": out,
			"limit":    limit,
			"offset":   offset,
			"count":    len(out),
		})
	}
}
