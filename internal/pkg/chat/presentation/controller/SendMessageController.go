package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	queueport "go-leadchat/internal/infrastructure/queue/port"
	chat "go-leadchat/internal/pkg/chat/application/domain"
	"go-leadchat/internal/pkg/chat/application/task"
	"go-leadchat/internal/pkg/chat/protocol"
)

const sendMaxRetry = 3

// MessageSender is the session send path used outside a websocket.
type MessageSender interface {
	SendDetached(ctx context.Context, conversationID, senderID, recipientID, content string) (*chat.Message, error)
}

// SendMessageController sends a message over HTTP, either synchronously through
// the session or deferred through the queue when ?async=true.
type SendMessageController struct {
	Sender MessageSender
	Q      queueport.Client
	logger *zap.Logger
}

// NewSendMessageController builds the controller. q may be nil, which disables
// async sends.
func NewSendMessageController(sender MessageSender, q queueport.Client, logger *zap.Logger) *SendMessageController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendMessageController{Sender: sender, Q: q, logger: logger}
}

type sendMessageRequest struct {
	RecipientID string `json:"recipientId" binding:"required"`
	Content     string `json:"content"`
	ClientID    string `json:"clientId"`
}

func (h *SendMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chatId")
		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"kind": protocol.KindProtocolError, "error": err.Error()})
			return
		}
		if _, err := chat.NormalizeContent(req.Content); err != nil {
			abortWithError(c, err)
			return
		}

		if async, _ := strconv.ParseBool(c.Query("async")); async {
			h.enqueue(c, chatID, req)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()
		msg, err := h.Sender.SendDetached(ctx, chatID, currentUser(c), req.RecipientID, req.Content)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, protocol.NewMessageEvent(*msg, req.ClientID))
	}
}

func (h *SendMessageController) enqueue(c *gin.Context, chatID string, req sendMessageRequest) {
	if h.Q == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"kind": protocol.KindStoreUnavailable, "error": "async sends are disabled"})
		return
	}
	t, err := task.NewSendMessageTask(task.SendMessageTaskPayload{
		ConversationID: chatID,
		SenderID:       currentUser(c),
		RecipientID:    req.RecipientID,
		Content:        req.Content,
		ClientID:       req.ClientID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode task payload"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	id, err := h.Q.Enqueue(ctx, t, queueport.EnqueueOption{Queue: task.SendMessageQueue, MaxRetry: sendMaxRetry})
	if err != nil {
		h.logger.Warn("enqueue failed", zap.String("conversation_id", chatID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"kind": protocol.KindStoreUnavailable, "error": "failed to enqueue message"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":   "queued",
		"taskId":   id,
		"chatId":   chatID,
		"clientId": req.ClientID,
	})
}
