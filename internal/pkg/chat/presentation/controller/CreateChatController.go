package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	chat "go-leadchat/internal/pkg/chat/application/domain"
	"go-leadchat/internal/pkg/chat/application/usecase"
	"go-leadchat/internal/pkg/chat/protocol"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
)

// CreateChatController gets or creates the conversation for a job and a pair of users.
type CreateChatController struct {
	UC *usecase.CreateChatUseCase
}

func NewCreateChatController(repo repository.ChatRepository) *CreateChatController {
	return &CreateChatController{UC: usecase.NewCreateChatUseCase(repo)}
}

type createChatRequest struct {
	JobID          string `json:"jobId" binding:"required"`
	JobTitle       string `json:"jobTitle"`
	HomeownerID    string `json:"homeownerId" binding:"required"`
	TradespersonID string `json:"tradespersonId" binding:"required"`
}

type conversationResponse struct {
	ID             string    `json:"id"`
	JobID          string    `json:"jobId"`
	JobTitle       string    `json:"jobTitle"`
	HomeownerID    string    `json:"homeownerId"`
	TradespersonID string    `json:"tradespersonId"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toConversationResponse(c chat.Conversation) conversationResponse {
	return conversationResponse{
		ID:             c.ID,
		JobID:          c.JobID,
		JobTitle:       c.JobTitle,
		HomeownerID:    c.HomeownerID,
		TradespersonID: c.TradespersonID,
		CreatedAt:      c.CreatedAt,
	}
}

func (h *CreateChatController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"kind": protocol.KindProtocolError, "error": err.Error()})
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()
		conv, err := h.UC.Execute(ctx, usecase.CreateChatInput{
			JobID:          req.JobID,
			JobTitle:       req.JobTitle,
			HomeownerID:    req.HomeownerID,
			TradespersonID: req.TradespersonID,
			RequesterID:    currentUser(c),
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, toConversationResponse(*conv))
	}
}
