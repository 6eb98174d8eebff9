package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	qport "go-leadchat/internal/infrastructure/queue/port"
	chat "go-leadchat/internal/pkg/chat/application/domain"
	"go-leadchat/internal/pkg/chat/application/usecase"
)

// SendMessageTaskType is the queue task name for a deferred message send.
const SendMessageTaskType = "chat:send_message"

// SendMessageQueue is the asynq queue deferred sends are enqueued on.
const SendMessageQueue = "chat"

const taskBudget = 10 * time.Second

// SendMessageTaskPayload is the JSON payload transported via the queue.
type SendMessageTaskPayload struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	RecipientID    string `json:"recipientId"`
	Content        string `json:"content"`
	ClientID       string `json:"clientId,omitempty"`
}

// MessageSender is the session send path used by the worker.
type MessageSender interface {
	SendDetached(ctx context.Context, conversationID, senderID, recipientID, content string) (*chat.Message, error)
}

// NewSendMessageTask encodes a payload into a queue task.
func NewSendMessageTask(p SendMessageTaskPayload) (qport.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return qport.Task{}, err
	}
	return qport.Task{Type: SendMessageTaskType, Payload: b}, nil
}

// RegisterSendMessageTask binds the deferred send handler to srv.
func RegisterSendMessageTask(srv qport.Server, sender MessageSender, logger *zap.Logger) {
	srv.Register(SendMessageTaskType, SendMessageHandler(sender, logger))
}

// SendMessageHandler runs a deferred send. Only StoreUnavailable is retried:
// validation failures never succeed later, and a timed-out append may already
// be persisted.
func SendMessageHandler(sender MessageSender, logger *zap.Logger) qport.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, t qport.Task) error {
		var p SendMessageTaskPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, qport.ErrSkipRetry)
		}

		ctx, cancel := context.WithTimeout(ctx, taskBudget)
		defer cancel()

		msg, err := sender.SendDetached(ctx, p.ConversationID, p.SenderID, p.RecipientID, p.Content)
		switch {
		case err == nil:
			logger.Debug("deferred message sent",
				zap.String("conversation_id", p.ConversationID),
				zap.String("message_id", msg.ID),
				zap.String("client_id", p.ClientID))
			return nil
		case errors.Is(err, usecase.ErrPersistence):
			return err
		default:
			logger.Warn("deferred message dropped",
				zap.String("conversation_id", p.ConversationID),
				zap.String("client_id", p.ClientID),
				zap.Error(err))
			return fmt.Errorf("%w: %w", err, qport.ErrSkipRetry)
		}
	}
}
