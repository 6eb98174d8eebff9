package usecase

import (
	"context"
	"fmt"
	"time"

	chat "go-leadchat/internal/pkg/chat/application/domain"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
)

// SendMessageInput carries the data needed to send a new message
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
}

// SendMessageUseCase validates and persists a message.
// The append itself is never retried: on failure the caller cannot know
// whether the row landed.
type SendMessageUseCase struct {
	Repo  repository.ChatRepository
	nowFn func() time.Time
}

func NewSendMessageUseCase(repo repository.ChatRepository) *SendMessageUseCase {
	return &SendMessageUseCase{Repo: repo, nowFn: time.Now}
}

// Execute sends/persists a new message for a conversation
func (uc *SendMessageUseCase) Execute(ctx context.Context, in SendMessageInput) (*chat.Message, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return nil, fmt.Errorf("%w: conversationId and senderId are required", ErrInvalidInput)
	}
	// Reject blank text before touching the store at all.
	if _, err := chat.NormalizeContent(in.Content); err != nil {
		return nil, err
	}

	var conv *chat.Conversation
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		conv, err = uc.Repo.GetConversation(ctx, in.ConversationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	agg := chat.Chat{Conversation: *conv}
	msg, err := agg.PostMessage(in.SenderID, in.RecipientID, in.Content, uc.nowFn())
	if err != nil {
		return nil, err
	}

	saved, err := uc.Repo.AppendMessage(ctx, msg)
	if err != nil {
		return nil, persistenceErr(err)
	}
	return saved, nil
}
