package usecase

import (
	"context"
	"fmt"

	chat "go-leadchat/internal/pkg/chat/application/domain"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
)

// GetMessageInput carries parameters to fetch messages of a conversation.
// Limit <= 0 returns the whole log.
type GetMessageInput struct {
	ConversationID string
	UserID         string
	Limit          int
	Offset         int
}

// GetMessageUseCase fetches messages for a given conversation in append order.
type GetMessageUseCase struct {
	Repo repository.ChatRepository
	join *JoinConversationUseCase
}

func NewGetMessageUseCase(repo repository.ChatRepository) *GetMessageUseCase {
	return &GetMessageUseCase{Repo: repo, join: NewJoinConversationUseCase(repo)}
}

func (uc *GetMessageUseCase) Execute(ctx context.Context, in GetMessageInput) ([]chat.Message, error) {
	if in.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversationId is required", ErrInvalidInput)
	}
	if in.UserID != "" {
		if _, err := uc.join.Execute(ctx, JoinConversationInput{ConversationID: in.ConversationID, UserID: in.UserID}); err != nil {
			return nil, err
		}
	}

	var msgs []chat.Message
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = uc.Repo.ListMessages(ctx, in.ConversationID, in.Limit, in.Offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}
