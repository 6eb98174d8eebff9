package usecase

import (
	"context"
	"fmt"

	chat "go-leadchat/internal/pkg/chat/application/domain"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
)

// JoinConversationInput validates a request to attach a user session to a conversation.
type JoinConversationInput struct {
	ConversationID string
	UserID         string
}

// JoinConversationUseCase ensures the user belongs to the conversation before joining the realtime room.
type JoinConversationUseCase struct {
	Repo repository.ChatRepository
}

func NewJoinConversationUseCase(repo repository.ChatRepository) *JoinConversationUseCase {
	return &JoinConversationUseCase{Repo: repo}
}

func (uc *JoinConversationUseCase) Execute(ctx context.Context, in JoinConversationInput) (*chat.Conversation, error) {
	if in.ConversationID == "" || in.UserID == "" {
		return nil, fmt.Errorf("%w: conversation_id and user_id are required", ErrInvalidInput)
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
	if !conv.HasParticipant(in.UserID) {
		return nil, chat.ErrNotParticipant
	}
	return conv, nil
}
