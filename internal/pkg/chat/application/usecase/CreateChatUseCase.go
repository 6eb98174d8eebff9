package usecase

import (
	"context"
	"fmt"

	chat "go-leadchat/internal/pkg/chat/application/domain"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
)

// CreateChatInput names the (job, homeowner, tradesperson) triple of a conversation.
// RequesterID, when set, must be one of the two parties.
type CreateChatInput struct {
	JobID          string
	JobTitle       string
	HomeownerID    string
	TradespersonID string
	RequesterID    string
}

// CreateChatUseCase gets or creates the conversation for a triple.
// Creation is idempotent: the same triple always yields the same conversation.
type CreateChatUseCase struct {
	Repo repository.ChatRepository
}

func NewCreateChatUseCase(repo repository.ChatRepository) *CreateChatUseCase {
	return &CreateChatUseCase{Repo: repo}
}

func (uc *CreateChatUseCase) Execute(ctx context.Context, in CreateChatInput) (*chat.Conversation, error) {
	key := chat.ConversationKey{
		JobID:          in.JobID,
		JobTitle:       in.JobTitle,
		HomeownerID:    in.HomeownerID,
		TradespersonID: in.TradespersonID,
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: job_id, homeowner_id and tradesperson_id are required and must differ", ErrInvalidInput)
	}
	if in.RequesterID != "" && in.RequesterID != in.HomeownerID && in.RequesterID != in.TradespersonID {
		return nil, chat.ErrNotParticipant
	}

	var conv *chat.Conversation
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		conv, err = uc.Repo.GetOrCreateConversation(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}
