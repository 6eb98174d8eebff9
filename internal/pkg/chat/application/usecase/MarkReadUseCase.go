package usecase

import (
	"context"
	"fmt"

	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
)

// MarkReadInput marks the counterpart's messages up to and including UpToMessageID.
type MarkReadInput struct {
	ConversationID string
	ReaderID       string
	UpToMessageID  string
}

// MarkReadUseCase flips the read flag on received messages. Idempotent.
type MarkReadUseCase struct {
	Repo repository.ChatRepository
	join *JoinConversationUseCase
}

func NewMarkReadUseCase(repo repository.ChatRepository) *MarkReadUseCase {
	return &MarkReadUseCase{Repo: repo, join: NewJoinConversationUseCase(repo)}
}

// Execute returns the number of messages whose state changed.
func (uc *MarkReadUseCase) Execute(ctx context.Context, in MarkReadInput) (int64, error) {
	if in.UpToMessageID == "" {
		return 0, fmt.Errorf("%w: upToMessageId is required", ErrInvalidInput)
	}
	if _, err := uc.join.Execute(ctx, JoinConversationInput{ConversationID: in.ConversationID, UserID: in.ReaderID}); err != nil {
		return 0, err
	}

	var changed int64
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		changed, err = uc.Repo.MarkRead(ctx, in.ConversationID, in.ReaderID, in.UpToMessageID)
		return err
	})
	return changed, err
}
