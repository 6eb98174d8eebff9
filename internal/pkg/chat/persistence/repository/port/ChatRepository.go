package repository

import (
	"context"

	chat "go-leadchat/internal/pkg/chat/application/domain"
)

// ChatRepository is the Message Store: conversations plus an append-only message
// log per conversation. Implementations must serialize concurrent appends to the
// same conversation and assign non-decreasing timestamps within it.
type ChatRepository interface {
	// GetOrCreateConversation returns the conversation for key, creating it on first use.
	GetOrCreateConversation(ctx context.Context, key chat.ConversationKey) (*chat.Conversation, error)
	// GetConversation returns chat.ErrConversationMissing when id is unknown.
	GetConversation(ctx context.Context, conversationID string) (*chat.Conversation, error)
	// AppendMessage persists m and returns it with ID, CreatedAt and Seq assigned.
	AppendMessage(ctx context.Context, m chat.Message) (*chat.Message, error)
	// ListMessages returns the conversation log in append order.
	ListMessages(ctx context.Context, conversationID string, limit int, offset int) ([]chat.Message, error)
	// MarkRead flags the counterpart's messages up to and including upToMessageID
	// as read by readerID. It returns how many messages changed state.
	MarkRead(ctx context.Context, conversationID string, readerID string, upToMessageID string) (int64, error)
}
