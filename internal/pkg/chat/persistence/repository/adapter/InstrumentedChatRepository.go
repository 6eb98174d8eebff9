package adapter

import (
	"context"
	"time"

	"go-leadchat/internal/infrastructure/metrics"
	chat "go-leadchat/internal/pkg/chat/application/domain"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
)

// InstrumentedChatRepository records store latency for every call it forwards.
type InstrumentedChatRepository struct {
	next repository.ChatRepository
}

var _ repository.ChatRepository = (*InstrumentedChatRepository)(nil)

func NewInstrumentedChatRepository(next repository.ChatRepository) *InstrumentedChatRepository {
	return &InstrumentedChatRepository{next: next}
}

func observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.StoreLatency.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func (r *InstrumentedChatRepository) GetOrCreateConversation(ctx context.Context, key chat.ConversationKey) (c *chat.Conversation, err error) {
	defer func(start time.Time) { observe("get_or_create_conversation", start, err) }(time.Now())
	return r.next.GetOrCreateConversation(ctx, key)
}

func (r *InstrumentedChatRepository) GetConversation(ctx context.Context, conversationID string) (c *chat.Conversation, err error) {
	defer func(start time.Time) { observe("get_conversation", start, err) }(time.Now())
	return r.next.GetConversation(ctx, conversationID)
}

func (r *InstrumentedChatRepository) AppendMessage(ctx context.Context, m chat.Message) (out *chat.Message, err error) {
	defer func(start time.Time) { observe("append_message", start, err) }(time.Now())
	return r.next.AppendMessage(ctx, m)
}

func (r *InstrumentedChatRepository) ListMessages(ctx context.Context, conversationID string, limit int, offset int) (msgs []chat.Message, err error) {
	defer func(start time.Time) { observe("list_messages", start, err) }(time.Now())
	return r.next.ListMessages(ctx, conversationID, limit, offset)
}

func (r *InstrumentedChatRepository) MarkRead(ctx context.Context, conversationID string, readerID string, upToMessageID string) (n int64, err error) {
	defer func(start time.Time) { observe("mark_read", start, err) }(time.Now())
	return r.next.MarkRead(ctx, conversationID, readerID, upToMessageID)
}
