package adapter

import (
	"context"
	"sync"
	"time"

	chat "go-leadchat/internal/pkg/chat/application/domain"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"

	"github.com/google/uuid"
)

// MemoryChatRepository keeps conversations and messages in process memory.
// It backs the "memory" store mode and the package tests of the layers above.
type MemoryChatRepository struct {
	mu            sync.Mutex
	conversations map[string]*chat.Conversation
	byKey         map[chat.ConversationKey]string
	messages      map[string][]chat.Message
	seq           int64
	nowFn         func() time.Time
}

var _ repository.ChatRepository = (*MemoryChatRepository)(nil)

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		conversations: make(map[string]*chat.Conversation),
		byKey:         make(map[chat.ConversationKey]string),
		messages:      make(map[string][]chat.Message),
		nowFn:         time.Now,
	}
}

func (r *MemoryChatRepository) GetOrCreateConversation(ctx context.Context, key chat.ConversationKey) (*chat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	natural := chat.ConversationKey{JobID: key.JobID, HomeownerID: key.HomeownerID, TradespersonID: key.TradespersonID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[natural]; ok {
		c := *r.conversations[id]
		return &c, nil
	}
	c := &chat.Conversation{
		ID:             uuid.NewString(),
		CreatedAt:      r.nowFn().UTC(),
		JobID:          key.JobID,
		JobTitle:       key.JobTitle,
		HomeownerID:    key.HomeownerID,
		TradespersonID: key.TradespersonID,
	}
	r.conversations[c.ID] = c
	r.byKey[natural] = c.ID
	out := *c
	return &out, nil
}

func (r *MemoryChatRepository) GetConversation(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[conversationID]
	if !ok {
		return nil, chat.ErrConversationMissing
	}
	out := *c
	return &out, nil
}

func (r *MemoryChatRepository) AppendMessage(ctx context.Context, m chat.Message) (*chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[m.ConversationID]; !ok {
		return nil, chat.ErrConversationMissing
	}

	ts := m.CreatedAt
	if ts.IsZero() {
		ts = r.nowFn().UTC()
	}
	log := r.messages[m.ConversationID]
	if n := len(log); n > 0 && ts.Before(log[n-1].CreatedAt) {
		ts = log[n-1].CreatedAt
	}

	r.seq++
	m.ID = uuid.NewString()
	m.CreatedAt = ts
	m.Seq = r.seq
	m.Read = false
	r.messages[m.ConversationID] = append(log, m)
	return &m, nil
}

func (r *MemoryChatRepository) ListMessages(ctx context.Context, conversationID string, limit int, offset int) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.messages[conversationID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(log) {
		return []chat.Message{}, nil
	}
	end := len(log)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]chat.Message, end-offset)
	copy(out, log[offset:end])
	return out, nil
}

func (r *MemoryChatRepository) MarkRead(ctx context.Context, conversationID string, readerID string, upToMessageID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.messages[conversationID]
	upTo := -1
	for i := range log {
		if log[i].ID == upToMessageID {
			upTo = i
			break
		}
	}
	var changed int64
	for i := 0; i <= upTo; i++ {
		if log[i].SenderID != readerID && !log[i].Read {
			log[i].Read = true
			changed++
		}
	}
	return changed, nil
}
