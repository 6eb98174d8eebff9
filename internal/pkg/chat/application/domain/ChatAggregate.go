package chat

import (
	"errors"
	"time"
)

// Domain-level errors for chat behaviors
var (
	ErrInvalidConversation = errors.New("chat: invalid conversation")
	ErrNotParticipant      = errors.New("chat: user is not a participant in the conversation")
	ErrEmptyMessage        = errors.New("chat: empty message")
	ErrConversationMissing = errors.New("chat: conversation not found")
)

// Chat is the domain aggregate for a conversation and its invariants.
//
// The application layer hydrates it with the conversation and, when known,
// the timestamp of the last persisted message before invoking its behaviors.
// Persistence happens outside the domain.
type Chat struct {
	Conversation  Conversation
	LastMessageAt *time.Time
}

// PostMessage applies domain rules and returns a validated message ready to persist.
//
// Validations:
//   - sender must be a participant
//   - recipient must be the sender's counterpart
//   - content must not be blank after trimming
//
// The timestamp is never earlier than LastMessageAt, so timestamps stay
// non-decreasing within the conversation. On success LastMessageAt advances.
func (c *Chat) PostMessage(senderID, recipientID, content string, now time.Time) (Message, error) {
	if c.Conversation.ID == "" {
		return Message{}, ErrInvalidConversation
	}

	other, ok := c.Conversation.Counterpart(senderID)
	if !ok || other != recipientID {
		return Message{}, ErrNotParticipant
	}

	body, err := NormalizeContent(content)
	if err != nil {
		return Message{}, err
	}

	if now.IsZero() {
		now = time.Now()
	}
	ts := now.UTC()
	if c.LastMessageAt != nil && ts.Before(*c.LastMessageAt) {
		ts = *c.LastMessageAt
	}
	c.LastMessageAt = &ts

	return Message{
		ConversationID: c.Conversation.ID,
		SenderID:       senderID,
		Content:        body,
		CreatedAt:      ts,
	}, nil
}
