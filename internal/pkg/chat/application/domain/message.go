package chat

import (
	"strings"
	"time"
)

// Message is an immutable log entry in a conversation; only Read ever changes.
type Message struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	SenderID       string    `db:"sender_id"`
	Content        string    `db:"content"`
	CreatedAt      time.Time `db:"created_at"`
	Read           bool      `db:"read"`
	// Seq orders messages inside a conversation; assigned by the store.
	Seq int64 `db:"seq"`
}

// NormalizeContent trims content and rejects blank text.
func NormalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	return trimmed, nil
}
