// Package protocol defines the JSON frames exchanged over a chat connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	chat "go-leadchat/internal/pkg/chat/application/domain"
)

// Inbound frame types.
const (
	TypeConnect    = "connect"
	TypeMessage    = "message"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypeMarkRead   = "mark_read"
)

// Outbound event types. TypeMessage is shared with inbound.
const (
	TypeConnected    = "connected"
	TypeTypingStatus = "typing_status"
	TypePresence     = "presence"
	TypeRead         = "read"
	TypeError        = "error"
)

// Error kinds carried by error events.
const (
	KindAuthenticationFailed = "authentication_failed"
	KindNotAParticipant      = "not_a_participant"
	KindEmptyMessage         = "empty_message"
	KindStoreTimeout         = "store_timeout"
	KindStoreUnavailable     = "store_unavailable"
	KindProtocolError        = "protocol_error"
	KindNotConnected         = "not_connected"
)

// ErrProtocol wraps every malformed or unrecognized inbound frame.
var ErrProtocol = errors.New("protocol error")

// Inbound is the union of all client frames; Type selects which fields apply.
type Inbound struct {
	Type string `json:"type"`

	// connect
	UserID         string `json:"userId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	JobID          string `json:"jobId,omitempty"`
	JobTitle       string `json:"jobTitle,omitempty"`
	Role           string `json:"role,omitempty"`
	OtherUserID    string `json:"otherUserId,omitempty"`

	// message
	RecipientID string `json:"recipientId,omitempty"`
	Content     string `json:"content,omitempty"`
	ClientID    string `json:"clientId,omitempty"`

	// mark_read
	UpToMessageID string `json:"upToMessageId,omitempty"`
}

// DecodeInbound parses and validates a client frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: invalid payload", ErrProtocol)
	}
	return in, in.Validate()
}

// Validate checks the fields required by the frame's type.
func (in Inbound) Validate() error {
	switch in.Type {
	case TypeConnect:
		if in.UserID == "" {
			return fmt.Errorf("%w: connect requires userId", ErrProtocol)
		}
		if in.ConversationID == "" && (in.JobID == "" || in.Role == "" || in.OtherUserID == "") {
			return fmt.Errorf("%w: connect requires conversationId or jobId, role and otherUserId", ErrProtocol)
		}
	case TypeMessage:
		if in.RecipientID == "" {
			return fmt.Errorf("%w: message requires recipientId", ErrProtocol)
		}
	case TypeMarkRead:
		if in.UpToMessageID == "" {
			return fmt.Errorf("%w: mark_read requires upToMessageId", ErrProtocol)
		}
	case TypeTyping, TypeStopTyping:
	case "":
		return fmt.Errorf("%w: frame type is required", ErrProtocol)
	default:
		return fmt.Errorf("%w: unknown frame type %q", ErrProtocol, in.Type)
	}
	return nil
}

// MessageEvent announces a persisted message. ClientID is set only on the sender's echo.
type MessageEvent struct {
	Type           string    `json:"type"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
	ClientID       string    `json:"clientId,omitempty"`
}

type TypingStatusEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type PresenceEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId"`
	IsOnline       bool   `json:"isOnline"`
}

type ReadEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
	UpToMessageID  string `json:"upToMessageId"`
}

type ErrorEvent struct {
	Type     string `json:"type"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
	ClientID string `json:"clientId,omitempty"`
}

// ConnectedEvent acknowledges a successful connect with the conversation history.
type ConnectedEvent struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversationId"`
	UserID         string         `json:"userId"`
	PeerID         string         `json:"peerId"`
	PeerOnline     bool           `json:"peerOnline"`
	JobID          string         `json:"jobId"`
	JobTitle       string         `json:"jobTitle"`
	Messages       []MessageEvent `json:"messages"`
	// HistoryError is the error kind when history could not be loaded; the
	// connection is open regardless and Messages is empty.
	HistoryError   string         `json:"historyError,omitempty"`
}

// Event is the union of all outbound events, used by clients to decode.
type Event struct {
	Type           string         `json:"type"`
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"timestamp"`
	Read           bool           `json:"read"`
	ClientID       string         `json:"clientId"`
	UserID         string         `json:"userId"`
	IsTyping       bool           `json:"isTyping"`
	IsOnline       bool           `json:"isOnline"`
	ReaderID       string         `json:"readerId"`
	UpToMessageID  string         `json:"upToMessageId"`
	Kind           string         `json:"kind"`
	Detail         string         `json:"detail"`
	PeerID         string         `json:"peerId"`
	PeerOnline     bool           `json:"peerOnline"`
	JobID          string         `json:"jobId"`
	JobTitle       string         `json:"jobTitle"`
	Messages       []MessageEvent `json:"messages"`
	HistoryError   string         `json:"historyError"`
}

// NewMessageEvent converts a stored message.
func NewMessageEvent(m chat.Message, clientID string) MessageEvent {
	return MessageEvent{
		Type:           TypeMessage,
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Timestamp:      m.CreatedAt,
		Read:           m.Read,
		ClientID:       clientID,
	}
}

// Encode marshals any outbound event.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
