package chat

import (
	"fmt"
	"strings"
)

// ParticipantRole names which side of the marketplace a participant is on.
type ParticipantRole string

const (
	ParticipantRoleHomeowner    ParticipantRole = "homeowner"
	ParticipantRoleTradesperson ParticipantRole = "tradesperson"
)

// ParseParticipantRole accepts the wire spelling of a role, case-insensitively.
func ParseParticipantRole(s string) (ParticipantRole, error) {
	switch ParticipantRole(strings.ToLower(strings.TrimSpace(s))) {
	case ParticipantRoleHomeowner:
		return ParticipantRoleHomeowner, nil
	case ParticipantRoleTradesperson:
		return ParticipantRoleTradesperson, nil
	}
	return "", fmt.Errorf("chat: unknown participant role %q", s)
}

// ConversationKey identifies a conversation by its natural key.
type ConversationKey struct {
	JobID          string
	JobTitle       string
	HomeownerID    string
	TradespersonID string
}

// KeyFor builds the natural key from the caller's point of view:
// userID plays role, otherUserID plays the opposite role.
func KeyFor(jobID, jobTitle string, role ParticipantRole, userID, otherUserID string) ConversationKey {
	k := ConversationKey{JobID: jobID, JobTitle: jobTitle}
	if role == ParticipantRoleHomeowner {
		k.HomeownerID, k.TradespersonID = userID, otherUserID
	} else {
		k.HomeownerID, k.TradespersonID = otherUserID, userID
	}
	return k
}

// Validate checks the key names a job and two distinct parties.
func (k ConversationKey) Validate() error {
	if k.JobID == "" || k.HomeownerID == "" || k.TradespersonID == "" {
		return ErrInvalidConversation
	}
	if k.HomeownerID == k.TradespersonID {
		return ErrInvalidConversation
	}
	return nil
}
