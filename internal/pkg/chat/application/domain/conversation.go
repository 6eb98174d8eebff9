package chat

import "time"

// Conversation is the 1:1 thread between a homeowner and a tradesperson about one job.
// At most one exists per (JobID, HomeownerID, TradespersonID).
type Conversation struct {
	ID             string    `db:"id"`
	CreatedAt      time.Time `db:"created_at"`
	JobID          string    `db:"job_id"`
	JobTitle       string    `db:"job_title"`
	HomeownerID    string    `db:"homeowner_id"`
	TradespersonID string    `db:"tradesperson_id"`
}

// HasParticipant tells whether userID is one of the two parties.
func (c Conversation) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == c.HomeownerID || userID == c.TradespersonID
}

// Counterpart returns the other party for userID.
// ok is false when userID does not belong to the conversation.
func (c Conversation) Counterpart(userID string) (string, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == c.HomeownerID:
		return c.TradespersonID, true
	case userID == c.TradespersonID:
		return c.HomeownerID, true
	}
	return "", false
}

// ParticipantIDs lists both parties, homeowner first.
func (c Conversation) ParticipantIDs() []string {
	return []string{c.HomeownerID, c.TradespersonID}
}
