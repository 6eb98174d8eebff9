package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConversation() Conversation {
	return Conversation{ID: "c1", JobID: "J123", HomeownerID: "H", TradespersonID: "T"}
}

func TestPostMessage(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		sender      string
		recipient   string
		content     string
		expectedErr error
		expected    string
	}{
		{name: "tradesperson to homeowner", sender: "T", recipient: "H", content: "Can you do Tuesday?", expected: "Can you do Tuesday?"},
		{name: "content is trimmed", sender: "H", recipient: "T", content: "  yes  ", expected: "yes"},
		{name: "whitespace only", sender: "T", recipient: "H", content: "   ", expectedErr: ErrEmptyMessage},
		{name: "third party sender", sender: "X", recipient: "H", content: "hi", expectedErr: ErrNotParticipant},
		{name: "recipient is not counterpart", sender: "T", recipient: "X", content: "hi", expectedErr: ErrNotParticipant},
		{name: "message to self", sender: "T", recipient: "T", content: "hi", expectedErr: ErrNotParticipant},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &Chat{Conversation: testConversation()}
			msg, err := c.PostMessage(tc.sender, tc.recipient, tc.content, now)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
				assert.Nil(t, c.LastMessageAt)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, msg.Content)
			assert.Equal(t, "c1", msg.ConversationID)
			assert.Equal(t, now, msg.CreatedAt)
		})
	}
}

func TestPostMessageTimestampsNeverGoBackwards(t *testing.T) {
	later := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)
	earlier := later.Add(-time.Second)

	c := &Chat{Conversation: testConversation(), LastMessageAt: &later}
	msg, err := c.PostMessage("H", "T", "hello", earlier)
	require.NoError(t, err)
	assert.Equal(t, later, msg.CreatedAt)
	assert.Equal(t, later, *c.LastMessageAt)
}

func TestCounterpart(t *testing.T) {
	c := testConversation()

	other, ok := c.Counterpart("H")
	assert.True(t, ok)
	assert.Equal(t, "T", other)

	other, ok = c.Counterpart("T")
	assert.True(t, ok)
	assert.Equal(t, "H", other)

	_, ok = c.Counterpart("X")
	assert.False(t, ok)
	_, ok = c.Counterpart("")
	assert.False(t, ok)
}

func TestKeyFor(t *testing.T) {
	k := KeyFor("J1", "Fix roof", ParticipantRoleTradesperson, "T", "H")
	assert.Equal(t, ConversationKey{JobID: "J1", JobTitle: "Fix roof", HomeownerID: "H", TradespersonID: "T"}, k)
	assert.NoError(t, k.Validate())

	k = KeyFor("J1", "", ParticipantRoleHomeowner, "H", "H")
	assert.ErrorIs(t, k.Validate(), ErrInvalidConversation)

	_, err := ParseParticipantRole("plumber")
	assert.Error(t, err)
	role, err := ParseParticipantRole("Homeowner")
	require.NoError(t, err)
	assert.Equal(t, ParticipantRoleHomeowner, role)
}
