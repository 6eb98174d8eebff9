package client

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"go-leadchat/internal/pkg/chat/protocol"
)

// reconcileWindow bounds how far a server timestamp may drift from the local
// one when an echo carries no client id.
const reconcileWindow = 30 * time.Second

func decodeEvent(data []byte, ev *protocol.Event) error {
	return json.Unmarshal(data, ev)
}

// apply folds one server event into local state.
func (c *Controller) apply(ev protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case protocol.TypeConnected:
		if ev.ConversationID != c.conversationID {
			c.peerTyping = false
		}
		c.conversationID = ev.ConversationID
		c.peerID = ev.PeerID
		c.peerOnline = ev.PeerOnline
		// Entries left from another conversation, or pushed for one while
		// the ack was pending, are not part of this history.
		c.messages = slices.DeleteFunc(c.messages, func(e Entry) bool {
			return e.ConversationID != ev.ConversationID
		})
		if ev.HistoryError != "" {
			c.err = &ServerError{Kind: ev.HistoryError, Detail: "history unavailable"}
		}
		for _, m := range ev.Messages {
			c.mergeLocked(m)
		}
		c.sortLocked()
		if c.state == StateConnecting {
			c.state = StateOpen
			c.signalAckLocked(nil)
		}

	case protocol.TypeMessage:
		// Until the ack names the conversation, keep everything; the ack prunes.
		if c.state == StateOpen && ev.ConversationID != c.conversationID {
			return
		}
		c.mergeLocked(protocol.MessageEvent{
			Type:           ev.Type,
			ID:             ev.ID,
			ConversationID: ev.ConversationID,
			SenderID:       ev.SenderID,
			Content:        ev.Content,
			Timestamp:      ev.Timestamp,
			Read:           ev.Read,
			ClientID:       ev.ClientID,
		})
		c.sortLocked()
		if ev.SenderID == c.peerID {
			c.peerTyping = false
		}

	case protocol.TypeTypingStatus:
		if ev.ConversationID == c.conversationID && ev.UserID == c.peerID {
			c.peerTyping = ev.IsTyping
		}

	case protocol.TypePresence:
		if ev.UserID != c.peerID || (ev.ConversationID != "" && ev.ConversationID != c.conversationID) {
			return
		}
		c.peerOnline = ev.IsOnline
		if !ev.IsOnline {
			c.peerTyping = false
		}

	case protocol.TypeRead:
		if ev.ConversationID != c.conversationID || ev.ReaderID != c.peerID {
			return
		}
		upTo := slices.IndexFunc(c.messages, func(e Entry) bool { return e.ID == ev.UpToMessageID })
		for i := 0; i <= upTo; i++ {
			if c.messages[i].SenderID == c.userID && c.messages[i].Status == StatusConfirmed {
				c.messages[i].Read = true
			}
		}

	case protocol.TypeError:
		serr := &ServerError{Kind: ev.Kind, Detail: ev.Detail, ClientID: ev.ClientID}
		c.err = serr
		if ev.ClientID != "" {
			c.markFailedLocked(ev.ClientID)
			return
		}
		if c.state == StateConnecting {
			c.signalAckLocked(serr)
		}
	}
}

// mergeLocked reconciles a server message with the local list: an entry with
// the same id is updated in place, an unconfirmed entry with the same client id
// (or, lacking one, same sender and content sent shortly before) is confirmed,
// anything else is appended.
func (c *Controller) mergeLocked(m protocol.MessageEvent) {
	if i := slices.IndexFunc(c.messages, func(e Entry) bool { return e.ID == m.ID }); i >= 0 {
		c.messages[i].Read = c.messages[i].Read || m.Read
		return
	}
	match := func(e Entry) bool {
		if e.Status == StatusConfirmed {
			return false
		}
		if m.ClientID != "" {
			return e.ClientID == m.ClientID
		}
		return e.SenderID == m.SenderID && strings.TrimSpace(e.Content) == m.Content && absDuration(m.Timestamp.Sub(e.Timestamp)) <= reconcileWindow
	}
	if i := slices.IndexFunc(c.messages, match); i >= 0 {
		e := &c.messages[i]
		e.ID, e.Content, e.Timestamp, e.Read, e.Status = m.ID, m.Content, m.Timestamp, m.Read, StatusConfirmed
		return
	}
	c.messages = append(c.messages, Entry{
		ID:             m.ID,
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
		Read:           m.Read,
		Status:         StatusConfirmed,
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// sortLocked keeps the list ordered by timestamp; ties keep arrival order.
func (c *Controller) sortLocked() {
	slices.SortStableFunc(c.messages, func(a, b Entry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

func (c *Controller) markFailedLocked(clientID string) {
	for i := range c.messages {
		if c.messages[i].ClientID == clientID && c.messages[i].Status == StatusPending {
			c.messages[i].Status = StatusFailed
		}
	}
}

func (c *Controller) signalAckLocked(err error) {
	if c.ack == nil {
		return
	}
	select {
	case c.ack <- err:
	default:
	}
}
