// Package client is the consumer-side lifecycle wrapper around the chat
// websocket: it tracks connection state, keeps an ordered local message list
// with optimistic sends, and debounces typing notifications.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"go-leadchat/internal/infrastructure/realtime"
	chat "go-leadchat/internal/pkg/chat/application/domain"
	"go-leadchat/internal/pkg/chat/protocol"
)

const (
	DefaultTypingIdle    = 2 * time.Second
	DefaultTypingRefresh = 3 * time.Second

	writeWait = 5 * time.Second
)

var (
	// ErrNotConnected rejects user actions while the controller is not Open.
	ErrNotConnected = errors.New("client: not connected")
	// ErrAlreadyConnected is returned by Connect on a live controller.
	ErrAlreadyConnected = errors.New("client: already connected")
	// ErrSuperseded is recorded when another connection for the same user took over.
	ErrSuperseded = errors.New("client: session replaced by another connection")
)

// State is the controller's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DeliveryStatus distinguishes confirmed, in-flight and failed local entries.
type DeliveryStatus int

const (
	StatusConfirmed DeliveryStatus = iota
	StatusPending
	StatusFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	}
	return "confirmed"
}

// ServerError is an error event received from the gateway.
type ServerError struct {
	Kind     string
	Detail   string
	ClientID string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Entry is one message in the local list. ID is empty until the server confirms it.
type Entry struct {
	ID             string
	ClientID       string
	ConversationID string
	SenderID       string
	Content        string
	Timestamp      time.Time
	Read           bool
	Status         DeliveryStatus
}

// JobTarget opens (or creates) the conversation for a job from the caller's side.
type JobTarget struct {
	JobID       string
	JobTitle    string
	Role        chat.ParticipantRole
	OtherUserID string
}

// Options tune a Controller. Zero values pick the defaults.
type Options struct {
	Dialer        *websocket.Dialer
	Header        http.Header // carries the credential, e.g. Authorization
	TypingIdle    time.Duration
	TypingRefresh time.Duration
	// OnChange is called after every state or message list change, outside locks.
	OnChange func()
	Logger   *zap.Logger
}

// Controller drives one user's chat connection.
type Controller struct {
	url  string
	opts Options

	writeMu sync.Mutex

	mu             sync.Mutex
	state          State
	err            error
	ws             *websocket.Conn
	ack            chan error
	readDone       chan struct{}
	userID         string
	conversationID string
	peerID         string
	peerOnline     bool
	peerTyping     bool
	messages       []Entry

	typingActive   bool
	lastTypingSent time.Time
	idleTimer      *time.Timer
	nowFn          func() time.Time
}

// New builds a Controller for the gateway at url (ws:// or wss://).
func New(url string, opts Options) *Controller {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if opts.TypingRefresh <= 0 {
		opts.TypingRefresh = DefaultTypingRefresh
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{url: url, opts: opts, nowFn: time.Now}
}

// Connect opens the transport, sends the connect frame for conversationID and
// waits for the server's acknowledgement.
func (c *Controller) Connect(ctx context.Context, userID, conversationID string) error {
	return c.connect(ctx, userID, protocol.Inbound{
		Type:           protocol.TypeConnect,
		UserID:         userID,
		ConversationID: conversationID,
	})
}

// ConnectJob is Connect for a job conversation that may not exist yet.
func (c *Controller) ConnectJob(ctx context.Context, userID string, target JobTarget) error {
	return c.connect(ctx, userID, protocol.Inbound{
		Type:        protocol.TypeConnect,
		UserID:      userID,
		JobID:       target.JobID,
		JobTitle:    target.JobTitle,
		Role:        string(target.Role),
		OtherUserID: target.OtherUserID,
	})
}

func (c *Controller) connect(ctx context.Context, userID string, frame protocol.Inbound) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.err = nil
	c.userID = userID
	c.mu.Unlock()
	c.changed()

	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.url, c.opts.Header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			err = &ServerError{Kind: protocol.KindAuthenticationFailed, Detail: "credential rejected"}
		}
		c.fail(err)
		return err
	}

	ack := make(chan error, 1)
	readDone := make(chan struct{})
	c.mu.Lock()
	c.ws, c.ack, c.readDone = ws, ack, readDone
	c.mu.Unlock()
	go c.readLoop(ws, readDone)

	if err := c.write(ws, frame); err != nil {
		c.teardown(StateDisconnected, err)
		return err
	}

	select {
	case err := <-ack:
		if err != nil {
			c.teardown(StateDisconnected, err)
			return err
		}
		return nil
	case <-ctx.Done():
		c.teardown(StateDisconnected, ctx.Err())
		return ctx.Err()
	}
}

// SendMessage emits a message frame and appends an optimistic Pending entry,
// returning its correlation id. Blank content is a no-op.
func (c *Controller) SendMessage(recipientID, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}

	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	ws := c.ws
	entry := Entry{
		ClientID:       uuid.NewString(),
		ConversationID: c.conversationID,
		SenderID:       c.userID,
		Content:        content,
		Timestamp:      c.nowFn(),
		Status:         StatusPending,
	}
	c.messages = append(c.messages, entry)
	c.sortLocked()
	c.resetTypingLocked()
	c.mu.Unlock()
	c.changed()

	err := c.write(ws, protocol.Inbound{
		Type:        protocol.TypeMessage,
		RecipientID: recipientID,
		Content:     content,
		ClientID:    entry.ClientID,
	})
	if err != nil {
		c.mu.Lock()
		c.markFailedLocked(entry.ClientID)
		c.mu.Unlock()
		c.changed()
		return entry.ClientID, err
	}
	return entry.ClientID, nil
}

// SendTyping announces typing at most once per refresh interval and schedules
// a single stop after the idle period without further calls.
func (c *Controller) SendTyping() error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ws := c.ws
	now := c.nowFn()
	emit := !c.typingActive || now.Sub(c.lastTypingSent) >= c.opts.TypingRefresh
	if emit {
		c.typingActive, c.lastTypingSent = true, now
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.opts.TypingIdle, c.idleStop)
	c.mu.Unlock()

	if !emit {
		return nil
	}
	return c.write(ws, protocol.Inbound{Type: protocol.TypeTyping})
}

// StopTyping emits stop_typing if a typing notification is outstanding.
func (c *Controller) StopTyping() error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ws, active := c.ws, c.typingActive
	c.resetTypingLocked()
	c.mu.Unlock()

	if !active {
		return nil
	}
	return c.write(ws, protocol.Inbound{Type: protocol.TypeStopTyping})
}

func (c *Controller) idleStop() {
	if err := c.StopTyping(); err != nil && !errors.Is(err, ErrNotConnected) {
		c.opts.Logger.Debug("idle stop_typing failed", zap.Error(err))
	}
}

// MarkRead marks the peer's messages read up to and including messageID.
func (c *Controller) MarkRead(messageID string) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ws := c.ws
	c.mu.Unlock()
	return c.write(ws, protocol.Inbound{Type: protocol.TypeMarkRead, UpToMessageID: messageID})
}

// Disconnect closes the transport. Safe to call more than once.
func (c *Controller) Disconnect() error {
	c.teardown(StateDisconnected, nil)
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the last error seen: a server error event or a transport failure.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Messages returns a copy of the local list, ordered by timestamp.
func (c *Controller) Messages() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (c *Controller) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

func (c *Controller) PeerOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerOnline
}

func (c *Controller) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping
}

func (c *Controller) write(ws *websocket.Conn, frame protocol.Inbound) error {
	if ws == nil {
		return ErrNotConnected
	}
	payload, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Controller) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.onTransportClosed(ws, err)
			return
		}
		var ev protocol.Event
		if err := decodeEvent(data, &ev); err != nil {
			c.opts.Logger.Debug("dropping undecodable event", zap.Error(err))
			continue
		}
		c.apply(ev)
		c.changed()
	}
}

func (c *Controller) onTransportClosed(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		// Disconnect already tore this transport down.
		c.mu.Unlock()
		return
	}
	// teardown must not wait for the loop it is called from.
	c.readDone = nil
	if websocket.IsCloseError(err, realtime.CloseSessionReplaced) {
		err = ErrSuperseded
	}
	c.mu.Unlock()
	c.teardown(StateClosed, err)
}

// teardown ends the current transport, fails pending entries and moves to state.
func (c *Controller) teardown(state State, cause error) {
	c.mu.Lock()
	ws, ack, readDone := c.ws, c.ack, c.readDone
	if ws == nil && (c.state == StateDisconnected || c.state == StateClosed) {
		c.mu.Unlock()
		return
	}
	c.ws, c.ack, c.readDone = nil, nil, nil
	c.state = state
	if cause != nil {
		c.err = cause
	}
	c.peerOnline, c.peerTyping = false, false
	c.resetTypingLocked()
	for i := range c.messages {
		if c.messages[i].Status == StatusPending {
			c.messages[i].Status = StatusFailed
		}
	}
	c.mu.Unlock()

	if ack != nil {
		select {
		case ack <- errOrClosed(cause):
		default:
		}
	}
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = ws.Close()
		if readDone != nil {
			select {
			case <-readDone:
			case <-time.After(writeWait):
			}
		}
	}
	c.changed()
}

func errOrClosed(err error) error {
	if err != nil {
		return err
	}
	return ErrNotConnected
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.state, c.err = StateDisconnected, err
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) resetTypingLocked() {
	c.typingActive = false
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

func (c *Controller) changed() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}
