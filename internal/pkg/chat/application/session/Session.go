package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	cacheport "go-leadchat/internal/infrastructure/cache/port"
	"go-leadchat/internal/infrastructure/metrics"
	chat "go-leadchat/internal/pkg/chat/application/domain"
	"go-leadchat/internal/pkg/chat/application/usecase"
	"go-leadchat/internal/pkg/chat/protocol"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
)

const (
	DefaultTypingExpiry = 5 * time.Second
	DefaultStoreTimeout = 5 * time.Second

	notifyTimeout = 2 * time.Second
	lastSeenTTL   = 30 * 24 * time.Hour
)

// ErrClosedHandle is returned for calls made with a handle that was already closed.
var ErrClosedHandle = errors.New("session: handle is closed")

// Notifier pushes an encoded event to a user wherever they are connected.
// It returns how the user was reached (see metrics.Delivery*).
type Notifier interface {
	Deliver(ctx context.Context, userID string, payload []byte) string
}

// Config tunes the session service.
type Config struct {
	TypingExpiry time.Duration
	StoreTimeout time.Duration
}

// Handle is the caller's token for an open conversation.
type Handle struct {
	Conversation chat.Conversation
	UserID       string
	PeerID       string
	ConnID       string
}

// OpenRequest opens a conversation either by ConversationID or, when that is
// empty, by job: the conversation for (JobID, UserID as Role, OtherUserID) is
// created on first use.
type OpenRequest struct {
	ConversationID string
	UserID         string
	ConnID         string

	JobID       string
	JobTitle    string
	Role        chat.ParticipantRole
	OtherUserID string
}

type typingState struct {
	timer *time.Timer
}

// room is the ephemeral presence and typing state of one conversation.
type room struct {
	online map[string]string       // userID -> connID
	typing map[string]*typingState // userID -> pending expiry
}

// Service holds the per-conversation business logic: participant checks,
// message dispatch, typing and presence bookkeeping.
type Service struct {
	createUC   *usecase.CreateChatUseCase
	joinUC     *usecase.JoinConversationUseCase
	sendUC     *usecase.SendMessageUseCase
	listUC     *usecase.GetMessageUseCase
	markReadUC *usecase.MarkReadUseCase

	notifier Notifier
	cache    cacheport.Cache
	logger   *zap.Logger
	cfg      Config
	nowFn    func() time.Time

	mu    sync.Mutex
	rooms map[string]*room
}

// NewService wires the session layer. cache may be nil, in which case last-seen
// timestamps are not recorded.
func NewService(repo repository.ChatRepository, notifier Notifier, cache cacheport.Cache, logger *zap.Logger, cfg Config) *Service {
	if cfg.TypingExpiry <= 0 {
		cfg.TypingExpiry = DefaultTypingExpiry
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		createUC:   usecase.NewCreateChatUseCase(repo),
		joinUC:     usecase.NewJoinConversationUseCase(repo),
		sendUC:     usecase.NewSendMessageUseCase(repo),
		listUC:     usecase.NewGetMessageUseCase(repo),
		markReadUC: usecase.NewMarkReadUseCase(repo),
		notifier:   notifier,
		cache:      cache,
		logger:     logger,
		cfg:        cfg,
		nowFn:      time.Now,
		rooms:      make(map[string]*room),
	}
}

// Open validates membership, marks the user online in the conversation and
// tells the other participant.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	conv, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	peer, ok := conv.Counterpart(req.UserID)
	if !ok {
		return nil, chat.ErrNotParticipant
	}

	s.mu.Lock()
	r := s.roomLocked(conv.ID)
	r.online[req.UserID] = req.ConnID
	s.mu.Unlock()

	h := &Handle{Conversation: *conv, UserID: req.UserID, PeerID: peer, ConnID: req.ConnID}
	s.push(peer, protocol.PresenceEvent{Type: protocol.TypePresence, ConversationID: conv.ID, UserID: req.UserID, IsOnline: true})
	return h, nil
}

func (s *Service) resolve(ctx context.Context, req OpenRequest) (*chat.Conversation, error) {
	if req.ConversationID != "" {
		return s.joinUC.Execute(ctx, usecase.JoinConversationInput{ConversationID: req.ConversationID, UserID: req.UserID})
	}
	key := chat.KeyFor(req.JobID, req.JobTitle, req.Role, req.UserID, req.OtherUserID)
	return s.createUC.Execute(ctx, usecase.CreateChatInput{
		JobID:          key.JobID,
		JobTitle:       key.JobTitle,
		HomeownerID:    key.HomeownerID,
		TradespersonID: key.TradespersonID,
		RequesterID:    req.UserID,
	})
}

// PeerOnline tells whether the other participant has the conversation open.
func (s *Service) PeerOnline(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[h.Conversation.ID]
	if !ok {
		return false
	}
	_, online := r.online[h.PeerID]
	return online
}

// History returns the conversation log in append order.
func (s *Service) History(ctx context.Context, h *Handle) ([]chat.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.listUC.Execute(ctx, usecase.GetMessageInput{ConversationID: h.Conversation.ID})
}

// Send persists content from the handle's user to recipientID and pushes it to
// the recipient if reachable. An offline recipient is not an error.
func (s *Service) Send(ctx context.Context, h *Handle, recipientID string, content string) (*chat.Message, error) {
	if !s.isOpen(h) {
		return nil, ErrClosedHandle
	}
	msg, err := s.deliver(ctx, h.Conversation.ID, h.UserID, recipientID, content)
	if err != nil {
		return nil, err
	}
	s.clearTyping(h.Conversation.ID, h.UserID, h.PeerID)
	return msg, nil
}

// SendDetached is Send for callers without a live connection (REST, queued tasks).
// The persisted message is also echoed to the sender's live connection, if any.
func (s *Service) SendDetached(ctx context.Context, conversationID, senderID, recipientID, content string) (*chat.Message, error) {
	msg, err := s.deliver(ctx, conversationID, senderID, recipientID, content)
	if err != nil {
		return nil, err
	}
	s.push(senderID, protocol.NewMessageEvent(*msg, ""))
	return msg, nil
}

func (s *Service) deliver(ctx context.Context, conversationID, senderID, recipientID, content string) (*chat.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	msg, err := s.sendUC.Execute(ctx, usecase.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
	})
	if err != nil {
		return nil, err
	}

	delivery := s.push(recipientID, protocol.NewMessageEvent(*msg, ""))
	metrics.MessagesSent.WithLabelValues(delivery).Inc()
	s.logger.Debug("message sent",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", msg.ID),
		zap.String("delivery", delivery))
	return msg, nil
}

// MarkRead flags the counterpart's messages up to and including upToMessageID
// and sends a read receipt when anything changed. Idempotent.
func (s *Service) MarkRead(ctx context.Context, h *Handle, upToMessageID string) (int64, error) {
	return s.markRead(ctx, h.Conversation.ID, h.UserID, h.PeerID, upToMessageID)
}

// MarkReadDetached is MarkRead for callers without a live connection.
func (s *Service) MarkReadDetached(ctx context.Context, conversationID, readerID, upToMessageID string) (int64, error) {
	jctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	conv, err := s.joinUC.Execute(jctx, usecase.JoinConversationInput{ConversationID: conversationID, UserID: readerID})
	cancel()
	if err != nil {
		return 0, err
	}
	peer, _ := conv.Counterpart(readerID)
	return s.markRead(ctx, conversationID, readerID, peer, upToMessageID)
}

func (s *Service) markRead(ctx context.Context, conversationID, readerID, peerID, upToMessageID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	changed, err := s.markReadUC.Execute(ctx, usecase.MarkReadInput{
		ConversationID: conversationID,
		ReaderID:       readerID,
		UpToMessageID:  upToMessageID,
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.push(peerID, protocol.ReadEvent{
			Type:           protocol.TypeRead,
			ConversationID: conversationID,
			ReaderID:       readerID,
			UpToMessageID:  upToMessageID,
		})
	}
	return changed, nil
}

// NotifyTyping marks the user as typing and (re)arms the expiry timer. The peer
// hears isTyping=true only on the transition, and isTyping=false when the timer
// fires without a refresh.
func (s *Service) NotifyTyping(h *Handle) error {
	convID, userID := h.Conversation.ID, h.UserID

	s.mu.Lock()
	r, ok := s.rooms[convID]
	if !ok || r.online[userID] != h.ConnID {
		s.mu.Unlock()
		return ErrClosedHandle
	}
	prev, wasTyping := r.typing[userID]
	if wasTyping {
		prev.timer.Stop()
	}
	st := &typingState{}
	st.timer = time.AfterFunc(s.cfg.TypingExpiry, func() { s.expireTyping(convID, userID, h.PeerID, st) })
	r.typing[userID] = st
	s.mu.Unlock()

	if !wasTyping {
		s.push(h.PeerID, protocol.TypingStatusEvent{Type: protocol.TypeTypingStatus, ConversationID: convID, UserID: userID, IsTyping: true})
	}
	return nil
}

// NotifyStopTyping clears the typing state. No-op when the user was not typing.
func (s *Service) NotifyStopTyping(h *Handle) error {
	if !s.isOpen(h) {
		return ErrClosedHandle
	}
	s.clearTyping(h.Conversation.ID, h.UserID, h.PeerID)
	return nil
}

func (s *Service) expireTyping(convID, userID, peerID string, st *typingState) {
	s.mu.Lock()
	r, ok := s.rooms[convID]
	if !ok || r.typing[userID] != st {
		s.mu.Unlock()
		return
	}
	delete(r.typing, userID)
	s.gcLocked(convID)
	s.mu.Unlock()

	s.push(peerID, protocol.TypingStatusEvent{Type: protocol.TypeTypingStatus, ConversationID: convID, UserID: userID, IsTyping: false})
}

// clearTyping stops a pending typing timer and tells the peer if one was set.
func (s *Service) clearTyping(convID, userID, peerID string) {
	s.mu.Lock()
	r, ok := s.rooms[convID]
	if !ok {
		s.mu.Unlock()
		return
	}
	st, typing := r.typing[userID]
	if typing {
		st.timer.Stop()
		delete(r.typing, userID)
	}
	s.gcLocked(convID)
	s.mu.Unlock()

	if typing {
		s.push(peerID, protocol.TypingStatusEvent{Type: protocol.TypeTypingStatus, ConversationID: convID, UserID: userID, IsTyping: false})
	}
}

// Close marks the user offline in the conversation, tells the peer and releases
// the typing timer. A handle superseded by a newer connection closes silently.
func (s *Service) Close(h *Handle) {
	if h == nil {
		return
	}
	convID := h.Conversation.ID

	s.mu.Lock()
	r, ok := s.rooms[convID]
	current := ok && r.online[h.UserID] == h.ConnID
	if current {
		delete(r.online, h.UserID)
		if st, typing := r.typing[h.UserID]; typing {
			st.timer.Stop()
			delete(r.typing, h.UserID)
		}
		s.gcLocked(convID)
	}
	s.mu.Unlock()

	if !current {
		return
	}
	s.push(h.PeerID, protocol.PresenceEvent{Type: protocol.TypePresence, ConversationID: convID, UserID: h.UserID, IsOnline: false})
	s.recordLastSeen(h.UserID)
}

// LastSeen returns when the user last closed a conversation, if recorded.
func (s *Service) LastSeen(ctx context.Context, userID string) (time.Time, bool) {
	if s.cache == nil {
		return time.Time{}, false
	}
	v, err := s.cache.Get(ctx, cacheport.LastSeenKey(userID))
	if err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (s *Service) recordLastSeen(userID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, cacheport.LastSeenKey(userID), s.nowFn().UTC().Format(time.RFC3339Nano), lastSeenTTL); err != nil {
		s.logger.Warn("last seen write failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) isOpen(h *Handle) bool {
	if h == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[h.Conversation.ID]
	return ok && r.online[h.UserID] == h.ConnID
}

func (s *Service) roomLocked(convID string) *room {
	r, ok := s.rooms[convID]
	if !ok {
		r = &room{online: make(map[string]string), typing: make(map[string]*typingState)}
		s.rooms[convID] = r
	}
	return r
}

func (s *Service) gcLocked(convID string) {
	r, ok := s.rooms[convID]
	if ok && len(r.online) == 0 && len(r.typing) == 0 {
		delete(s.rooms, convID)
	}
}

// push encodes and delivers an event, returning the delivery outcome.
func (s *Service) push(userID string, event any) string {
	if s.notifier == nil || userID == "" {
		return metrics.DeliveryDeferred
	}
	payload, err := protocol.Encode(event)
	if err != nil {
		s.logger.Error("encode event", zap.Error(fmt.Errorf("session: %w", err)))
		return metrics.DeliveryDeferred
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	return s.notifier.Deliver(ctx, userID, payload)
}
