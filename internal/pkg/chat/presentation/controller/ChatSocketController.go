package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"go-leadchat/internal/infrastructure/metrics"
	"go-leadchat/internal/infrastructure/realtime"
	"go-leadchat/internal/pkg/auth"
	chat "go-leadchat/internal/pkg/chat/application/domain"
	"go-leadchat/internal/pkg/chat/application/session"
	"go-leadchat/internal/pkg/chat/protocol"
)

const (
	defaultIdleTimeout = 60 * time.Second
	maxFrameBytes      = 64 << 10
	drainWait          = 2 * time.Second
)

type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	}
	return "closed"
}

// ChatSocketController terminates websocket connections, authenticates them and
// translates frames into session calls.
type ChatSocketController struct {
	sessions    *session.Service
	registry    *realtime.Registry
	authn       auth.Authenticator
	logger      *zap.Logger
	idleTimeout time.Duration
	upgrader    websocket.Upgrader
}

func NewChatSocketController(sessions *session.Service, registry *realtime.Registry, authn auth.Authenticator, logger *zap.Logger, idleTimeout time.Duration) *ChatSocketController {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatSocketController{
		sessions:    sessions,
		registry:    registry,
		authn:       authn,
		logger:      logger,
		idleTimeout: idleTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from other origins; the credential check
			// above is what guards the endpoint.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates the request, upgrades it and serves frames until the
// socket closes. Cleanup runs on every exit path.
func (ctl *ChatSocketController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := ctl.authn.ResolveUserID(c.Request.Context(), ctl.authn.Credential(c.Request))
		if err != nil {
			kind, status, detail := classify(err)
			metrics.GatewayErrors.WithLabelValues(kind).Inc()
			c.JSON(status, gin.H{"kind": kind, "error": detail})
			return
		}

		ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			ctl.logger.Debug("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
			return
		}

		conn := realtime.NewConnection(userID, ws, ctl.idleTimeout/2)
		conn.Start()

		sc := &socketConn{
			ctl:    ctl,
			ws:     ws,
			conn:   conn,
			userID: userID,
			logger: ctl.logger.With(zap.String("user_id", userID), zap.String("conn_id", conn.ID)),
		}
		defer sc.cleanup()
		sc.serve(c.Request.Context())
	}
}

// socketConn is the per-connection state driven by a single receive loop.
type socketConn struct {
	ctl    *ChatSocketController
	ws     *websocket.Conn
	conn   *realtime.Connection
	userID string
	state  connState
	handle *session.Handle
	logger *zap.Logger
}

func (sc *socketConn) serve(ctx context.Context) {
	sc.ws.SetReadLimit(maxFrameBytes)
	sc.extendDeadline()
	sc.ws.SetPongHandler(func(string) error {
		sc.extendDeadline()
		return nil
	})

	for sc.state != stateClosed {
		_, data, err := sc.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, realtime.CloseSessionReplaced) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				sc.logger.Debug("read loop ended", zap.Stringer("state", sc.state), zap.Error(err))
			}
			return
		}
		sc.extendDeadline()

		in, err := protocol.DecodeInbound(data)
		if err != nil {
			sc.logger.Info("rejected frame", zap.Error(err))
			sc.replyError(err, in.ClientID)
			continue
		}
		sc.dispatch(ctx, in)
	}
}

func (sc *socketConn) dispatch(ctx context.Context, in protocol.Inbound) {
	if in.Type == protocol.TypeConnect {
		sc.handleConnect(ctx, in)
		return
	}
	if sc.state != stateOpen {
		sc.replyError(session.ErrClosedHandle, in.ClientID)
		return
	}

	var err error
	switch in.Type {
	case protocol.TypeMessage:
		err = sc.handleMessage(ctx, in)
	case protocol.TypeTyping:
		err = sc.ctl.sessions.NotifyTyping(sc.handle)
	case protocol.TypeStopTyping:
		err = sc.ctl.sessions.NotifyStopTyping(sc.handle)
	case protocol.TypeMarkRead:
		_, err = sc.ctl.sessions.MarkRead(ctx, sc.handle, in.UpToMessageID)
	}
	if err != nil {
		sc.replyError(err, in.ClientID)
	}
}

func (sc *socketConn) handleConnect(ctx context.Context, in protocol.Inbound) {
	if sc.state == stateOpen {
		sc.replyError(fmt.Errorf("%w: connection is already open", protocol.ErrProtocol), "")
		return
	}
	if in.UserID != sc.userID {
		sc.replyError(auth.ErrAuthenticationFailed, "")
		sc.state = stateClosed
		sc.conn.Close(websocket.ClosePolicyViolation, "identity mismatch")
		return
	}

	req := session.OpenRequest{
		ConversationID: in.ConversationID,
		UserID:         sc.userID,
		ConnID:         sc.conn.ID,
		JobID:          in.JobID,
		JobTitle:       in.JobTitle,
		OtherUserID:    in.OtherUserID,
	}
	if in.ConversationID == "" {
		role, err := chat.ParseParticipantRole(in.Role)
		if err != nil {
			sc.replyError(fmt.Errorf("%w: %v", protocol.ErrProtocol, err), "")
			return
		}
		req.Role = role
	}

	h, err := sc.ctl.sessions.Open(ctx, req)
	if err != nil {
		sc.replyError(err, "")
		return
	}
	sc.handle = h
	sc.state = stateOpen
	sc.ctl.registry.Register(sc.userID, sc.conn)

	ack := protocol.ConnectedEvent{
		Type:           protocol.TypeConnected,
		ConversationID: h.Conversation.ID,
		UserID:         h.UserID,
		PeerID:         h.PeerID,
		PeerOnline:     sc.ctl.sessions.PeerOnline(h),
		JobID:          h.Conversation.JobID,
		JobTitle:       h.Conversation.JobTitle,
	}
	history, err := sc.ctl.sessions.History(ctx, h)
	if err != nil {
		// The connection stays open; the client can fetch history over REST.
		kind, _, _ := classify(err)
		metrics.GatewayErrors.WithLabelValues(kind).Inc()
		sc.logger.Warn("history unavailable on connect", zap.String("conversation_id", h.Conversation.ID), zap.String("kind", kind), zap.Error(err))
		ack.HistoryError = kind
	}
	ack.Messages = make([]protocol.MessageEvent, 0, len(history))
	for _, m := range history {
		ack.Messages = append(ack.Messages, protocol.NewMessageEvent(m, ""))
	}
	sc.push(ack)
	sc.logger.Info("conversation opened", zap.String("conversation_id", h.Conversation.ID))
}

func (sc *socketConn) handleMessage(ctx context.Context, in protocol.Inbound) error {
	msg, err := sc.ctl.sessions.Send(ctx, sc.handle, in.RecipientID, in.Content)
	if err != nil {
		return err
	}
	sc.push(protocol.NewMessageEvent(*msg, in.ClientID))
	return nil
}

func (sc *socketConn) replyError(err error, clientID string) {
	kind, _, detail := classify(err)
	metrics.GatewayErrors.WithLabelValues(kind).Inc()
	if kind == protocol.KindStoreUnavailable || kind == protocol.KindStoreTimeout {
		sc.logger.Warn("store failure surfaced to client", zap.String("kind", kind), zap.Error(err))
	}
	sc.push(protocol.ErrorEvent{Type: protocol.TypeError, Kind: kind, Detail: detail, ClientID: clientID})
}

func (sc *socketConn) push(event any) {
	payload, err := protocol.Encode(event)
	if err != nil {
		sc.logger.Error("encode event", zap.Error(err))
		return
	}
	if err := sc.conn.Send(payload); err != nil {
		sc.logger.Debug("push failed", zap.Error(err))
	}
}

func (sc *socketConn) extendDeadline() {
	_ = sc.ws.SetReadDeadline(time.Now().Add(sc.ctl.idleTimeout))
}

func (sc *socketConn) cleanup() {
	sc.state = stateClosed
	if sc.handle != nil {
		sc.ctl.sessions.Close(sc.handle)
	}
	sc.ctl.registry.Unregister(sc.userID, sc.conn)
	sc.conn.Close(websocket.CloseNormalClosure, "session closed")

	select {
	case <-sc.conn.Done():
	case <-time.After(drainWait):
	}
	sc.logger.Debug("connection cleaned up")
}
