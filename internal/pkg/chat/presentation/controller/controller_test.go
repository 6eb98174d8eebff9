package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cacheadapter "go-leadchat/internal/infrastructure/cache/adapter"
	queueport "go-leadchat/internal/infrastructure/queue/port"
	"go-leadchat/internal/infrastructure/realtime"
	"go-leadchat/internal/pkg/auth"
	chat "go-leadchat/internal/pkg/chat/application/domain"
	"go-leadchat/internal/pkg/chat/application/session"
	"go-leadchat/internal/pkg/chat/application/task"
	"go-leadchat/internal/pkg/chat/persistence/repository/adapter"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
	"go-leadchat/internal/pkg/chat/protocol"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queueport.Task
	opts  []queueport.EnqueueOption
}

func (q *fakeQueue) Enqueue(_ context.Context, t queueport.Task, opts ...queueport.EnqueueOption) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	q.opts = append(q.opts, opts...)
	return "task-1", nil
}

func (q *fakeQueue) Close() error { return nil }

type testEnv struct {
	engine   *gin.Engine
	server   *httptest.Server
	registry *realtime.Registry
	sessions *session.Service
	queue    *fakeQueue
	conv     *chat.Conversation
}

func newTestEnv(t *testing.T, idle time.Duration) *testEnv {
	return newTestEnvWithRepo(t, idle, adapter.NewMemoryChatRepository(), session.Config{})
}

func newTestEnvWithRepo(t *testing.T, idle time.Duration, repo repository.ChatRepository, cfg session.Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conv, err := repo.GetOrCreateConversation(context.Background(), chat.ConversationKey{JobID: "J123", JobTitle: "Fence", HomeownerID: "H", TradespersonID: "T"})
	require.NoError(t, err)

	registry := realtime.NewRegistry()
	dispatcher := realtime.NewDispatcher(registry, nil, zap.NewNop())
	sessions := session.NewService(repo, dispatcher, cacheadapter.NewMemoryCache(), zap.NewNop(), cfg)
	q := &fakeQueue{}

	authn := auth.TrustedAuthenticator{}
	r := gin.New()
	g := r.Group("/api/v1")
	g.GET("/chat/ws", NewChatSocketController(sessions, registry, authn, zap.NewNop(), idle).Handle())
	authed := g.Group("", RequireUser(authn))
	authed.POST("/chat", NewCreateChatController(repo).Handle())
	authed.GET("/chat/:chatId/messages", NewGetMessageController(repo).Handle())
	authed.POST("/chat/:chatId/messages", NewSendMessageController(sessions, q, zap.NewNop()).Handle())
	authed.POST("/chat/:chatId/read", NewMarkReadController(sessions).Handle())
	authed.GET("/users/:userId/presence", NewPresenceController(registry, sessions).Handle())

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		registry.Close()
		srv.Close()
	})
	return &testEnv{engine: r, server: srv, registry: registry, sessions: sessions, queue: q, conv: conv}
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	h := http.Header{}
	h.Set("X-User-ID", userID)
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/api/v1/chat/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, frame any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(frame))
}

func next(t *testing.T, ws *websocket.Conn) protocol.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev protocol.Event
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

// nextOf skips events until one of type typ arrives.
func nextOf(t *testing.T, ws *websocket.Conn, typ string) protocol.Event {
	t.Helper()
	for {
		if ev := next(t, ws); ev.Type == typ {
			return ev
		}
	}
}

func (e *testEnv) open(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	ws := e.dial(t, userID)
	send(t, ws, protocol.Inbound{Type: protocol.TypeConnect, UserID: userID, ConversationID: e.conv.ID})
	ack := nextOf(t, ws, protocol.TypeConnected)
	require.Equal(t, e.conv.ID, ack.ConversationID)
	return ws
}

func TestGatewayRejectsUnauthenticatedUpgrade(t *testing.T) {
	env := newTestEnv(t, time.Second)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/chat/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayProtocolErrorsKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ws := env.dial(t, "H")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev := next(t, ws)
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.KindProtocolError, ev.Kind)

	send(t, ws, map[string]string{"type": "dance"})
	assert.Equal(t, protocol.KindProtocolError, next(t, ws).Kind)

	send(t, ws, protocol.Inbound{Type: protocol.TypeMessage, RecipientID: "T", Content: "early", ClientID: "c0"})
	ev = next(t, ws)
	assert.Equal(t, protocol.KindNotConnected, ev.Kind)
	assert.Equal(t, "c0", ev.ClientID)

	send(t, ws, protocol.Inbound{Type: protocol.TypeConnect, UserID: "H", ConversationID: env.conv.ID})
	ack := nextOf(t, ws, protocol.TypeConnected)
	assert.Equal(t, "T", ack.PeerID)
	assert.False(t, ack.PeerOnline)
	assert.Empty(t, ack.Messages)

	send(t, ws, protocol.Inbound{Type: protocol.TypeConnect, UserID: "H", ConversationID: env.conv.ID})
	assert.Equal(t, protocol.KindProtocolError, next(t, ws).Kind)

	send(t, ws, protocol.Inbound{Type: protocol.TypeMessage, RecipientID: "T", Content: "   ", ClientID: "c1"})
	ev = next(t, ws)
	assert.Equal(t, protocol.KindEmptyMessage, ev.Kind)
	assert.Equal(t, "c1", ev.ClientID)

	send(t, ws, protocol.Inbound{Type: protocol.TypeMessage, RecipientID: "T", Content: "still here", ClientID: "c2"})
	echo := next(t, ws)
	assert.Equal(t, protocol.TypeMessage, echo.Type)
	assert.Equal(t, "c2", echo.ClientID)
	assert.Equal(t, "still here", echo.Content)
}

func TestGatewayNotParticipantStaysConnecting(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ws := env.dial(t, "X")

	send(t, ws, protocol.Inbound{Type: protocol.TypeConnect, UserID: "X", ConversationID: env.conv.ID})
	assert.Equal(t, protocol.KindNotAParticipant, next(t, ws).Kind)
	assert.False(t, env.registry.IsOnline("X"))

	send(t, ws, protocol.Inbound{Type: protocol.TypeConnect, UserID: "X", JobID: "J9", Role: "homeowner", OtherUserID: "T"})
	ack := nextOf(t, ws, protocol.TypeConnected)
	assert.NotEqual(t, env.conv.ID, ack.ConversationID)
	assert.Equal(t, "T", ack.PeerID)
	assert.True(t, env.registry.IsOnline("X"))
}

func TestGatewayIdentityMismatchCloses(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ws := env.dial(t, "T")

	send(t, ws, protocol.Inbound{Type: protocol.TypeConnect, UserID: "H", ConversationID: env.conv.ID})
	assert.Equal(t, protocol.KindAuthenticationFailed, next(t, ws).Kind)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestGatewayRelaysBetweenParticipants(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	h := env.open(t, "H")
	tp := env.open(t, "T")

	presence := nextOf(t, h, protocol.TypePresence)
	assert.Equal(t, "T", presence.UserID)
	assert.True(t, presence.IsOnline)

	send(t, tp, protocol.Inbound{Type: protocol.TypeTyping})
	typing := nextOf(t, h, protocol.TypeTypingStatus)
	assert.True(t, typing.IsTyping)
	assert.Equal(t, "T", typing.UserID)

	send(t, tp, protocol.Inbound{Type: protocol.TypeMessage, RecipientID: "H", Content: "Tuesday works", ClientID: "k"})
	echo := nextOf(t, tp, protocol.TypeMessage)
	assert.Equal(t, "k", echo.ClientID)

	msg := nextOf(t, h, protocol.TypeMessage)
	assert.Equal(t, echo.ID, msg.ID)
	assert.Empty(t, msg.ClientID)
	// A sent message ends the sender's typing state.
	stopped := nextOf(t, h, protocol.TypeTypingStatus)
	assert.False(t, stopped.IsTyping)

	send(t, h, protocol.Inbound{Type: protocol.TypeMarkRead, UpToMessageID: msg.ID})
	receipt := nextOf(t, tp, protocol.TypeRead)
	assert.Equal(t, "H", receipt.ReaderID)
	assert.Equal(t, msg.ID, receipt.UpToMessageID)

	require.NoError(t, tp.Close())
	offline := nextOf(t, h, protocol.TypePresence)
	assert.Equal(t, "T", offline.UserID)
	assert.False(t, offline.IsOnline)
	require.Eventually(t, func() bool { return !env.registry.IsOnline("T") }, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayClosesIdleConnection(t *testing.T) {
	env := newTestEnv(t, 150*time.Millisecond)
	ws := env.open(t, "H")
	require.True(t, env.registry.IsOnline("H"))

	// The client never answers pings because nothing reads until the deadline.
	time.Sleep(400 * time.Millisecond)
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return !env.registry.IsOnline("H") }, 2*time.Second, 10*time.Millisecond)
}

func doJSON(t *testing.T, env *testEnv, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	return rec
}

func TestRESTCreateChatIsIdempotent(t *testing.T) {
	env := newTestEnv(t, time.Second)
	body := map[string]string{"jobId": "J123", "jobTitle": "Fence", "homeownerId": "H", "tradespersonId": "T"}

	first := doJSON(t, env, http.MethodPost, "/api/v1/chat", "H", body)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	var conv conversationResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &conv))
	assert.Equal(t, env.conv.ID, conv.ID)

	second := doJSON(t, env, http.MethodPost, "/api/v1/chat", "T", body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	assert.Equal(t, http.StatusForbidden, doJSON(t, env, http.MethodPost, "/api/v1/chat", "X", body).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, env, http.MethodPost, "/api/v1/chat", "", body).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, env, http.MethodPost, "/api/v1/chat", "H", map[string]string{"jobId": "J"}).Code)
}

func TestRESTSendListAndMarkRead(t *testing.T) {
	env := newTestEnv(t, time.Second)
	base := "/api/v1/chat/" + env.conv.ID

	rec := doJSON(t, env, http.MethodPost, base+"/messages", "T", map[string]string{"recipientId": "H", "content": "Can you do Tuesday?", "clientId": "r1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sent protocol.MessageEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sent))
	assert.Equal(t, "r1", sent.ClientID)
	assert.False(t, sent.Read)

	blank := doJSON(t, env, http.MethodPost, base+"/messages", "T", map[string]string{"recipientId": "H", "content": "   "})
	assert.Equal(t, http.StatusBadRequest, blank.Code)
	assert.Contains(t, blank.Body.String(), protocol.KindEmptyMessage)

	assert.Equal(t, http.StatusForbidden, doJSON(t, env, http.MethodGet, base+"/messages", "X", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, env, http.MethodGet, "/api/v1/chat/nope/messages", "H", nil).Code)

	rec = doJSON(t, env, http.MethodPost, base+"/read", "H", map[string]string{"upToMessageId": sent.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"updated":1}`, rec.Body.String())

	rec = doJSON(t, env, http.MethodGet, base+"/messages", "H", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Messages []protocol.MessageEvent `json:"messages"`
		Count    int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.Count)
	assert.Equal(t, sent.ID, page.Messages[0].ID)
	assert.True(t, page.Messages[0].Read)
}

func TestRESTAsyncSendEnqueues(t *testing.T) {
	env := newTestEnv(t, time.Second)
	rec := doJSON(t, env, http.MethodPost, "/api/v1/chat/"+env.conv.ID+"/messages?async=true", "H",
		map[string]string{"recipientId": "T", "content": "later", "clientId": "q1"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, env.queue.tasks, 1)
	assert.Equal(t, task.SendMessageTaskType, env.queue.tasks[0].Type)
	var p task.SendMessageTaskPayload
	require.NoError(t, json.Unmarshal(env.queue.tasks[0].Payload, &p))
	assert.Equal(t, task.SendMessageTaskPayload{ConversationID: env.conv.ID, SenderID: "H", RecipientID: "T", Content: "later", ClientID: "q1"}, p)
	assert.Equal(t, task.SendMessageQueue, env.queue.opts[0].Queue)
}

func TestRESTPresence(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)

	rec := doJSON(t, env, http.MethodGet, "/api/v1/users/H/presence", "T", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"H","isOnline":false}`, rec.Body.String())

	ws := env.open(t, "H")
	rec = doJSON(t, env, http.MethodGet, "/api/v1/users/H/presence", "T", nil)
	assert.Contains(t, rec.Body.String(), `"isOnline":true`)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		rec := doJSON(t, env, http.MethodGet, "/api/v1/users/H/presence", "T", nil)
		return strings.Contains(rec.Body.String(), `"isOnline":false`) && strings.Contains(rec.Body.String(), "lastSeen")
	}, 2*time.Second, 10*time.Millisecond)
}

type historyDownRepo struct {
	repository.ChatRepository
}

func (historyDownRepo) ListMessages(context.Context, string, int, int) ([]chat.Message, error) {
	return nil, errors.New("connection refused")
}

// stalledAppendRepo never finishes an append before the caller's deadline.
type stalledAppendRepo struct {
	repository.ChatRepository
}

func (stalledAppendRepo) AppendMessage(ctx context.Context, _ chat.Message) (*chat.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGatewayHistoryFailureStillOpens(t *testing.T) {
	env := newTestEnvWithRepo(t, 5*time.Second, historyDownRepo{adapter.NewMemoryChatRepository()}, session.Config{})
	peer := env.open(t, "T")

	ws := env.dial(t, "H")
	send(t, ws, protocol.Inbound{Type: protocol.TypeConnect, UserID: "H", ConversationID: env.conv.ID})
	ack := nextOf(t, ws, protocol.TypeConnected)
	assert.Equal(t, protocol.KindStoreUnavailable, ack.HistoryError)
	assert.Empty(t, ack.Messages)
	assert.True(t, ack.PeerOnline)
	assert.True(t, env.registry.IsOnline("H"))

	ev := nextOf(t, peer, protocol.TypePresence)
	assert.Equal(t, "H", ev.UserID)
	assert.True(t, ev.IsOnline)

	send(t, ws, protocol.Inbound{Type: protocol.TypeMessage, RecipientID: "T", Content: "hello", ClientID: "c1"})
	echo := nextOf(t, ws, protocol.TypeMessage)
	assert.Equal(t, "c1", echo.ClientID)
	assert.Equal(t, "hello", nextOf(t, peer, protocol.TypeMessage).Content)
}

func TestGatewayStoreTimeoutKeepsConnectionOpen(t *testing.T) {
	repo := stalledAppendRepo{adapter.NewMemoryChatRepository()}
	env := newTestEnvWithRepo(t, 5*time.Second, repo, session.Config{StoreTimeout: 50 * time.Millisecond})
	ws := env.open(t, "H")

	send(t, ws, protocol.Inbound{Type: protocol.TypeMessage, RecipientID: "T", Content: "slow", ClientID: "c1"})
	ev := next(t, ws)
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.KindStoreTimeout, ev.Kind)
	assert.Equal(t, "c1", ev.ClientID)
	assert.True(t, env.registry.IsOnline("H"))

	// Still bound to the conversation: a second connect is a protocol error.
	send(t, ws, protocol.Inbound{Type: protocol.TypeConnect, UserID: "H", ConversationID: env.conv.ID})
	assert.Equal(t, protocol.KindProtocolError, next(t, ws).Kind)
}
