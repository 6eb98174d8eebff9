package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	qport "go-leadchat/internal/infrastructure/queue/port"
	"go-leadchat/internal/infrastructure/realtime"
	"go-leadchat/internal/pkg/auth"
	"go-leadchat/internal/pkg/chat/application/session"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
	"go-leadchat/internal/pkg/chat/presentation/controller"
)

// Deps are the collaborators the chat endpoints are built from.
type Deps struct {
	Repo        repository.ChatRepository
	Sessions    *session.Service
	Registry    *realtime.Registry
	Auth        auth.Authenticator
	Queue       qport.Client // nil disables ?async=true
	Logger      *zap.Logger
	IdleTimeout time.Duration
}

// RegisterRoutes binds the chat endpoints under g.
func RegisterRoutes(g *gin.RouterGroup, d Deps) {
	socketCtl := controller.NewChatSocketController(d.Sessions, d.Registry, d.Auth, d.Logger, d.IdleTimeout)
	createCtl := controller.NewCreateChatController(d.Repo)
	getMsgCtl := controller.NewGetMessageController(d.Repo)
	sendMsgCtl := controller.NewSendMessageController(d.Sessions, d.Queue, d.Logger)
	markReadCtl := controller.NewMarkReadController(d.Sessions)
	presenceCtl := controller.NewPresenceController(d.Registry, d.Sessions)

	// GET /api/v1/chat/ws -> websocket gateway; authenticates before upgrading
	g.GET("/chat/ws", socketCtl.Handle())

	authed := g.Group("", controller.RequireUser(d.Auth))

	// POST /api/v1/chat -> get or create the conversation for a job
	authed.POST("/chat", createCtl.Handle())

	// GET /api/v1/chat/:chatId/messages -> ordered history
	authed.GET("/chat/:chatId/messages", getMsgCtl.Handle())

	// POST /api/v1/chat/:chatId/messages -> send; ?async=true defers through the queue
	authed.POST("/chat/:chatId/messages", sendMsgCtl.Handle())

	// POST /api/v1/chat/:chatId/read -> mark read up to a message
	authed.POST("/chat/:chatId/read", markReadCtl.Handle())

	// GET /api/v1/users/:userId/presence -> online on this node + last seen
	authed.GET("/users/:userId/presence", presenceCtl.Handle())
}
