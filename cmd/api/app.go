package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	routerv1 "go-leadchat/cmd/api/router/v1"
	cacheadapter "go-leadchat/internal/infrastructure/cache/adapter"
	cacheport "go-leadchat/internal/infrastructure/cache/port"
	"go-leadchat/internal/infrastructure/config"
	"go-leadchat/internal/infrastructure/database"
	"go-leadchat/internal/infrastructure/pubsub"
	queueadapter "go-leadchat/internal/infrastructure/queue/adapter"
	qport "go-leadchat/internal/infrastructure/queue/port"
	"go-leadchat/internal/infrastructure/realtime"
	"go-leadchat/internal/pkg/auth"
	"go-leadchat/internal/pkg/chat/application/session"
	repoadapter "go-leadchat/internal/pkg/chat/persistence/repository/adapter"
	repository "go-leadchat/internal/pkg/chat/persistence/repository/port"
	useradapter "go-leadchat/internal/repository/adapter"
)

// AppFlags are the flag groups shared by serve and worker.
type AppFlags struct {
	Log   *config.LogFlags
	DB    *config.PostgresFlags
	Redis *config.RedisFlags
	Queue *config.QueueFlags
	Chat  *config.ChatFlags
}

func NewAppFlags() *AppFlags {
	return &AppFlags{
		Log:   config.NewLogFlags(),
		DB:    config.NewPostgresFlags(),
		Redis: config.NewRedisFlags(),
		Queue: config.NewQueueFlags(),
		Chat:  config.NewChatFlags(),
	}
}

func (f *AppFlags) Validate() error {
	if err := f.Chat.Validate(); err != nil {
		return err
	}
	if f.Chat.Store == config.StorePostgres && f.DB.DBURL == "" {
		return errors.New("config: --db-url is required with --store=postgres")
	}
	if f.Chat.AuthMode == config.AuthModeToken && f.DB.DBURL == "" {
		return errors.New("config: --db-url is required with --auth-mode=token")
	}
	return nil
}

// app holds the process-wide collaborators.
type app struct {
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redis.Client
	repo       repository.ChatRepository
	cache      cacheport.Cache
	authn      auth.Authenticator
	registry   *realtime.Registry
	dispatcher *realtime.Dispatcher
	bridge     *pubsub.RedisBridge
	queue      qport.Client
	sessions   *session.Service
}

func newApp(ctx context.Context, f *AppFlags, logger *zap.Logger) (_ *app, err error) {
	a := &app{logger: logger, registry: realtime.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if f.DB.DBURL != "" {
		if a.pool, err = database.Connect(ctx, f.DB.DBURL, database.PoolSettings{}); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
	}

	switch f.Chat.Store {
	case config.StorePostgres:
		a.repo = repoadapter.NewPgChatRepository(a.pool)
	default:
		logger.Warn("using in-memory message store; history is lost on restart")
		a.repo = repoadapter.NewMemoryChatRepository()
	}
	a.repo = repoadapter.NewInstrumentedChatRepository(a.repo)

	if f.Redis.RedisURL != "" {
		if a.redis, err = cacheadapter.NewRedisClient(ctx, f.Redis.RedisURL); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.cache = cacheadapter.NewRedisCache(a.redis)
		a.bridge = pubsub.NewRedisBridge(a.redis, f.Chat.NodeID, logger)
		q, err := queueadapter.NewAsynqClient(f.Redis.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("create queue client: %w", err)
		}
		a.queue = q
	} else {
		logger.Warn("no redis configured; cross-node delivery and async sends are disabled")
		a.cache = cacheadapter.NewMemoryCache()
	}

	switch f.Chat.AuthMode {
	case config.AuthModeTrusted:
		logger.Warn("trusted auth mode accepts any user id; do not expose publicly")
		a.authn = auth.TrustedAuthenticator{}
	default:
		a.authn = auth.NewTokenAuthenticator(a.cache, useradapter.NewPgUserRepository(a.pool), logger)
	}

	var bridge realtime.Bridge
	if a.bridge != nil {
		bridge = a.bridge
	}
	a.dispatcher = realtime.NewDispatcher(a.registry, bridge, logger)
	a.sessions = session.NewService(a.repo, a.dispatcher, a.cache, logger, session.Config{
		TypingExpiry: f.Chat.TypingExpiry,
		StoreTimeout: f.Chat.StoreTimeout,
	})
	return a, nil
}

// runBridge delivers events published by other nodes until ctx ends.
func (a *app) runBridge(ctx context.Context) {
	if a.bridge == nil {
		return
	}
	go func() {
		if err := a.bridge.Run(ctx, a.dispatcher.DeliverLocal, nil); err != nil && ctx.Err() == nil {
			a.logger.Error("cross-node bridge stopped", zap.Error(err))
		}
	}()
}

func (a *app) healthChecks() map[string]routerv1.HealthFunc {
	checks := map[string]routerv1.HealthFunc{"cache": a.cache.Ping}
	if a.pool != nil {
		checks["database"] = a.pool.Ping
	}
	return checks
}

func (a *app) Close() {
	a.registry.Close()
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
