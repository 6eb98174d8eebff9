package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	AuthModeToken   = "token"
	AuthModeTrusted = "trusted"
)

// LogFlags configures the process logger.
type LogFlags struct {
	Level  string
	Format string
}

func NewLogFlags() *LogFlags {
	return &LogFlags{}
}

func (f *LogFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Level, "log-level", envString("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	fs.StringVar(&f.Format, "log-format", envString("LOG_FORMAT", "json"), "Log format (json, console)")
}

// PostgresFlags holds the message store connection settings.
type PostgresFlags struct {
	DBURL string
}

func NewPostgresFlags() *PostgresFlags {
	return &PostgresFlags{}
}

func (f *PostgresFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.DBURL, "db-url", envString("DB_URL", ""), "Postgres DSN for the message store")
}

// RedisFlags holds the cache, pub/sub and queue backend settings.
type RedisFlags struct {
	RedisURL string
}

func NewRedisFlags() *RedisFlags {
	return &RedisFlags{}
}

func (f *RedisFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.RedisURL, "redis-url", envString("REDIS_URL", ""), "Redis URL for cache, cross-node delivery and the task queue")
}

// QueueFlags configures the asynq worker.
type QueueFlags struct {
	Concurrency int
	Queues      string
}

func NewQueueFlags() *QueueFlags {
	return &QueueFlags{}
}

func (f *QueueFlags) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&f.Concurrency, "concurrency", envInt("ASYNQ_CONCURRENCY", 10), "Worker concurrency")
	fs.StringVar(&f.Queues, "queues", envString("ASYNQ_QUEUES", "default=1,chat=1"), "Queue weights, e.g. critical=6,default=3")
}

// ChatFlags holds the realtime gateway and session settings.
type ChatFlags struct {
	ListenAddr   string
	NodeID       string
	Store        string
	AuthMode     string
	TypingExpiry time.Duration
	IdleTimeout  time.Duration
	StoreTimeout time.Duration
	InlineWorker bool
}

func NewChatFlags() *ChatFlags {
	return &ChatFlags{}
}

func (f *ChatFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.ListenAddr, "listen-addr", envString("LISTEN_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&f.NodeID, "node-id", envString("NODE_ID", uuid.NewString()), "Identifier of this node for cross-node delivery")
	fs.StringVar(&f.Store, "store", envString("CHAT_STORE", StorePostgres), "Message store backend (postgres, memory)")
	fs.StringVar(&f.AuthMode, "auth-mode", envString("AUTH_MODE", AuthModeToken), "Credential resolution (token, trusted)")
	fs.DurationVar(&f.TypingExpiry, "typing-expiry", envDuration("TYPING_EXPIRY", 5*time.Second), "Typing indicator auto-expiry")
	fs.DurationVar(&f.IdleTimeout, "idle-timeout", envDuration("WS_IDLE_TIMEOUT", 60*time.Second), "Close connections silent for this long")
	fs.DurationVar(&f.StoreTimeout, "store-timeout", envDuration("STORE_TIMEOUT", 5*time.Second), "Deadline for a single message store operation")
	fs.BoolVar(&f.InlineWorker, "inline-worker", false, "Also run the task worker inside the API process")
}

// Validate rejects settings the server cannot start with.
func (f *ChatFlags) Validate() error {
	switch f.Store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("config: unknown store %q", f.Store)
	}
	switch f.AuthMode {
	case AuthModeToken, AuthModeTrusted:
	default:
		return fmt.Errorf("config: unknown auth mode %q", f.AuthMode)
	}
	if f.TypingExpiry <= 0 || f.IdleTimeout <= 0 || f.StoreTimeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	return nil
}
