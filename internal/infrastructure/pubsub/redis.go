package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-leadchat/internal/infrastructure/realtime"
)

const channelPrefix = "leadchat:user:"

// envelope is what travels over Redis; Origin lets a node skip its own publishes.
type envelope struct {
	Origin  string          `json:"origin"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// DeliverFunc hands a payload received from another node to the local connection.
type DeliverFunc func(userID string, payload []byte) bool

// RedisBridge fans events out to users connected on other nodes using Redis pub/sub.
// Delivery is best effort: messages are already persisted before they are published.
type RedisBridge struct {
	client *redis.Client
	nodeID string
	logger *zap.Logger
}

var _ realtime.Bridge = (*RedisBridge)(nil)

func NewRedisBridge(client *redis.Client, nodeID string, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{client: client, nodeID: nodeID, logger: logger}
}

// Channel is the Redis channel carrying events for userID.
func Channel(userID string) string {
	return channelPrefix + userID
}

// Publish sends payload (a JSON-encoded event) towards userID.
func (b *RedisBridge) Publish(ctx context.Context, userID string, payload []byte) error {
	if !json.Valid(payload) {
		return errors.New("pubsub: payload is not valid JSON")
	}
	data, err := json.Marshal(envelope{Origin: b.nodeID, UserID: userID, Payload: payload})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, Channel(userID), data).Err()
}

// Run subscribes to every user channel and delivers foreign events locally until
// ctx is canceled. ready, if non-nil, is closed once the subscription is active.
func (b *RedisBridge) Run(ctx context.Context, deliver DeliverFunc, ready chan<- struct{}) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg, deliver)
		}
	}
}

func (b *RedisBridge) handle(msg *redis.Message, deliver DeliverFunc) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Warn("dropping malformed cross-node event", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if env.Origin == b.nodeID {
		return
	}
	userID := env.UserID
	if userID == "" {
		userID = strings.TrimPrefix(msg.Channel, channelPrefix)
	}
	if deliver(userID, env.Payload) {
		b.logger.Debug("delivered cross-node event", zap.String("user_id", userID), zap.String("origin", env.Origin))
	}
}
