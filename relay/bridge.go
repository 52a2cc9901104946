package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// BridgeHandler receives an envelope published by another relay instance.
type BridgeHandler func(sessionID string, raw []byte)

// Bridge fans update envelopes between relay instances so clients of the
// same session can connect to different relays. Payloads stay opaque end
// to end.
type Bridge interface {
	// Start begins delivering remote envelopes to the handler.
	Start(ctx context.Context, handler BridgeHandler) error

	// Publish sends an envelope to every other relay instance.
	Publish(ctx context.Context, sessionID string, raw []byte) error

	// Close closes the bridge.
	Close() error
}

// bridgeEnvelope is the wire format on the Redis channel. Origin lets each
// instance skip its own publications.
type bridgeEnvelope struct {
	Origin  int64           `json:"origin"`
	Session string          `json:"session"`
	Data    json.RawMessage `json:"data"`
}

// RedisBridge implements Bridge over a Redis pub/sub channel shared by all
// relay instances.
type RedisBridge struct {
	// client is the Redis client.
	client *redis.Client

	// channel is the Redis pub/sub channel name.
	channel string

	// origin identifies this instance on the channel.
	origin int64

	// logger is the structured logger.
	logger *zap.Logger

	// pubsub is the active Redis subscription.
	pubsub *redis.PubSub

	// cancel stops the receive loop.
	cancel context.CancelFunc
}

// NewRedisBridge creates a bridge over the given Redis client. The origin
// id must be unique per relay instance (the hub's snowflake node id).
func NewRedisBridge(client *redis.Client, channel string, origin int64, logger *zap.Logger) (*RedisBridge, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if channel == "" {
		channel = "pdfcollab:relay"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBridge{
		client:  client,
		channel: channel,
		origin:  origin,
		logger:  logger,
	}, nil
}

// Start subscribes to the bridge channel and delivers envelopes from other
// instances to the handler.
func (b *RedisBridge) Start(ctx context.Context, handler BridgeHandler) error {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.pubsub = b.client.Subscribe(runCtx, b.channel)

	// Wait for the subscription to be established before returning so no
	// publication from a peer instance is missed during startup.
	if _, err := b.pubsub.Receive(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to bridge channel: %w", err)
	}

	go b.receiveLoop(runCtx, handler)
	return nil
}

// receiveLoop delivers remote envelopes until the context is canceled.
func (b *RedisBridge) receiveLoop(ctx context.Context, handler BridgeHandler) {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("discarding malformed bridge envelope", zap.Error(err))
				continue
			}
			if env.Origin == b.origin {
				continue
			}

			handler(env.Session, env.Data)
		}
	}
}

// Publish sends an envelope to the bridge channel.
func (b *RedisBridge) Publish(ctx context.Context, sessionID string, raw []byte) error {
	env := bridgeEnvelope{
		Origin:  b.origin,
		Session: sessionID,
		Data:    raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode bridge envelope: %w", err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Close stops the receive loop and closes the Redis subscription.
func (b *RedisBridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
