package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/edgard/supportrelay/internal/config"
)

// Deliverer receives events read from Redis.
type Deliverer interface {
	Deliver(env Envelope)
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisBridge carries events between processes over a Redis channel. Every
// process publishes to the channel and delivers what it reads back, including
// its own events.
type RedisBridge struct {
	client  redis.UniversalClient
	channel string
	local   Deliverer
	logger  *slog.Logger
}

// NewRedisBridge creates a bridge. local may be nil for publish-only processes.
func NewRedisBridge(client redis.UniversalClient, channel string, local Deliverer, logger *slog.Logger) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logger.With("component", "redis_bridge"),
	}
}

// Publish sends an event to every process. When Redis is unreachable the
// event is delivered locally only.
func (b *RedisBridge) Publish(ctx context.Context, event string, payload any, room string) {
	env, err := NewEnvelope(event, payload, room)
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to encode event", "event", event, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to encode envelope", "event", event, "error", err)
		return
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.WarnContext(ctx, "Redis publish failed, delivering locally", "event", event, "error", err)
		if b.local != nil {
			b.local.Deliver(env)
		}
	}
}

// Run forwards events from Redis to the local hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	if b.local == nil {
		<-ctx.Done()
		return nil
	}

	sub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			b.logger.Warn("Failed to close redis subscription", "error", err)
		}
	}()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.logger.Info("Subscribed to redis channel", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("Ignoring malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			b.local.Deliver(env)
		}
	}
}
