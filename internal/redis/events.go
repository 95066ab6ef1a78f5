package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/level-leaderboard/internal/config"
	"github.com/level-leaderboard/internal/domain"
)

// PlayerSink receives player updates read back from the channel
type PlayerSink interface {
	BroadcastPlayerUpdate(player domain.PlayerSummary) bool
}

// EventBus fans player updates out to every service instance over Redis pub/sub
type EventBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewEventBus connects to Redis and verifies the connection
func NewEventBus(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*EventBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewEventBusWithClient(client, cfg.Channel, logger), nil
}

// NewEventBusWithClient wraps an existing client
func NewEventBusWithClient(client *redis.Client, channel string, logger *slog.Logger) *EventBus {
	return &EventBus{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "event_bus", "channel", channel),
	}
}

// NotifyPlayerUpdate publishes a player update
func (b *EventBus) NotifyPlayerUpdate(ctx context.Context, player domain.PlayerSummary) error {
	payload, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("encoding player update: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing player update: %w", err)
	}
	return nil
}

// Listen subscribes to the channel and forwards every update to sink until ctx is done.
// It returns once the subscription is confirmed.
func (b *EventBus) Listen(ctx context.Context, sink PlayerSink) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var player domain.PlayerSummary
				if err := json.Unmarshal([]byte(msg.Payload), &player); err != nil {
					b.logger.Warn("discarding malformed player update", "error", err)
					continue
				}
				sink.BroadcastPlayerUpdate(player)
			}
		}
	}()

	b.logger.Info("listening for player updates")
	return nil
}

// Close waits for listeners to exit and closes the client.
// Cancel the context passed to Listen first.
func (b *EventBus) Close() error {
	b.wg.Wait()
	return b.client.Close()
}
