package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

// AuthEventsPubSubAdapter implements domain.AuthEventPublisher and
// domain.AuthEventSubscriber on a single Redis channel.
type AuthEventsPubSubAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
	channel     string

	mu  sync.Mutex
	sub *redis.PubSub
}

// NewAuthEventsPubSubAdapter creates a new adapter for Redis pub/sub on channel.
func NewAuthEventsPubSubAdapter(redisClient *redis.Client, logger domain.Logger, channel string) *AuthEventsPubSubAdapter {
	return &AuthEventsPubSubAdapter{
		redisClient: redisClient,
		logger:      logger,
		channel:     channel,
	}
}

// PublishAuthStateChange publishes change as JSON.
func (a *AuthEventsPubSubAdapter) PublishAuthStateChange(ctx context.Context, change domain.AuthStateChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		a.logger.Error(ctx, "Failed to marshal AuthStateChange for publishing", "channel", a.channel, "error", err.Error())
		return fmt.Errorf("failed to marshal AuthStateChange: %w", err)
	}

	if err := a.redisClient.Publish(ctx, a.channel, string(payload)).Err(); err != nil {
		a.logger.Error(ctx, "Failed to publish auth state change to Redis", "channel", a.channel, "error", err.Error())
		return fmt.Errorf("failed to publish to Redis channel '%s': %w", a.channel, err)
	}
	a.logger.Debug(ctx, "Published auth state change", "channel", a.channel, "from", change.From.String(), "to", change.To.String())
	return nil
}

// SubscribeAuthStateChanges subscribes to the channel and invokes handler for every message.
// It returns once the subscription is confirmed; delivery happens on a background goroutine
// until Close is called.
func (a *AuthEventsPubSubAdapter) SubscribeAuthStateChanges(ctx context.Context, handler domain.AuthEventHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub != nil {
		return errors.New("already subscribed on this adapter instance")
	}

	sub := a.redisClient.Subscribe(ctx, a.channel)
	// Receive confirms the subscription before messages start flowing.
	if _, err := sub.Receive(ctx); err != nil {
		a.logger.Error(ctx, "Failed to confirm Redis subscription", "channel", a.channel, "error", err.Error())
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to channel '%s': %w", a.channel, err)
	}
	a.sub = sub
	a.logger.Info(ctx, "Subscribed to auth events", "channel", a.channel)

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			var change domain.AuthStateChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				a.logger.Error(ctx, "Failed to unmarshal AuthStateChange from pub/sub",
					"channel", msg.Channel,
					"payload", msg.Payload,
					"error", err.Error(),
				)
				continue
			}
			if err := handler(change); err != nil {
				a.logger.Error(ctx, "Error in AuthEventHandler", "channel", msg.Channel, "error", err.Error())
			}
		}
		a.logger.Info(ctx, "Auth events subscription goroutine ended", "channel", a.channel)
	}()
	return nil
}

// Close closes the active subscription, if any.
func (a *AuthEventsPubSubAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub == nil {
		return nil
	}
	err := a.sub.Close()
	a.sub = nil
	if err != nil {
		return fmt.Errorf("error closing Redis pub/sub: %w", err)
	}
	return nil
}
