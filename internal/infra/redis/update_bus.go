package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const updatesChannel = "exam:leaderboard:updates"

// UpdateBus relays leaderboard updates between instances over Redis pub/sub.
// Publish goes to Redis; Run feeds every received update into the local hub,
// including ones this instance published.
type UpdateBus struct {
	client *redis.Client
	hub    *app.Hub
	log    *zap.Logger
	ready  chan struct{}
}

func NewUpdateBus(client *redis.Client, hub *app.Hub, log *zap.Logger) *UpdateBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &UpdateBus{client: client, hub: hub, log: log, ready: make(chan struct{})}
}

// Publish implements app.Notifier.
func (b *UpdateBus) Publish(ctx context.Context, update domain.LeaderboardUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	return b.client.Publish(ctx, updatesChannel, payload).Err()
}

// Ready is closed once Run has an active subscription.
func (b *UpdateBus) Ready() <-chan struct{} {
	return b.ready
}

// Run subscribes and relays until ctx is canceled.
func (b *UpdateBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, updatesChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", updatesChannel, err)
	}
	close(b.ready)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var update domain.LeaderboardUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				b.log.Warn("dropping malformed leaderboard update", zap.Error(err))
				continue
			}
			b.hub.Broadcast(update)
		}
	}
}
