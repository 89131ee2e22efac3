package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "events:user:"

// ChannelFor returns the pub/sub channel carrying ownerID's events.
func ChannelFor(ownerID uuid.UUID) string {
	return channelPrefix + ownerID.String()
}

// RedisPublisher publishes events to Redis so every instance's Hub can relay
// them to its local subscribers.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Notify(ctx context.Context, ownerID uuid.UUID, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := p.client.Publish(ctx, ChannelFor(ownerID), payload).Err(); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Relay subscribes to every owner channel and delivers received events to
// local subscribers until ctx is done.
func (h *Hub) Relay(ctx context.Context, client *redis.Client) error {
	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to event channels: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.relayMessage(ctx, msg)
		}
	}
}

func (h *Hub) relayMessage(ctx context.Context, msg *redis.Message) {
	ownerID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
	if err != nil {
		slog.Warn("ignoring event on malformed channel", "channel", msg.Channel)
		return
	}
	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		slog.Warn("ignoring undecodable event", "channel", msg.Channel, "error", err)
		return
	}
	_ = h.Notify(ctx, ownerID, event)
}

var _ Notifier = (*RedisPublisher)(nil)
