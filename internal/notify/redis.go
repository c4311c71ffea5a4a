package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/civicaudit/report-server/internal/models"
)

// Channel is the pub/sub channel live clients subscribe to
const Channel = "civic:notifications"

// RedisPublisher publishes each notification as JSON on a Redis channel
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
}

// NewRedisPublisher publishes on Channel
func NewRedisPublisher(rdb redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: Channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ns []models.Notification) error {
	pipe := p.rdb.Pipeline()
	for _, n := range ns {
		payload, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		pipe.Publish(ctx, p.channel, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish notifications: %w", err)
	}
	return nil
}
