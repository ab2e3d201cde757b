package events

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"

	"tutupkasir/backend/internal/domain"
)

// RedisPublisher broadcasts shift-closed summaries over redis pub/sub so
// consumers outside this process can react.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishShiftClosed(ctx context.Context, summary domain.ShiftSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, ChannelShiftClosed, payload).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
