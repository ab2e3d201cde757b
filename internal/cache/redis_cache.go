package cache

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisResetSignal struct {
	client *redis.Client
}

func NewRedisResetSignal(addr string, password string, db int) *RedisResetSignal {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisResetSignal{client: client}
}

func NewRedisResetSignalFromClient(client *redis.Client) *RedisResetSignal {
	return &RedisResetSignal{client: client}
}

func (c *RedisResetSignal) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisResetSignal) Close() error {
	return c.client.Close()
}

func signalKey(tenantID string, locationID string) string {
	return fmt.Sprintf("reset:inprogress:%s:%s", tenantID, locationID)
}

func (c *RedisResetSignal) SetInProgress(ctx context.Context, tenantID string, locationID string, ttl time.Duration) error {
	return c.client.Set(ctx, signalKey(tenantID, locationID), "1", ttl).Err()
}

func (c *RedisResetSignal) ClearInProgress(ctx context.Context, tenantID string, locationID string) error {
	return c.client.Del(ctx, signalKey(tenantID, locationID)).Err()
}

func (c *RedisResetSignal) InProgress(ctx context.Context, tenantID string, locationID string) (bool, error) {
	n, err := c.client.Exists(ctx, signalKey(tenantID, locationID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
