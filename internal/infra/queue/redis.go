package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sublead/internal/domain"
)

// RedisConfigChangeQueue реализует очередь событий на базе Redis lists.
type RedisConfigChangeQueue struct {
	client *redis.Client
	key    string
}

// NewRedisConfigChangeQueue создаёт очередь по указанному ключу.
func NewRedisConfigChangeQueue(client *redis.Client, key string) *RedisConfigChangeQueue {
	return &RedisConfigChangeQueue{client: client, key: key}
}

// Enqueue публикует событие в очередь.
func (q *RedisConfigChangeQueue) Enqueue(ctx context.Context, event domain.ConfigChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Pop блокирующе читает событие из очереди.
func (q *RedisConfigChangeQueue) Pop(ctx context.Context) (domain.ConfigChangeEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ConfigChangeEvent{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.ConfigChangeEvent{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.ConfigChangeEvent{}, err
		}
		if len(res) != 2 {
			return domain.ConfigChangeEvent{}, errors.New("redis queue: unexpected response")
		}
		var event domain.ConfigChangeEvent
		if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
			return domain.ConfigChangeEvent{}, fmt.Errorf("decode event: %w", err)
		}
		return event, nil
	}
}

var _ domain.ConfigChangeQueue = (*RedisConfigChangeQueue)(nil)
