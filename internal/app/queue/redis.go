package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultListKey = "hosting:deploy_tasks"

// RedisQueue is a Redis-list-backed TaskQueue shared across processes.
type RedisQueue struct {
	client *redis.Client
	key    string
}

var _ TaskQueue = (*RedisQueue)(nil)

// NewRedisQueue creates a queue on the given Redis client. An empty key uses
// the default list name.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = defaultListKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		result, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return Task{}, err
		}
		// BRPop returns [key, value].
		if len(result) != 2 {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			return Task{}, err
		}
		return task, nil
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
