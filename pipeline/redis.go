package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPollTimeout = 5 * time.Second
	retryDelay         = time.Second
)

// RedisQueue passes jobs through a Redis list so uploads and analysis can
// run in different processes.
type RedisQueue struct {
	client      redis.Cmdable
	key         string
	pollTimeout time.Duration
}

func NewRedisQueue(client redis.Cmdable, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, pollTimeout: defaultPollTimeout}
}

func (q *RedisQueue) Dispatch(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Requeue puts a popped job back at the consuming end of the list so it is
// the next one taken.
func (q *RedisQueue) Requeue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}

// Consume blocks popping jobs and passing them to handle until ctx is done.
func (q *RedisQueue) Consume(ctx context.Context, handle func(Job)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to pop analysis job", "error", err, "queue", q.key)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		// BRPOP replies with the list name followed by the value.
		if len(res) != 2 {
			slog.Error("Unexpected BRPOP reply", "reply", res)
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			slog.Error("Dropping malformed analysis job", "error", err, "payload", res[1])
			continue
		}
		handle(job)
	}
}
