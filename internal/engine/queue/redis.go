// Package queue carries tasks from the admission side to workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anatolykoptev/go_media/internal/engine"
)

const (
	DefaultKey = "media:tasks"
	// processingSuffix names the list holding tasks popped but not yet started.
	processingSuffix = ":processing"
)

// Handler runs one task. Its error is logged; the task is not redelivered.
type Handler func(ctx context.Context, t engine.Task) error

// RedisQueue is a reliable list queue: BLMOVE pops into a processing list
// and the entry is removed once the handler has taken the task.
type RedisQueue struct {
	rdb         *redis.Client
	key         string
	processing  string
	pollTimeout time.Duration
}

// NewRedisQueue returns a queue on key (DefaultKey when empty).
func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{rdb: rdb, key: key, processing: key + processingSuffix, pollTimeout: 5 * time.Second}
}

// Publish appends t to the queue.
func (q *RedisQueue) Publish(ctx context.Context, t engine.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("publish task %s: %w", t.JobID, err)
	}
	return nil
}

// Consume pops tasks in FIFO order and runs h on each until ctx is done.
func (q *RedisQueue) Consume(ctx context.Context, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := q.rdb.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("queue: pop failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var t engine.Task
		decodeErr := json.Unmarshal([]byte(raw), &t)
		// Ack on start. A worker dying mid-job leaves the job record to
		// expire rather than replaying a half-finished download.
		if err := q.rdb.LRem(ctx, q.processing, 1, raw).Err(); err != nil {
			slog.Warn("queue: ack failed", slog.Any("error", err))
		}
		if decodeErr != nil {
			slog.Error("queue: dropping malformed task", slog.Any("error", decodeErr))
			continue
		}
		if err := h(ctx, t); err != nil {
			slog.Error("queue: task failed", slog.String("job_id", t.JobID), slog.Any("error", err))
		}
	}
}

// Recover moves tasks stranded in the processing list back to the queue.
// Run it once at worker startup before consuming.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Depth returns the number of tasks waiting.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
