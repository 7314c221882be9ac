package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix     = "media:job:"
	jobChannelPrefix = "media:job:events:"
	maxTxRetries     = 10
)

// RedisRegistry stores jobs as JSON strings with a TTL. Updates run as
// WATCH/MULTI transactions and publish the new state on a per-job channel.
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisRegistry returns a registry whose records expire after ttl.
func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, ttl: ttl, now: time.Now}
}

// JobChannel is the pub/sub channel carrying updates for id.
func JobChannel(id string) string { return jobChannelPrefix + id }

func (r *RedisRegistry) Create(ctx context.Context, spec JobSpec) (*Job, error) {
	j := newJob(spec, r.now())
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	ok, err := r.rdb.SetNX(ctx, jobKeyPrefix+j.ID, data, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("create job: id collision %s", j.ID)
	}
	return j, nil
}

func (r *RedisRegistry) Update(ctx context.Context, id string, u JobUpdate) (*Job, error) {
	key := jobKeyPrefix + id
	var out Job
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var j Job
		if err := json.Unmarshal(data, &j); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		if err := applyUpdate(&j, u, r.now()); err != nil {
			return err
		}
		next, err := json.Marshal(&j)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, next, redis.KeepTTL)
			p.Publish(ctx, JobChannel(id), next)
			return nil
		})
		if err == nil {
			out = j
		}
		return err
	}

	for range maxTxRetries {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			metrics.RegistryConflict.Add(1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return &out, nil
	}
	return nil, fmt.Errorf("update job %s: too many concurrent writers", id)
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*Job, error) {
	data, err := r.rdb.Get(ctx, jobKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, jobKeyPrefix+id).Err()
}
