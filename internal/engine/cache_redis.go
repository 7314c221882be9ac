package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheEntryPrefix = "media:cache:"
	cacheIndexSet    = "media:cache:index"
)

// RedisCacheIndex keeps each entry in a hash and tracks keys in a set so
// that sweeps do not need SCAN.
type RedisCacheIndex struct {
	rdb *redis.Client
}

// NewRedisCacheIndex returns a CacheIndex backed by rdb.
func NewRedisCacheIndex(rdb *redis.Client) *RedisCacheIndex {
	return &RedisCacheIndex{rdb: rdb}
}

func (r *RedisCacheIndex) Get(ctx context.Context, key string) (*CacheEntry, error) {
	m, err := r.rdb.HGetAll(ctx, cacheEntryPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return decodeEntry(key, m)
}

func (r *RedisCacheIndex) Put(ctx context.Context, e CacheEntry) error {
	hkey := cacheEntryPrefix + e.Key
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, hkey, encodeEntry(e))
		p.HSetNX(ctx, hkey, "access_count", e.AccessCount)
		p.SAdd(ctx, cacheIndexSet, e.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (r *RedisCacheIndex) Touch(ctx context.Context, key string, at time.Time) (*CacheEntry, error) {
	hkey := cacheEntryPrefix + key
	var out *CacheEntry
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, hkey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		var all *redis.MapStringStringCmd
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HIncrBy(ctx, hkey, "access_count", 1)
			p.HSet(ctx, hkey, "last_accessed", at.UnixNano())
			all = p.HGetAll(ctx, hkey)
			return nil
		})
		if err != nil {
			return err
		}
		out, err = decodeEntry(key, all.Val())
		return err
	}, hkey)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RedisCacheIndex) Delete(ctx context.Context, key string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, cacheEntryPrefix+key)
		p.SRem(ctx, cacheIndexSet, key)
		return nil
	})
	return err
}

func (r *RedisCacheIndex) Scan(ctx context.Context, fn func(CacheEntry) error) error {
	keys, err := r.rdb.SMembers(ctx, cacheIndexSet).Result()
	if err != nil {
		return fmt.Errorf("cache scan: %w", err)
	}
	for _, k := range keys {
		e, err := r.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			r.rdb.SRem(ctx, cacheIndexSet, k)
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(*e); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisCacheIndex) Len(ctx context.Context) (int, error) {
	n, err := r.rdb.SCard(ctx, cacheIndexSet).Result()
	return int(n), err
}

// encodeEntry flattens e into hash fields. access_count is written
// separately so that overwrites keep it.
func encodeEntry(e CacheEntry) map[string]any {
	return map[string]any{
		"url":           e.URL,
		"platform":      e.Platform,
		"quality":       string(e.Quality),
		"format":        string(e.Format),
		"blob_key":      e.BlobKey,
		"title":         e.Title,
		"ext":           e.Ext,
		"size":          e.Size,
		"duration":      strconv.FormatFloat(e.Duration, 'f', -1, 64),
		"width":         e.Width,
		"height":        e.Height,
		"created_at":    e.CreatedAt.UnixNano(),
		"last_accessed": e.LastAccessed.UnixNano(),
	}
}

func decodeEntry(key string, m map[string]string) (*CacheEntry, error) {
	if len(m) == 0 || m["blob_key"] == "" {
		return nil, ErrNotFound
	}
	atoi := func(s string) int64 {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	dur, _ := strconv.ParseFloat(m["duration"], 64)
	return &CacheEntry{
		Key:          key,
		URL:          m["url"],
		Platform:     m["platform"],
		Quality:      Quality(m["quality"]),
		Format:       Format(m["format"]),
		BlobKey:      m["blob_key"],
		Title:        m["title"],
		Ext:          m["ext"],
		Size:         atoi(m["size"]),
		Duration:     dur,
		Width:        int(atoi(m["width"])),
		Height:       int(atoi(m["height"])),
		CreatedAt:    time.Unix(0, atoi(m["created_at"])),
		LastAccessed: time.Unix(0, atoi(m["last_accessed"])),
		AccessCount:  atoi(m["access_count"]),
	}, nil
}
